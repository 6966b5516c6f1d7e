package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"disputable-values-monitor/internal/storage"
)

// Backfill replays a block range of one chain through the pipeline. Cursors
// of the live poller are not touched. Dry runs neither persist, alert nor
// dispute.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if _, ok := a.Config.Chain(opts.ChainID); !ok {
		return fmt.Errorf("chain %d is not configured", opts.ChainID)
	}
	if opts.ToBlock < opts.FromBlock {
		return errors.New("backfill range is empty, check --from-block/--to-block")
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing is persisted, alerted or disputed")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; use --dry-run to backfill without persistence")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	pipe, err := a.newPipeline(ctx, pipelineOptions{
		store:    store,
		disputes: a.Config.Dispute.Enabled && !opts.DryRun,
		silent:   opts.DryRun,
	})
	if err != nil {
		return err
	}
	defer pipe.close()

	processed, failed := 0, 0
	for _, target := range a.targets() {
		if target.ChainID != opts.ChainID {
			continue
		}
		entries, err := pipe.poller.FetchRange(ctx, target, opts.FromBlock, opts.ToBlock)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("stream", string(target.Stream)).Msg("backfill fetch failed")
			continue
		}
		shown, err := pipe.service.Replay(ctx, target.Stream, entries)
		if err != nil {
			return err
		}
		processed += shown
		a.Logger.Info().
			Str("stream", string(target.Stream)).
			Int("logs", len(entries)).
			Int("shown", shown).
			Msg("backfill stream replayed")
	}

	if processed > 0 {
		if err := pipe.service.Render(os.Stdout); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("reports", processed).Int("failed", failed).Uint64("from_block", opts.FromBlock).Uint64("to_block", opts.ToBlock).Msg("backfill finished")
	if failed > 0 {
		return errors.New("some streams failed to backfill, check logs")
	}
	return nil
}
