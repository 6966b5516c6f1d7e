package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"disputable-values-monitor/internal/app"
)

var (
	backfillChain  uint64
	backfillFrom   uint64
	backfillTo     uint64
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay a block range of one chain through the monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillChain == 0 {
			return fmt.Errorf("--chain must be provided")
		}
		if backfillTo == 0 {
			return fmt.Errorf("--to-block must be provided")
		}
		if backfillFrom > backfillTo {
			return fmt.Errorf("--from-block must not be after --to-block")
		}

		opts := app.BackfillOptions{
			ChainID:   backfillChain,
			FromBlock: backfillFrom,
			ToBlock:   backfillTo,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillChain, "chain", 0, "Chain id to replay")
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from-block", 0, "First block (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to-block", 0, "Last block (inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Evaluate only: no storage, alerts or disputes")
}
