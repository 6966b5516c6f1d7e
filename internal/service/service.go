package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"disputable-values-monitor/internal/alerting"
	"disputable-values-monitor/internal/balance"
	"disputable-values-monitor/internal/decoder"
	"disputable-values-monitor/internal/disputer"
	"disputable-values-monitor/internal/display"
	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/ledger"
	"disputable-values-monitor/internal/liveness"
	"disputable-values-monitor/internal/metrics"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/poller"
	"disputable-values-monitor/internal/query"
	"disputable-values-monitor/internal/scheduler"
	"disputable-values-monitor/internal/storage"
)

// LogPoller returns the logs observed on a target since its last cursor.
type LogPoller interface {
	Poll(ctx context.Context, target poller.Target) []poller.Entry
}

// Decoder turns raw logs into records.
type Decoder interface {
	DecodeReport(chainID uint64, l types.Log) (*oracle.Report, *query.Query, error)
	DecodeDispute(chainID uint64, l types.Log) (*oracle.Dispute, error)
}

// FeedResolver picks the monitoring policy of a query.
type FeedResolver interface {
	Resolve(q *query.Query) (feed.Resolution, error)
}

// Evaluator judges a reported value.
type Evaluator interface {
	Evaluate(ctx context.Context, mf *feed.MonitoredFeed, reported oracle.Value, fc feed.FetchContext) (oracle.Verdict, error)
}

// Alerter delivers alert messages.
type Alerter interface {
	Dispatch(ctx context.Context, msg alerting.Message) []alerting.Outcome
}

// Explorer renders transaction links.
type Explorer interface {
	ExplorerTxURL(chainID uint64, txHash common.Hash) string
}

// Deps are the collaborators of a Service. Nil stores, alerter, submitter and
// writers disable the matching step.
type Deps struct {
	Poller    LogPoller
	Decoder   Decoder
	Resolver  FeedResolver
	Evaluator Evaluator
	Alerter   Alerter
	Explorer  Explorer
	Submitter disputer.Submitter
	Ledger    ledger.Ledger

	Reports  storage.ReportStore
	Disputes storage.DisputeStore
	Alerts   storage.AlertStore
	Locker   storage.AdvisoryLocker

	Window   *display.Window
	Table    io.Writer
	TableCSV io.Writer

	Liveness        *liveness.Tracker
	LivenessChainID uint64
}

// Options tune a Service.
type Options struct {
	Targets      []poller.Target
	SeeAllValues bool
	ManagedFeeds map[common.Hash]struct{}
	// MonitoredReporters limits DISPUTE_AGAINST_REPORTER alerts. Empty means
	// every reporter.
	MonitoredReporters map[common.Address]struct{}
	Dashboards         map[uint64]alerting.Dashboard
	LockKey            int64
}

// Service runs the poll, evaluate, alert and display pipeline.
type Service struct {
	scheduler *scheduler.Scheduler
	deps      Deps
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	cycles   []*balance.Cycle
	balances sync.WaitGroup
	now      func() time.Time
}

// New constructs the monitoring service.
func New(sched *scheduler.Scheduler, deps Deps, opts Options, logger zerolog.Logger) *Service {
	if deps.Window == nil {
		deps.Window = display.NewWindow(display.DefaultCapacity)
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemoryLedger()
	}
	return &Service{
		scheduler: sched,
		deps:      deps,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

// AddBalanceCycles registers cycles launched once per pass.
func (s *Service) AddBalanceCycles(cycles ...*balance.Cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, cycles...)
}

// BalanceAlertFunc returns the callback balance cycles of chainID report through.
func (s *Service) BalanceAlertFunc(chainID uint64) balance.AlertFunc {
	return func(ctx context.Context, a balance.Alert) {
		s.alert(ctx, alerting.BalanceKind(a.Role), chainID, nil, alerting.BalanceAlert(a, chainID))
	}
}

// Run drives passes until ctx is cancelled and waits for balance cycles
// still in flight.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	err := s.scheduler.Run(ctx, s.Pass)
	s.balances.Wait()
	return err
}

// Pass executes one polling cycle.
func (s *Service) Pass(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip pass because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	defer func() { metrics.PassDuration.Observe(time.Since(start).Seconds()) }()

	s.launchBalances(ctx)

	batches, err := s.poll(ctx)
	if err != nil {
		return err
	}

	changed := false
	for i, entries := range batches {
		shown, err := s.Replay(ctx, s.opts.Targets[i].Stream, entries)
		if err != nil {
			return err
		}
		changed = changed || shown > 0
	}

	s.checkLiveness(ctx, at)

	if changed && s.deps.Table != nil {
		if err := s.deps.Window.Render(s.deps.Table); err != nil {
			s.logger.Warn().Err(err).Msg("failed to render report table")
		}
	}
	return nil
}

// Replay processes entries of one stream in order and returns how many
// reports reached the display window.
func (s *Service) Replay(ctx context.Context, stream poller.Stream, entries []poller.Entry) (int, error) {
	shown := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return shown, err
		}
		if s.handle(ctx, stream, e) {
			shown++
		}
	}
	return shown, nil
}

// Render writes the display window to w.
func (s *Service) Render(w io.Writer) error {
	return s.deps.Window.Render(w)
}

func (s *Service) launchBalances(ctx context.Context) {
	s.mu.Lock()
	cycles := append([]*balance.Cycle(nil), s.cycles...)
	s.mu.Unlock()

	for _, c := range cycles {
		s.balances.Add(1)
		go func(c *balance.Cycle) {
			defer s.balances.Done()
			if !c.Run(ctx) {
				s.logger.Debug().Str("role", string(c.Role())).Str("asset", c.Asset()).Msg("balance cycle still running")
			}
		}(c)
	}
}

// poll fetches every target concurrently. Batches keep target order.
func (s *Service) poll(ctx context.Context) ([][]poller.Entry, error) {
	batches := make([][]poller.Entry, len(s.opts.Targets))
	if s.deps.Poller == nil {
		return batches, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range s.opts.Targets {
		i, target := i, target
		g.Go(func() error {
			batches[i] = s.deps.Poller.Poll(gctx, target)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, ctx.Err()
}

// handle processes one log and reports whether the display window changed.
func (s *Service) handle(ctx context.Context, stream poller.Stream, e poller.Entry) bool {
	switch {
	case stream == poller.StreamGovernance || decoder.IsOracleAddressEvent(e.Log):
		s.oracleAddress(ctx, e)
		return false
	case stream == poller.StreamDisputes:
		s.ProcessDispute(ctx, e)
		return false
	default:
		r, err := s.ProcessReport(ctx, e)
		if err != nil {
			s.logger.Warn().Err(err).Uint64("chain_id", e.ChainID).Str("tx", e.Log.TxHash.Hex()).Msg("report skipped")
			return false
		}
		return r != nil
	}
}

func (s *Service) oracleAddress(ctx context.Context, e poller.Entry) {
	link := e.Log.TxHash.Hex()
	if s.deps.Explorer != nil {
		link = s.deps.Explorer.ExplorerTxURL(e.ChainID, e.Log.TxHash)
	}
	s.logger.Info().Uint64("chain_id", e.ChainID).Str("tx", e.Log.TxHash.Hex()).Msg("oracle address event")
	tx := e.Log.TxHash
	s.alert(ctx, alerting.KindOracleAddress, e.ChainID, &tx, alerting.OracleAddressAlert(link))
}

func (s *Service) checkLiveness(ctx context.Context, at time.Time) {
	if s.deps.Liveness == nil {
		return
	}
	chainID := s.deps.LivenessChainID
	for _, ev := range s.deps.Liveness.Check(at) {
		switch ev.Kind {
		case liveness.EventReporterStopped:
			s.alert(ctx, alerting.KindReporterStop, chainID, nil,
				alerting.ReporterStopped(ev.Reporter.Hex(), chainID, ev.Last, ev.Interval))
		case liveness.EventAllStopped:
			s.alert(ctx, alerting.KindAllReportersStop, chainID, nil,
				alerting.AllReportersStopped(chainID, s.deps.Liveness.Len()))
		}
	}
}

// alert dispatches a message and records it for auditing.
func (s *Service) alert(ctx context.Context, kind alerting.Kind, chainID uint64, tx *common.Hash, text string) {
	if s.deps.Alerter == nil {
		s.logger.Info().Str("kind", string(kind)).Msg(text)
		return
	}
	outcomes := s.deps.Alerter.Dispatch(ctx, alerting.Message{Kind: kind, Text: text, Time: s.now().UTC()})
	if len(outcomes) == 0 || s.deps.Alerts == nil {
		return
	}

	record := storage.AlertRecord{Kind: string(kind), ChainID: int64(chainID), Body: text}
	if tx != nil {
		hex := tx.Hex()
		record.TxHash = &hex
	}
	for _, o := range outcomes {
		record.Channels = append(record.Channels, o.Sink)
		if o.Err != nil {
			record.Failed = append(record.Failed, o.Sink)
		}
	}
	if _, err := s.deps.Alerts.InsertAlert(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to persist alert record")
	}
}

func (s *Service) dashboard(chainID uint64) alerting.Dashboard {
	if d, ok := s.opts.Dashboards[chainID]; ok {
		return d
	}
	return alerting.DashboardFor(chainID, "")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
