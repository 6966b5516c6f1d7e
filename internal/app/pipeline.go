package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"disputable-values-monitor/internal/alerting"
	"disputable-values-monitor/internal/balance"
	"disputable-values-monitor/internal/blocktime"
	"disputable-values-monitor/internal/catalog"
	"disputable-values-monitor/internal/chain"
	"disputable-values-monitor/internal/config"
	"disputable-values-monitor/internal/decoder"
	"disputable-values-monitor/internal/disputer"
	"disputable-values-monitor/internal/display"
	"disputable-values-monitor/internal/evaluator"
	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/ledger"
	"disputable-values-monitor/internal/liveness"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/poller"
	"disputable-values-monitor/internal/scheduler"
	"disputable-values-monitor/internal/service"
	"disputable-values-monitor/internal/storage"
)

type pipelineOptions struct {
	store     *storage.Store
	scheduler *scheduler.Scheduler
	table     io.Writer
	tableCSV  io.Writer
	disputes  bool
	balances  bool
	// silent drops alert delivery; used by dry-run backfills.
	silent bool
}

// pipeline is a fully wired service and the resources it owns.
type pipeline struct {
	service *service.Service
	chains  *chain.Registry
	poller  *poller.Poller
	ledger  ledger.Ledger
}

func (p *pipeline) close() {
	if p.ledger != nil {
		_ = p.ledger.Close()
	}
}

func (a *App) newChains() *chain.Registry {
	opts := make([]chain.EndpointOptions, 0, len(a.Config.Chains))
	for _, ch := range a.Config.Chains {
		opts = append(opts, chain.EndpointOptions{
			ChainID:   ch.ChainID,
			Name:      ch.Name,
			RPCURL:    ch.RPCURL,
			Explorer:  ch.Explorer,
			Timeout:   ch.RequestTimeout,
			RateLimit: ch.RateLimit,
			Burst:     ch.Burst,
		})
	}
	return chain.NewRegistry(opts, nil, a.Logger)
}

func (a *App) newPipeline(ctx context.Context, opts pipelineOptions) (*pipeline, error) {
	chains := a.newChains()

	cat, err := catalog.New(a.Config.Catalog, chains, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	resolver, err := a.newResolver(cat)
	if err != nil {
		return nil, err
	}

	led, err := a.newLedger(ctx)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Decoder:   decoder.New(chains, a.Logger),
		Resolver:  resolver,
		Evaluator: evaluator.New(blocktime.NewResolver(chains), evaluator.Options{RetryAttempts: a.Config.Monitor.RetryAttempts, RetryDelay: a.Config.Monitor.RetryDelay}, a.Logger),
		Explorer:  chains,
		Ledger:    led,
		Window:    display.NewWindow(a.Config.Monitor.DisplayCapacity),
		Table:     opts.table,
		TableCSV:  opts.tableCSV,
	}
	if !opts.silent {
		if d := a.newDispatcher(); d.HasSinks() {
			deps.Alerter = d
		}
	}
	if opts.disputes {
		deps.Submitter = disputer.NewDryRunSubmitter(a.governance(), a.Logger)
	}
	if opts.store != nil {
		deps.Reports = opts.store
		deps.Disputes = opts.store
		deps.Alerts = opts.store
		deps.Locker = opts.store
	}
	if opts.balances && a.Config.Alerting.Liveness && len(a.Config.Balances.Reporters) > 0 {
		deps.Liveness = a.newLiveness()
		deps.LivenessChainID = a.Config.Balances.ChainID
	}

	p := poller.New(chains, poller.NewState(), poller.Options{
		InitialOffset: a.Config.Poller.InitialOffset,
		ReorgMargin:   a.Config.Poller.ReorgMargin,
	}, a.Logger)
	deps.Poller = p

	svc := service.New(opts.scheduler, deps, service.Options{
		Targets:            a.targets(),
		SeeAllValues:       a.Config.Monitor.SeeAllValues,
		ManagedFeeds:       a.managedFeeds(),
		MonitoredReporters: a.monitoredReporters(),
		Dashboards:         a.dashboards(),
		LockKey:            a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	if opts.balances {
		cycles, err := a.balanceCycles(chains, svc.BalanceAlertFunc(a.Config.Balances.ChainID))
		if err != nil {
			_ = led.Close()
			return nil, err
		}
		svc.AddBalanceCycles(cycles...)
	}

	return &pipeline{service: svc, chains: chains, poller: p, ledger: led}, nil
}

func (a *App) newResolver(cat *catalog.Catalog) (*feed.Resolver, error) {
	defaults, err := a.Config.DefaultThreshold()
	if err != nil {
		return nil, err
	}

	configured := make([]feed.Configured, 0, len(a.Config.Monitor.Feeds))
	for i, fc := range a.Config.Monitor.Feeds {
		th, err := fc.Threshold()
		if err != nil {
			return nil, fmt.Errorf("monitor.feeds[%d]: %w", i, err)
		}
		cf := feed.Configured{QueryType: fc.QueryType, Tag: fc.Tag, Threshold: th}
		switch {
		case fc.QueryID != "":
			id := common.HexToHash(fc.QueryID)
			cf.QueryID = &id
		case fc.Tag != "":
			f, ok := cat.LookupFeed(fc.Tag)
			if !ok || f.Query == nil {
				return nil, fmt.Errorf("monitor.feeds[%d]: catalog has no feed tagged %q", i, fc.Tag)
			}
			id := f.Query.ID
			cf.QueryID = &id
			if cf.QueryType == "" {
				cf.QueryType = f.Query.Type
			}
		}
		configured = append(configured, cf)
	}

	return feed.NewResolver(cat, feed.ResolverOptions{
		Configured:       configured,
		DefaultThreshold: defaults,
		AutoTypes:        a.Config.Monitor.AutoTypes,
		DisputeRNG:       a.Config.Monitor.DisputeRNG,
		AlwaysAlert:      a.Config.Monitor.AlwaysAlertTypes,
	}, a.Logger), nil
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	cfg := a.Config.Alerting
	var sinks []alerting.Sink
	if cfg.Enabled {
		if cfg.Telegram.Enabled {
			sinks = append(sinks, alerting.Sink{
				Name:     "telegram",
				Notifier: alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger),
			})
		}
		if cfg.Discord.Enabled {
			for i, hook := range cfg.Discord.Webhooks {
				if hook == "" {
					continue
				}
				sinks = append(sinks, alerting.Sink{
					Name:     fmt.Sprintf("discord_%d", i+1),
					Notifier: alerting.NewDiscordNotifier(hook, cfg.Timeout, a.Logger),
					Required: i == 0,
				})
			}
		}
	}

	// Validate already rejected unknown kinds.
	kinds, _ := alerting.ParseKinds(cfg.Kinds)
	if len(kinds) == 0 {
		kinds = alerting.EnabledKinds(alerting.DefaultLevels())
	}
	return alerting.NewDispatcher(sinks, kinds, a.Config.App.MonitorName, a.Logger)
}

func (a *App) newLedger(ctx context.Context) (ledger.Ledger, error) {
	cfg := a.Config.Ledger
	if cfg.RedisURL == "" {
		return ledger.NewMemoryLedger(), nil
	}
	l, err := ledger.NewRedisLedger(ctx, cfg.RedisURL, cfg.Prefix, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("open dispute ledger: %w", err)
	}
	return l, nil
}

func (a *App) newLiveness() *liveness.Tracker {
	reporters := make([]liveness.Reporter, 0, len(a.Config.Balances.Reporters))
	for _, r := range a.Config.Balances.Reporters {
		reporters = append(reporters, liveness.Reporter{
			Address:  common.HexToAddress(r.Address),
			Interval: r.ReportInterval,
		})
	}
	return liveness.NewTracker(reporters, time.Now())
}

// targets subscribes to reports on every oracle, disputes on governance and
// oracle address changes on the token contract of every chain.
func (a *App) targets() []poller.Target {
	var out []poller.Target
	for _, ch := range a.Config.Chains {
		if oracles := addresses(ch.Oracles); len(oracles) > 0 {
			out = append(out, poller.Target{
				ChainID:   ch.ChainID,
				Addresses: oracles,
				Topics:    [][]common.Hash{{oracle.TopicNewReport}},
				Stream:    poller.StreamReports,
			})
		}
		if ch.Governance != "" {
			out = append(out, poller.Target{
				ChainID:   ch.ChainID,
				Addresses: []common.Address{common.HexToAddress(ch.Governance)},
				Topics:    [][]common.Hash{{oracle.TopicNewDispute}},
				Stream:    poller.StreamDisputes,
			})
		}
		if ch.Token != "" {
			out = append(out, poller.Target{
				ChainID:   ch.ChainID,
				Addresses: []common.Address{common.HexToAddress(ch.Token)},
				Topics:    [][]common.Hash{{oracle.TopicNewOracleAddress, oracle.TopicNewProposedOracleAddress}},
				Stream:    poller.StreamGovernance,
			})
		}
	}
	return out
}

func (a *App) governance() map[uint64]common.Address {
	out := make(map[uint64]common.Address)
	for _, ch := range a.Config.Chains {
		if ch.Governance != "" {
			out[ch.ChainID] = common.HexToAddress(ch.Governance)
		}
	}
	return out
}

func (a *App) dashboards() map[uint64]alerting.Dashboard {
	out := make(map[uint64]alerting.Dashboard, len(a.Config.Chains))
	for _, ch := range a.Config.Chains {
		out[ch.ChainID] = alerting.DashboardFor(ch.ChainID, ch.Dashboard)
	}
	return out
}

func (a *App) managedFeeds() map[common.Hash]struct{} {
	out := make(map[common.Hash]struct{}, len(a.Config.Monitor.ManagedFeeds))
	for _, id := range a.Config.Monitor.ManagedFeeds {
		out[common.HexToHash(id)] = struct{}{}
	}
	return out
}

func (a *App) monitoredReporters() map[common.Address]struct{} {
	out := make(map[common.Address]struct{}, len(a.Config.Balances.Reporters))
	for _, r := range a.Config.Balances.Reporters {
		out[common.HexToAddress(r.Address)] = struct{}{}
	}
	return out
}

// balanceCycles builds one cycle per (role, asset) with at least one subject.
func (a *App) balanceCycles(chains chain.Provider, alert balance.AlertFunc) ([]*balance.Cycle, error) {
	cfg := a.Config.Balances
	if len(cfg.Reporters) == 0 && cfg.Disputer.Address == "" {
		return nil, nil
	}
	ch, ok := a.Config.Chain(cfg.ChainID)
	if !ok {
		return nil, fmt.Errorf("balances.chain_id %d is not a configured chain", cfg.ChainID)
	}

	native := balance.NewNativeFetcher(chains, ch.ChainID, symbolOr(ch.NativeSymbol, "ETH"))
	var token balance.Fetcher
	if ch.Token != "" {
		decimals := ch.TokenDecimals
		if decimals == 0 {
			decimals = 18
		}
		token = balance.NewTokenFetcher(chains, ch.ChainID, common.HexToAddress(ch.Token), symbolOr(ch.TokenSymbol, "FETCH"), decimals)
	}
	excluded := addresses(cfg.Excluded)

	var reporterNative, reporterToken []balance.Subject
	for _, r := range cfg.Reporters {
		n, t, err := subjects(r.Address, r.NativeThreshold, r.TokenThreshold)
		if err != nil {
			return nil, fmt.Errorf("balances.reporters %s: %w", r.Address, err)
		}
		reporterNative = append(reporterNative, n)
		reporterToken = append(reporterToken, t)
	}

	var cycles []*balance.Cycle
	add := func(role balance.Role, f balance.Fetcher, subs []balance.Subject) {
		if f == nil || len(subs) == 0 {
			return
		}
		cycles = append(cycles, balance.NewCycle(role, f, subs, excluded, alert, a.Logger))
	}
	add(balance.RoleReporter, native, reporterNative)
	add(balance.RoleReporter, token, reporterToken)

	if d := cfg.Disputer; d.Address != "" {
		n, t, err := subjects(d.Address, d.NativeThreshold, d.TokenThreshold)
		if err != nil {
			return nil, fmt.Errorf("balances.disputer: %w", err)
		}
		add(balance.RoleDisputer, native, []balance.Subject{n})
		add(balance.RoleDisputer, token, []balance.Subject{t})
	}
	return cycles, nil
}

func subjects(addr, nativeThreshold, tokenThreshold string) (balance.Subject, balance.Subject, error) {
	address := common.HexToAddress(addr)
	n, err := config.ParseThreshold(nativeThreshold)
	if err != nil {
		return balance.Subject{}, balance.Subject{}, err
	}
	t, err := config.ParseThreshold(tokenThreshold)
	if err != nil {
		return balance.Subject{}, balance.Subject{}, err
	}
	return balance.Subject{Address: address, Threshold: n}, balance.Subject{Address: address, Threshold: t}, nil
}

func addresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, common.HexToAddress(s))
		}
	}
	return out
}

func symbolOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
