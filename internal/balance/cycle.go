// Package balance samples reporter and disputer balances and raises one alert
// per threshold crossing.
package balance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/metrics"
)

// Role names the kind of account being watched.
type Role string

const (
	RoleReporter Role = "reporter"
	RoleDisputer Role = "disputer"
)

// Record is the last sampled balance and whether the current crossing was alerted.
type Record struct {
	Balance   decimal.Decimal
	AlertSent bool
}

// Subject is a watched address. A null threshold disables alerting for it.
type Subject struct {
	Address   common.Address
	Threshold decimal.NullDecimal
}

// Alert describes a balance below its threshold.
type Alert struct {
	Role      Role
	Asset     string
	Address   common.Address
	Balance   decimal.Decimal
	Threshold decimal.Decimal
}

// AlertFunc delivers a balance alert.
type AlertFunc func(ctx context.Context, a Alert)

// Cycle tracks one role's balances of one asset.
type Cycle struct {
	role     Role
	fetcher  Fetcher
	subjects []Subject
	excluded map[common.Address]struct{}
	alert    AlertFunc
	logger   zerolog.Logger

	mu      sync.Mutex
	records map[common.Address]Record

	running        atomic.Bool
	excludedWarned atomic.Bool
}

// NewCycle constructs a cycle. The zero address is always excluded.
func NewCycle(role Role, fetcher Fetcher, subjects []Subject, excluded []common.Address, alert AlertFunc, logger zerolog.Logger) *Cycle {
	ex := map[common.Address]struct{}{{}: {}}
	for _, addr := range excluded {
		ex[addr] = struct{}{}
	}
	return &Cycle{
		role:     role,
		fetcher:  fetcher,
		subjects: subjects,
		excluded: ex,
		alert:    alert,
		records:  make(map[common.Address]Record),
		logger: logger.With().
			Str("component", "balance").
			Str("role", string(role)).
			Str("asset", fetcher.Asset()).
			Logger(),
	}
}

// Run updates balances and then checks thresholds. It returns false without
// doing anything when the previous run of this cycle has not finished.
func (c *Cycle) Run(ctx context.Context) bool {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("previous balance cycle still running")
		return false
	}
	defer c.running.Store(false)

	if err := c.Update(ctx); err != nil {
		c.logger.Error().Err(err).Msg("balance update incomplete")
	}
	c.CheckThresholds(ctx)
	return true
}

// Update samples every subject. A failed fetch leaves that subject's record untouched.
func (c *Cycle) Update(ctx context.Context) error {
	var errs []error
	for _, s := range c.subjects {
		if _, skip := c.excluded[s.Address]; skip {
			if c.excludedWarned.CompareAndSwap(false, true) {
				c.logger.Warn().Str("address", s.Address.Hex()).Msg("address excluded from balance monitoring, check the balances configuration")
			}
			continue
		}

		bal, err := c.fetcher.BalanceOf(ctx, s.Address)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.Balance.WithLabelValues(string(c.role), c.fetcher.Asset(), s.Address.Hex()).Set(bal.InexactFloat64())

		c.mu.Lock()
		prev := c.records[s.Address]
		c.records[s.Address] = Record{Balance: bal, AlertSent: carryAlert(prev, bal, s.Threshold)}
		c.mu.Unlock()
	}
	return errors.Join(errs...)
}

// carryAlert keeps alertSent while the crossing lasts. Without a threshold a
// crossing lasts until the balance changes.
func carryAlert(prev Record, bal decimal.Decimal, threshold decimal.NullDecimal) bool {
	if !prev.AlertSent {
		return false
	}
	if !threshold.Valid {
		return bal.Equal(prev.Balance)
	}
	return bal.LessThan(threshold.Decimal)
}

// CheckThresholds alerts for every subject below its threshold that has not
// been alerted yet, and returns the number of alerts raised.
func (c *Cycle) CheckThresholds(ctx context.Context) int {
	warned := false
	sent := 0
	for _, s := range c.subjects {
		if !s.Threshold.Valid {
			if !warned {
				c.logger.Warn().Str("address", s.Address.Hex()).Msg("balance threshold not configured, skipping alerts")
				warned = true
			}
			continue
		}

		c.mu.Lock()
		rec, ok := c.records[s.Address]
		if !ok || rec.AlertSent || rec.Balance.GreaterThanOrEqual(s.Threshold.Decimal) {
			c.mu.Unlock()
			continue
		}
		rec.AlertSent = true
		c.records[s.Address] = rec
		c.mu.Unlock()

		c.logger.Info().
			Str("address", s.Address.Hex()).
			Str("balance", rec.Balance.String()).
			Str("threshold", s.Threshold.Decimal.String()).
			Msg("balance below threshold")
		if c.alert != nil {
			c.alert(ctx, Alert{
				Role:      c.role,
				Asset:     c.fetcher.Asset(),
				Address:   s.Address,
				Balance:   rec.Balance,
				Threshold: s.Threshold.Decimal,
			})
		}
		sent++
	}
	return sent
}

// Snapshot copies the current records.
func (c *Cycle) Snapshot() map[common.Address]Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[common.Address]Record, len(c.records))
	for k, v := range c.records {
		out[k] = v
	}
	return out
}

// Role returns the watched role.
func (c *Cycle) Role() Role { return c.role }

// Asset returns the watched asset symbol.
func (c *Cycle) Asset() string { return c.fetcher.Asset() }
