// Package ledger records which reports already had a dispute submitted so a
// report is disputed at most once, across restarts when Redis backs it.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a claim is remembered. Reports older than the
// dispute window cannot be disputed anyway.
const DefaultTTL = 7 * 24 * time.Hour

// Ledger hands out one claim per key.
type Ledger interface {
	// Claim returns true only for the first caller of key.
	Claim(ctx context.Context, key string) (bool, error)
	Close() error
}

// Key identifies a report for claiming.
func Key(chainID uint64, txHash common.Hash) string {
	return fmt.Sprintf("%d:%s", chainID, txHash.Hex())
}

// MemoryLedger keeps claims for the life of the process.
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

// NewMemoryLedger constructs an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claims: make(map[string]struct{})}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.claims[key]; ok {
		return false, nil
	}
	l.claims[key] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Close() error { return nil }

// RedisLedger stores claims with SETNX so several monitors can share one ledger.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger connects to url and verifies the connection.
func NewRedisLedger(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisLedger, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if prefix == "" {
		prefix = "dvmonitor:dispute:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}, nil
}

func (l *RedisLedger) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ledger setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Close() error { return l.client.Close() }

var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Ledger = (*RedisLedger)(nil)
)
