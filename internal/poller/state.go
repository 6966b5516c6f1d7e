package poller

import (
	"strconv"
	"sync"

	"disputable-values-monitor/internal/metrics"
)

// Stream separates cursors that scan the same chain for different events.
type Stream string

const (
	StreamReports    Stream = "reports"
	StreamDisputes   Stream = "disputes"
	StreamGovernance Stream = "governance"
)

type cursorKey struct {
	chainID uint64
	stream  Stream
}

// State holds the last scanned block per (chain, stream). Cursors never move backwards.
type State struct {
	mu      sync.Mutex
	cursors map[cursorKey]uint64
}

// NewState returns an empty cursor set.
func NewState() *State {
	return &State{cursors: make(map[cursorKey]uint64)}
}

// Cursor returns the last scanned block for a stream.
func (s *State) Cursor(chainID uint64, stream Stream) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cursors[cursorKey{chainID, stream}]
	return v, ok
}

// Advance moves a cursor to block unless it is already further along.
func (s *State) Advance(chainID uint64, stream Stream, block uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey{chainID, stream}
	if cur, ok := s.cursors[key]; ok && cur >= block {
		return cur
	}
	s.cursors[key] = block
	metrics.CursorBlock.WithLabelValues(strconv.FormatUint(chainID, 10), string(stream)).Set(float64(block))
	return block
}
