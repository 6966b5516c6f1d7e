// Package liveness flags watched reporters that stop submitting reports.
package liveness

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultInterval is the silence tolerated before a reporter counts as stopped.
const DefaultInterval = 30 * time.Minute

// Reporter is one watched address and its expected report interval.
type Reporter struct {
	Address  common.Address
	Interval time.Duration
}

// EventKind distinguishes single and collective silence.
type EventKind int

const (
	EventReporterStopped EventKind = iota
	EventAllStopped
)

// Event is one liveness transition.
type Event struct {
	Kind     EventKind
	Reporter common.Address
	Last     time.Time
	Interval time.Duration
}

type reporterState struct {
	interval time.Duration
	last     time.Time
	stopped  bool
}

// Tracker watches the reporters of one chain. Each silence raises one
// EventReporterStopped; once every reporter is silent one EventAllStopped is
// raised. A new report re-arms both.
type Tracker struct {
	mu         sync.Mutex
	reporters  map[common.Address]*reporterState
	allStopped bool
}

// NewTracker starts tracking at start, which counts as every reporter's last
// report. A non-positive interval falls back to DefaultInterval.
func NewTracker(reporters []Reporter, start time.Time) *Tracker {
	t := &Tracker{reporters: make(map[common.Address]*reporterState, len(reporters))}
	for _, r := range reporters {
		interval := r.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}
		t.reporters[r.Address] = &reporterState{interval: interval, last: start}
	}
	return t
}

// Watching reports whether addr is tracked.
func (t *Tracker) Watching(addr common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.reporters[addr]
	return ok
}

// Len returns the number of watched reporters.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reporters)
}

// Observe records a report by addr at the given submission time. Reports of
// unwatched addresses and out-of-order timestamps are ignored.
func (t *Tracker) Observe(addr common.Address, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.reporters[addr]
	if !ok || !at.After(st.last) {
		return
	}
	st.last = at
	if !st.stopped {
		return
	}
	st.stopped = false
	t.allStopped = false
}

// Check returns the transitions since the previous call, ordered by address.
func (t *Tracker) Check(now time.Time) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.reporters) == 0 {
		return nil
	}

	addrs := make([]common.Address, 0, len(t.reporters))
	for addr := range t.reporters {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })

	var events []Event
	silent := 0
	for _, addr := range addrs {
		st := t.reporters[addr]
		if now.Sub(st.last) < st.interval {
			continue
		}
		silent++
		if st.stopped {
			continue
		}
		st.stopped = true
		events = append(events, Event{Kind: EventReporterStopped, Reporter: addr, Last: st.last, Interval: st.interval})
	}

	if silent == len(t.reporters) && !t.allStopped {
		t.allStopped = true
		events = append(events, Event{Kind: EventAllStopped})
	}
	return events
}
