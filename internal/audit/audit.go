// Package audit is the Audit Sink: it subscribes to every event on the
// Event Bus, persists them durably, and answers filtered queries plus a
// running per-category/severity metric count.
package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/edgecore-dev/edgecore/internal/store"
)

// Sink is the Audit Sink.
type Sink struct {
	mu      sync.RWMutex
	events  []events.Event
	metrics map[string]int
	maxKept int

	store *store.Store
	seq   uint64
}

// maxKeptEvents bounds the in-memory ring even though the Bus already
// ring-buffers recent events — the sink additionally persists, and the
// in-memory copy here is what backs trace_id/category/severity filtering
// without re-scanning Bolt on every query.
const maxKeptEvents = 10_000

// New constructs a Sink. st may be nil to run in-memory only (tests, or a
// deployment that accepts losing audit history across restarts).
func New(st *store.Store) *Sink {
	return &Sink{
		metrics: make(map[string]int),
		maxKept: maxKeptEvents,
		store:   st,
	}
}

// LoadFromStore replays persisted events into memory on startup, so a
// restart doesn't lose audit history.
func (s *Sink) LoadFromStore() error {
	if s.store == nil {
		return nil
	}
	persisted, err := s.store.LoadEvents()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range persisted {
		s.record(evt)
	}
	s.seq = uint64(len(persisted))
	return nil
}

// Run subscribes to every event on bus and records them until ctx is
// cancelled.
func (s *Sink) Run(ctx context.Context, bus *events.Bus) {
	ch, unsubscribe := bus.Subscribe("")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			s.Record(evt)
		}
	}
}

// Record persists and indexes one event. Exported so callers (and tests)
// can feed the sink directly without a running Bus subscription.
func (s *Sink) Record(evt events.Event) {
	s.mu.Lock()
	s.record(evt)
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if s.store != nil {
		s.store.AppendEvent(seq, evt) //nolint:errcheck // best-effort persistence; in-memory copy already recorded
	}
}

// record appends evt and updates the metric counter. Caller holds s.mu.
func (s *Sink) record(evt events.Event) {
	s.events = append(s.events, evt)
	if len(s.events) > s.maxKept {
		s.events = s.events[len(s.events)-s.maxKept:]
	}
	key := fmt.Sprintf("event_%s_%s", evt.Category, evt.Severity)
	s.metrics[key]++
}

// Filter narrows GetEvents results. Zero values mean "no constraint".
type Filter struct {
	TraceID  string
	Category events.Category
	Severity events.Severity
	Limit    int
}

// GetEvents returns events matching filter, most recent last, capped at
// filter.Limit (0 means unlimited, bounded by what's retained).
func (s *Sink) GetEvents(f Filter) []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []events.Event
	for _, evt := range s.events {
		if f.TraceID != "" && evt.TraceID != f.TraceID {
			continue
		}
		if f.Category != "" && evt.Category != f.Category {
			continue
		}
		if f.Severity != "" && evt.Severity != f.Severity {
			continue
		}
		out = append(out, evt)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// GetMetrics returns a copy of the event_<category>_<severity> counters.
func (s *Sink) GetMetrics() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out
}
