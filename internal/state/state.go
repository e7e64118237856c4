// Package state is the Shared State: a key/value view of robot, queue,
// and service health, whose every mutation publishes an event on a
// well-known topic. Readers can query synchronously or subscribe to the
// Event Bus for change notifications; an optional MQTT mirror republishes
// every write for external dashboards.
package state

import (
	"fmt"
	"strings"
	"sync"

	"github.com/edgecore-dev/edgecore/internal/events"
)

// Store is the Shared State key/value view. An MQTT mirror (or any other
// external sink) attaches by subscribing to the same Event Bus rather
// than being wired into Store directly, keeping Store free of transport
// concerns.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	bus    *events.Bus
}

// New constructs a Store that publishes every Set on bus.
func New(bus *events.Bus) *Store {
	return &Store{
		values: make(map[string]any),
		bus:    bus,
	}
}

// Set writes a key and publishes a change event on the topic derived
// from its namespace (the part before the first ':'), e.g. "robot:r1"
// publishes on "robot.status_updated", "queue:status" on "queue.status",
// "service:health" on "service.health_changed".
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()

	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Topic:    topicFor(key),
		Severity: events.SeverityInfo,
		Category: events.CategoryService,
		Message:  fmt.Sprintf("shared state updated: %s", key),
		Context:  map[string]any{"key": key, "value": value},
	})
}

// Get reads a key. ok is false if the key has never been set.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns a copy of every key whose namespace prefix matches
// prefix (e.g. "robot:" returns every known robot's state).
func (s *Store) Snapshot(prefix string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for k, v := range s.values {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

func topicFor(key string) string {
	namespace, _, _ := strings.Cut(key, ":")
	switch namespace {
	case "robot":
		return "robot.status_updated"
	case "service":
		return "service.health_changed"
	case "queue":
		return "queue.status"
	default:
		return namespace + ".updated"
	}
}
