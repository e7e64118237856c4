// Package store wraps a BoltDB database used as the ambient persistence
// layer: the Audit Sink's event history, and a crash-recovery seed for
// the robot registry's static fields.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/edgecore-dev/edgecore/internal/models"
)

var (
	bucketEvents = []byte("events")
	bucketRobots = []byte("robots")
)

// Store wraps a BoltDB database for EdgeCore's durable ambient state.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at path and ensures the
// required buckets exist. path may be ":memory:"-like conventions are not
// supported by bbolt itself; callers that want an ephemeral store should
// pass a path under a temp directory.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEvents, bucketRobots} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// seqKey formats a monotonic sequence number so that lexicographic key
// order matches numeric order (fixed width, zero padded).
func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// AppendEvent persists an audit event keyed by a monotonically increasing
// sequence number so the bucket's natural cursor order is chronological.
func (s *Store) AppendEvent(seq uint64, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.Put(seqKey(seq), data)
	})
}

// LoadEvents returns every persisted event, oldest first, for replay into
// the in-memory ring buffer on startup.
func (s *Store) LoadEvents() ([]events.Event, error) {
	var out []events.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.ForEach(func(_, v []byte) error {
			var evt events.Event
			if err := json.Unmarshal(v, &evt); err != nil {
				return nil // skip malformed rows rather than fail the whole load
			}
			out = append(out, evt)
			return nil
		})
	})
	return out, err
}

// PruneEventsBefore deletes persisted events older than cutoff, bounding
// the bucket's growth.
func (s *Store) PruneEventsBefore(cutoff time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var evt events.Event
			if err := json.Unmarshal(v, &evt); err != nil {
				continue
			}
			if evt.Timestamp.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveRobot persists a robot's static registration fields so the registry
// can re-seed endpoint/protocol/capabilities across a restart; liveness
// (status, last_heartbeat) is intentionally not trusted from disk and is
// always rebuilt from the next heartbeat.
func (s *Store) SaveRobot(r models.Robot) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal robot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRobots)
		return b.Put([]byte(r.RobotID), data)
	})
}

// DeleteRobot removes a robot's seed record.
func (s *Store) DeleteRobot(robotID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRobots)
		return b.Delete([]byte(robotID))
	})
}

// LoadRobots returns every seeded robot record for registry warm-start.
func (s *Store) LoadRobots() ([]models.Robot, error) {
	var out []models.Robot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRobots)
		return b.ForEach(func(_, v []byte) error {
			var r models.Robot
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}
