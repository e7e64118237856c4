// Package queue implements the durable sync queue: a crash-safe, ordered,
// bounded FIFO buffer for cross-node operations that must survive a
// transport outage. It is backed by SQLite (modernc.org/sqlite, no cgo)
// so a single file or an in-memory database provides the same ACID
// single-writer semantics the algorithm depends on.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/edgecore-dev/edgecore/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id          TEXT PRIMARY KEY,
	seq         INTEGER NOT NULL,
	op_type     TEXT NOT NULL,
	payload     BLOB NOT NULL,
	trace_id    TEXT,
	status      TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_queue_seq ON sync_queue(seq);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
`

// Statistics summarizes queue contents for monitoring; edgecored publishes
// it to the Shared State "queue:status" key, readable via GET /api/state.
type Statistics struct {
	Pending       int `json:"pending"`
	Sending       int `json:"sending"`
	Failed        int `json:"failed"`
	TotalEnqueued int `json:"total_enqueued"`
	TotalSent     int `json:"total_sent"`
	TotalFailed   int `json:"total_failed"`
}

// FlushResult reports the outcome of one Flush call.
type FlushResult struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// SendHandler delivers one queued operation to the remote side. A true
// return (and nil error) counts as delivered; a false return or non-nil
// error counts as a transient failure subject to retry.
type SendHandler func(ctx context.Context, opType string, payload []byte) (bool, error)

// Queue is the durable sync queue. MaxSize bounds pending rows; MaxRetry
// bounds retry attempts before a row is marked failed; BatchSize bounds
// how many rows one Flush call considers.
type Queue struct {
	db        *sql.DB
	maxSize   int
	maxRetry  int
	batchSize int

	online bool // advisory only; the queue does not act on this itself

	totalEnqueued int
	totalSent     int
	totalFailed   int
}

// Open creates or opens the queue's SQLite database at path (":memory:"
// for an ephemeral, non-durable queue) and performs crash recovery:
// residual "sending" rows from a process that died mid-flush are reset to
// "pending" so they are retried rather than lost.
func Open(path string, maxSize, maxRetry, batchSize int) (*Queue, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer at a time; serialize access at the
	// connection-pool level to avoid SQLITE_BUSY under concurrent enqueue.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	q := &Queue{db: db, maxSize: maxSize, maxRetry: maxRetry, batchSize: batchSize, online: true}
	if err := q.recoverCrashedSends(); err != nil {
		db.Close()
		return nil, fmt.Errorf("crash recovery: %w", err)
	}
	return q, nil
}

func (q *Queue) recoverCrashedSends() error {
	_, err := q.db.Exec(
		`UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?`,
		models.SyncPending, nowRFC3339(), models.SyncSending,
	)
	return err
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Enqueue writes a new pending row with the next seq. Returns the new
// item's ID, or ("", false) if the payload cannot be marshaled or the
// queue is at capacity.
func (q *Queue) Enqueue(ctx context.Context, opType string, payload any, traceID string) (string, bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", false
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, models.SyncPending).Scan(&pending); err != nil {
		return "", false
	}
	if pending >= q.maxSize {
		return "", false
	}

	var seq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM sync_queue`).Scan(&seq); err != nil {
		return "", false
	}
	nextSeq := int64(0)
	if seq.Valid {
		nextSeq = seq.Int64 + 1
	}

	id := uuid.NewString()
	now := nowRFC3339()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_queue (id, seq, op_type, payload, trace_id, status, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, nextSeq, opType, body, traceID, models.SyncPending, now, now,
	)
	if err != nil {
		return "", false
	}
	if err := tx.Commit(); err != nil {
		return "", false
	}
	q.totalEnqueued++
	return id, true
}

// Size returns the count of pending rows.
func (q *Queue) Size(ctx context.Context) int {
	var n int
	q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, models.SyncPending).Scan(&n)
	return n
}

// Flush pulls up to batchSize pending rows in ascending seq order and
// calls handler for each. A successful delivery deletes the row; a
// failure increments retry_count and either keeps it pending or marks it
// failed once max_retry is reached. If every item in the batch fails,
// flushing stops immediately -- the transport is presumed down, and
// stopping preserves ordering for the next flush without reissuing seq
// values.
func (q *Queue) Flush(ctx context.Context, handler SendHandler) FlushResult {
	var result FlushResult

	for {
		rows, err := q.db.QueryContext(ctx,
			`SELECT id, seq, op_type, payload, trace_id, retry_count FROM sync_queue
			 WHERE status = ? ORDER BY seq ASC LIMIT ?`,
			models.SyncPending, q.batchSize,
		)
		if err != nil {
			return result
		}

		type row struct {
			id, opType, traceID string
			seq                 int64
			payload             []byte
			retryCount          int
		}
		var batch []row
		for rows.Next() {
			var r row
			var traceID sql.NullString
			if err := rows.Scan(&r.id, &r.seq, &r.opType, &r.payload, &traceID, &r.retryCount); err != nil {
				continue
			}
			r.traceID = traceID.String
			batch = append(batch, r)
		}
		rows.Close()

		if len(batch) == 0 {
			break
		}

		batchFailed := 0
		for _, r := range batch {
			ok, sendErr := handler(ctx, r.opType, r.payload)
			if ok && sendErr == nil {
				q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, r.id)
				result.Sent++
				q.totalSent++
				continue
			}

			batchFailed++
			newRetry := r.retryCount + 1
			lastErr := ""
			if sendErr != nil {
				lastErr = sendErr.Error()
			}
			if newRetry >= q.maxRetry {
				q.db.ExecContext(ctx,
					`UPDATE sync_queue SET status = ?, retry_count = ?, last_error = ?, updated_at = ? WHERE id = ?`,
					models.SyncFailed, newRetry, lastErr, nowRFC3339(), r.id,
				)
				result.Failed++
				q.totalFailed++
			} else {
				q.db.ExecContext(ctx,
					`UPDATE sync_queue SET retry_count = ?, last_error = ?, updated_at = ? WHERE id = ?`,
					newRetry, lastErr, nowRFC3339(), r.id,
				)
			}
		}

		if batchFailed == len(batch) {
			// Outage circuit breaker: every item in this batch failed, the
			// transport is presumed down. Stop rather than spin.
			break
		}
	}

	result.Remaining = q.Size(ctx)
	return result
}

// GetStatistics returns a snapshot of queue row counts plus lifetime
// counters accumulated in-process since Open.
func (q *Queue) GetStatistics(ctx context.Context) Statistics {
	stats := Statistics{
		TotalEnqueued: q.totalEnqueued,
		TotalSent:     q.totalSent,
		TotalFailed:   q.totalFailed,
	}
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return stats
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		switch models.SyncItemStatus(status) {
		case models.SyncPending:
			stats.Pending = count
		case models.SyncSending:
			stats.Sending = count
		case models.SyncFailed:
			stats.Failed = count
		}
	}
	return stats
}

// SetOnline sets the advisory online flag. The queue itself does not act
// on this; it exists for external consumers (e.g. the sync service) to
// record connectivity state alongside queue state.
func (q *Queue) SetOnline(online bool) { q.online = online }

// IsOnline returns the advisory online flag.
func (q *Queue) IsOnline() bool { return q.online }

// Clear removes every row from the queue. Intended for tests and explicit
// maintenance operations.
func (q *Queue) Clear(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue`)
	return err
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}
