// Command seed-queue injects test entries into EdgeCore's durable sync
// queue for exercising the flush/retry path without running a whole edge
// node.
// Usage: go run ./cmd/seed-queue -db /path/to/edgecore-queue.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/edgecore-dev/edgecore/internal/queue"
)

func main() {
	dbPath := flag.String("db", "edgecore-queue.db", "path to the sync queue SQLite file")
	opType := flag.String("op", "user_settings", "op_type to enqueue (user_settings, command_history)")
	count := flag.Int("n", 5, "number of entries to enqueue")
	flag.Parse()

	q, err := queue.Open(*dbPath, 10000, 5, 20)
	if err != nil {
		log.Fatalf("open queue: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	for i := 0; i < *count; i++ {
		payload := map[string]any{
			"user_id":   fmt.Sprintf("seed-user-%d", i),
			"seeded_at": time.Now().UTC().Add(-time.Duration(i) * time.Minute),
			"settings":  map[string]any{"note": "injected by seed-queue"},
		}
		id, ok := q.Enqueue(ctx, *opType, payload, "")
		if !ok {
			log.Fatalf("enqueue entry %d: queue rejected it (at capacity or unmarshalable)", i)
		}
		fmt.Printf("  queued: %s (op_type=%s)\n", id, *opType)
	}

	fmt.Printf("\nInjected %d entries into %s. Start edgecored to pick them up on the next flush.\n", *count, *dbPath)
}
