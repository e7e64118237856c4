package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/edgecore-dev/edgecore/internal/audit"
	"github.com/edgecore-dev/edgecore/internal/events"
)

// apiListEvents handles GET /api/events, a filtered point-in-time query
// over the audit history. Supports ?trace_id=, ?category=, ?severity=,
// ?limit=.
func (s *Server) apiListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		TraceID:  q.Get("trace_id"),
		Category: events.Category(q.Get("category")),
		Severity: events.Severity(q.Get("severity")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}

	out := s.deps.Audit.GetEvents(filter)
	if out == nil {
		out = []events.Event{}
	}
	writeJSON(w, http.StatusOK, out)
}

// apiStreamEvents handles GET /api/events/stream: a live server-sent-event
// feed of every bus event matching ?pattern= (default: everything).
func (s *Server) apiStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	pattern := r.URL.Query().Get("pattern")
	ch, cancel := s.deps.EventBus.Subscribe(pattern)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.deps.Log.Warn("failed to marshal stream event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// apiEventMetrics handles GET /api/metrics/events: the audit sink's
// per-category/severity counters, for dashboards that don't scrape
// Prometheus directly.
func (s *Server) apiEventMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Audit.GetMetrics())
}

// apiGetState handles GET /api/state, a point-in-time read of the Shared
// State key/value view, optionally narrowed by ?prefix= (e.g. "robot:").
func (s *Server) apiGetState(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	writeJSON(w, http.StatusOK, s.deps.State.Snapshot(prefix))
}
