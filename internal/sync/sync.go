// Package sync implements the Sync Service: it converts domain-level
// calls into Cloud HTTP requests, transparently falling back to the
// durable queue when the network is unavailable, and drives a periodic
// flush on a runtime-adjustable cron schedule.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/edgecore-dev/edgecore/internal/metrics"
	"github.com/edgecore-dev/edgecore/internal/queue"
)

const (
	opTypeUserSettings   = "user_settings"
	opTypeCommandHistory = "command_history"

	uploadTimeout   = 30 * time.Second
	livenessTimeout = 5 * time.Second
)

// SyncResult is returned by sync_user_settings / sync_command_history.
type SyncResult struct {
	Success bool   `json:"success"`
	Queued  bool   `json:"queued,omitempty"`
	OpID    string `json:"op_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ApprovedCommandsResult is returned by sync_approved_commands.
type ApprovedCommandsResult struct {
	Total    int      `json:"total"`
	Uploaded int      `json:"uploaded"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ApprovedCommand is one locally-approved command eligible for sharing.
type ApprovedCommand struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Category          string `json:"category"`
	Content           string `json:"content"`
	AuthorUsername    string `json:"author_username"`
	AuthorEmail       string `json:"author_email"`
	OriginalCommandID string `json:"original_command_id"`
	Version           string `json:"version"`
}

// CloudStatus is returned by get_cloud_status.
type CloudStatus struct {
	Available     bool      `json:"available"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Service is the Sync Service.
type Service struct {
	queue        *queue.Queue
	client       *http.Client
	cloudBaseURL string
	edgeID       string
	jwtProvider  func() (string, error)
	cache        *resultCache

	mu        sync.RWMutex
	available bool
	checkedAt time.Time
}

// New constructs a Service. jwtProvider supplies a bearer token for every
// outbound Cloud request; it may be nil to talk to a Cloud that does not
// require auth (tests, local mocks).
func New(q *queue.Queue, cloudBaseURL, edgeID string, jwtProvider func() (string, error), cacheDir string, cacheRetainCount int) *Service {
	return &Service{
		queue:        q,
		client:       &http.Client{Timeout: uploadTimeout},
		cloudBaseURL: cloudBaseURL,
		edgeID:       edgeID,
		jwtProvider:  jwtProvider,
		cache:        newResultCache(cacheDir, cacheRetainCount),
		available:    true,
	}
}

// SyncUserSettings attempts a live upload; on transport failure it
// enqueues the settings for later delivery instead of failing the call.
func (s *Service) SyncUserSettings(ctx context.Context, userID string, settings map[string]any) SyncResult {
	payload := map[string]any{"user_id": userID, "settings": settings, "edge_id": s.edgeID}
	body, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/settings/%s", s.cloudBaseURL, userID)
	if err := s.postJSON(ctx, url, body); err != nil {
		opID, ok := s.queue.Enqueue(ctx, opTypeUserSettings, payload, "")
		if !ok {
			return SyncResult{Success: false, Error: "sync queue is full"}
		}
		return SyncResult{Success: true, Queued: true, OpID: opID}
	}
	return SyncResult{Success: true}
}

// SyncCommandHistory batch-uploads records; an empty batch is a no-op
// success per contract.
func (s *Service) SyncCommandHistory(ctx context.Context, userID string, records []map[string]any) SyncResult {
	if len(records) == 0 {
		return SyncResult{Success: true}
	}

	payload := map[string]any{"user_id": userID, "records": records, "edge_id": s.edgeID}
	body, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/history/%s", s.cloudBaseURL, userID)
	if err := s.postJSON(ctx, url, body); err != nil {
		opID, ok := s.queue.Enqueue(ctx, opTypeCommandHistory, payload, "")
		if !ok {
			return SyncResult{Success: false, Error: "sync queue is full"}
		}
		return SyncResult{Success: true, Queued: true, OpID: opID}
	}
	return SyncResult{Success: true}
}

// SyncApprovedCommands uploads every entry in cmds to the shared command
// library, collecting per-item errors rather than aborting the batch, and
// caches the result summary under the retention policy.
func (s *Service) SyncApprovedCommands(ctx context.Context, cmds []ApprovedCommand) ApprovedCommandsResult {
	result := ApprovedCommandsResult{Total: len(cmds)}

	for _, cmd := range cmds {
		payload := map[string]any{
			"name":                cmd.Name,
			"description":         cmd.Description,
			"category":            cmd.Category,
			"content":             cmd.Content,
			"author_username":     cmd.AuthorUsername,
			"author_email":        cmd.AuthorEmail,
			"edge_id":             s.edgeID,
			"original_command_id": cmd.OriginalCommandID,
			"version":             cmd.Version,
		}
		body, _ := json.Marshal(payload)
		url := fmt.Sprintf("%s/shared_commands/upload", s.cloudBaseURL)
		if err := s.postJSON(ctx, url, body); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cmd.Name, err))
			continue
		}
		result.Uploaded++
	}

	s.cache.write(result)
	return result
}

// FlushQueue delegates to the durable queue, dispatching each item back
// to its Cloud endpoint by op_type.
func (s *Service) FlushQueue(ctx context.Context) queue.FlushResult {
	result := s.queue.Flush(ctx, s.sendHandler)
	metrics.QueuePending.Set(float64(result.Remaining))
	if result.Sent > 0 {
		metrics.QueueFlushesTotal.WithLabelValues("sent").Add(float64(result.Sent))
	}
	if result.Failed > 0 {
		metrics.QueueFlushesTotal.WithLabelValues("failed").Add(float64(result.Failed))
	}
	return result
}

// sendHandler is the queue.SendHandler closure bound to this Service. It
// replays a queued item to the same per-user endpoint the live path uses,
// so a retry is indistinguishable from the original upload to the Cloud.
func (s *Service) sendHandler(ctx context.Context, opType string, payload []byte) (bool, error) {
	var envelope struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return false, fmt.Errorf("decode queued %s payload: %w", opType, err)
	}
	if envelope.UserID == "" {
		return false, fmt.Errorf("queued %s payload missing user_id", opType)
	}

	var url string
	switch opType {
	case opTypeUserSettings:
		url = fmt.Sprintf("%s/settings/%s", s.cloudBaseURL, envelope.UserID)
	case opTypeCommandHistory:
		url = fmt.Sprintf("%s/history/%s", s.cloudBaseURL, envelope.UserID)
	default:
		return false, fmt.Errorf("unknown op_type: %s", opType)
	}

	if err := s.postJSON(ctx, url, payload); err != nil {
		return false, err
	}
	return true, nil
}

// SetCloudAvailable records a manual availability override, e.g. from a
// liveness probe run elsewhere.
func (s *Service) SetCloudAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
	s.checkedAt = time.Now().UTC()
	s.queue.SetOnline(available)
}

// GetCloudStatus returns the last known availability.
func (s *Service) GetCloudStatus() CloudStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloudStatus{Available: s.available, LastCheckedAt: s.checkedAt}
}

// CheckLiveness probes the Cloud's categories endpoint with a short
// timeout and updates availability accordingly.
func (s *Service) CheckLiveness(ctx context.Context) bool {
	lctx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/shared_commands/categories", s.cloudBaseURL)
	req, err := http.NewRequestWithContext(lctx, http.MethodGet, url, nil)
	if err != nil {
		s.SetCloudAvailable(false)
		return false
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
	if resp != nil {
		resp.Body.Close()
	}
	s.SetCloudAvailable(ok)
	return ok
}

func (s *Service) postJSON(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cloud returned %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

func (s *Service) authorize(req *http.Request) {
	if s.jwtProvider == nil {
		return
	}
	token, err := s.jwtProvider()
	if err != nil || token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
