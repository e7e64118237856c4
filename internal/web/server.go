// Package web is the HTTP surface: the command API, robot registry API,
// and event/audit introspection endpoints, plus Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgecore-dev/edgecore/internal/audit"
	"github.com/edgecore-dev/edgecore/internal/auth"
	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/edgecore-dev/edgecore/internal/models"
)

// CommandProcessor is the subset of *command.Handler the server depends on.
type CommandProcessor interface {
	ProcessCommand(ctx context.Context, req models.CommandRequest) models.CommandResponse
	GetCommandStatus(commandID string) (models.CommandStatusResult, bool)
	CancelCommand(commandID, traceID string) bool
}

// RobotRegistry is the subset of *router.Router the server depends on.
type RobotRegistry interface {
	RegisterRobot(reg models.RobotRegistration) bool
	UnregisterRobot(robotID string) bool
	UpdateHeartbeat(hb models.Heartbeat) bool
	GetRobot(robotID string) (models.Robot, bool)
	ListRobots(robotType string, status models.RobotStatus) []models.Robot
}

// AuthManager is the subset of *authmgr.Manager the server depends on.
type AuthManager interface {
	RegisterUser(userID, username, password, role string) error
	AuthenticateUser(username, password string) (string, bool)
	GetUserRole(userID string) (string, bool)
	CreateToken(userID, role string, typ auth.TokenType, ttl time.Duration, deviceID string) (string, error)
	VerifyToken(token string, wantType auth.TokenType, traceID string) (*auth.Claims, bool)
	CheckPermission(userID, action string) bool
	RevokeSession(sessionID string)
}

// AuditReader is the subset of *audit.Sink the server depends on.
type AuditReader interface {
	GetEvents(f audit.Filter) []events.Event
	GetMetrics() map[string]int
}

// StateReader is the subset of *state.Store the server depends on.
type StateReader interface {
	Snapshot(prefix string) map[string]any
}

// Dependencies defines what the HTTP server needs from the rest of the
// application.
type Dependencies struct {
	Commands        CommandProcessor
	Robots          RobotRegistry
	Auth            AuthManager
	Audit           AuditReader
	State           StateReader
	EventBus        *events.Bus
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	MetricsEnabled  bool
	Log             *slog.Logger
}

// Server is the EdgeCore HTTP server.
type Server struct {
	deps   Dependencies
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Dependencies) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the event stream endpoint is long-lived; per-handler timeouts apply elsewhere
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("edgecore http server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	authed := func(h http.HandlerFunc) http.Handler {
		return s.requireAuth(h)
	}
	perm := func(action string, h http.HandlerFunc) http.Handler {
		return s.requireAuth(s.requirePermission(action, h))
	}

	if s.deps.MetricsEnabled {
		s.mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			promhttp.Handler().ServeHTTP(w, r)
		})
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /api/auth/login", s.apiLogin)
	s.mux.HandleFunc("POST /api/auth/refresh", s.apiRefresh)
	s.mux.Handle("POST /api/auth/logout", authed(s.apiLogout))

	s.mux.Handle("POST /api/command", perm("command.create", s.apiCreateCommand))
	s.mux.Handle("GET /api/command/{command_id}", perm("command.view", s.apiGetCommandStatus))
	s.mux.Handle("DELETE /api/command/{command_id}", perm("command.cancel", s.apiCancelCommand))
	s.mux.Handle("POST /api/command/{command_id}/cancel", perm("command.cancel", s.apiCancelCommand))

	s.mux.Handle("POST /api/robots/register", perm("robot.manage", s.apiRegisterRobot))
	s.mux.Handle("DELETE /api/robots/{robot_id}", perm("robot.manage", s.apiUnregisterRobot))
	s.mux.Handle("POST /api/robots/heartbeat", perm("robot.heartbeat", s.apiRobotHeartbeat))
	s.mux.Handle("GET /api/robots", perm("robot.view", s.apiListRobots))
	s.mux.Handle("GET /api/robots/{robot_id}", perm("robot.view", s.apiGetRobot))

	s.mux.Handle("GET /api/events", perm("audit.view", s.apiListEvents))
	s.mux.Handle("GET /api/events/stream", perm("audit.view", s.apiStreamEvents))
	s.mux.Handle("GET /api/metrics/events", perm("audit.view", s.apiEventMetrics))

	s.mux.Handle("GET /api/state", perm("robot.view", s.apiGetState))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a plain {"error": msg} JSON body, used by endpoints
// outside the command response contract (robot registry, event queries).
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCommandError writes a models.CommandResponse-shaped error body,
// matching the contract every /api/command* endpoint uses on failure.
func writeCommandError(w http.ResponseWriter, traceID string, code models.ErrorCode, message string) {
	writeJSON(w, models.HTTPStatusFor(code), models.CommandResponse{
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
		Error:     &models.ErrorBody{Code: code, Message: message},
	})
}
