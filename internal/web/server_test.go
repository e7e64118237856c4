package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgecore-dev/edgecore/internal/audit"
	"github.com/edgecore-dev/edgecore/internal/auth"
	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/edgecore-dev/edgecore/internal/models"
)

// stubCommands implements CommandProcessor for testing.
type stubCommands struct {
	resp       models.CommandResponse
	status     models.CommandStatusResult
	statusOK   bool
	cancelOK   bool
	lastCancel string
}

func (s *stubCommands) ProcessCommand(ctx context.Context, req models.CommandRequest) models.CommandResponse {
	return s.resp
}

func (s *stubCommands) GetCommandStatus(commandID string) (models.CommandStatusResult, bool) {
	return s.status, s.statusOK
}

func (s *stubCommands) CancelCommand(commandID, traceID string) bool {
	s.lastCancel = commandID
	return s.cancelOK
}

// stubRobots implements RobotRegistry for testing.
type stubRobots struct {
	robots map[string]models.Robot
}

func newStubRobots() *stubRobots {
	return &stubRobots{robots: make(map[string]models.Robot)}
}

func (s *stubRobots) RegisterRobot(reg models.RobotRegistration) bool {
	s.robots[reg.RobotID] = models.Robot{
		RobotID: reg.RobotID, RobotType: reg.RobotType, Capabilities: reg.Capabilities,
		Endpoint: reg.Endpoint, Protocol: reg.Protocol, Status: models.RobotOnline,
	}
	return true
}

func (s *stubRobots) UnregisterRobot(robotID string) bool {
	if _, ok := s.robots[robotID]; !ok {
		return false
	}
	delete(s.robots, robotID)
	return true
}

func (s *stubRobots) UpdateHeartbeat(hb models.Heartbeat) bool {
	r, ok := s.robots[hb.RobotID]
	if !ok {
		return false
	}
	r.Status = hb.Status
	r.LastHeartbeat = hb.Timestamp
	s.robots[hb.RobotID] = r
	return true
}

func (s *stubRobots) GetRobot(robotID string) (models.Robot, bool) {
	r, ok := s.robots[robotID]
	return r, ok
}

func (s *stubRobots) ListRobots(robotType string, status models.RobotStatus) []models.Robot {
	var out []models.Robot
	for _, r := range s.robots {
		if robotType != "" && r.RobotType != robotType {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	return out
}

// stubAuth implements AuthManager for testing.
type stubAuth struct {
	users       map[string]string // username -> userID
	roles       map[string]string // userID -> role
	permissions map[string]bool
	issuer      *auth.TokenIssuer
	sessions    *auth.SessionRegistry
}

func newStubAuth() *stubAuth {
	return &stubAuth{
		users:       make(map[string]string),
		roles:       make(map[string]string),
		permissions: make(map[string]bool),
		issuer:      auth.NewTokenIssuer("test-secret"),
		sessions:    auth.NewSessionRegistry(),
	}
}

func (s *stubAuth) RegisterUser(userID, username, password, role string) error {
	s.users[username] = userID
	s.roles[userID] = role
	return nil
}

func (s *stubAuth) AuthenticateUser(username, password string) (string, bool) {
	userID, ok := s.users[username]
	return userID, ok
}

func (s *stubAuth) GetUserRole(userID string) (string, bool) {
	role, ok := s.roles[userID]
	return role, ok
}

func (s *stubAuth) CreateToken(userID, role string, typ auth.TokenType, ttl time.Duration, deviceID string) (string, error) {
	if typ != auth.TokenTypeRefresh {
		return s.issuer.CreateToken(userID, role, typ, ttl, deviceID)
	}
	sessionID, err := s.sessions.Issue(userID, deviceID, time.Now().UTC().Add(ttl))
	if err != nil {
		return "", err
	}
	return s.issuer.CreateTokenWithSession(userID, role, typ, ttl, deviceID, sessionID)
}

func (s *stubAuth) VerifyToken(token string, wantType auth.TokenType, traceID string) (*auth.Claims, bool) {
	claims, err := s.issuer.VerifyToken(token, wantType)
	if err != nil {
		return nil, false
	}
	if claims.Type == auth.TokenTypeRefresh && !s.sessions.IsValid(claims.SessionID, time.Now().UTC()) {
		return nil, false
	}
	return claims, true
}

func (s *stubAuth) CheckPermission(userID, action string) bool {
	return s.permissions[action]
}

func (s *stubAuth) RevokeSession(sessionID string) {
	s.sessions.Revoke(sessionID)
}

// stubAudit implements AuditReader for testing.
type stubAudit struct {
	events  []events.Event
	metrics map[string]int
}

func (s *stubAudit) GetEvents(f audit.Filter) []events.Event {
	return s.events
}

func (s *stubAudit) GetMetrics() map[string]int {
	return s.metrics
}

// stubState implements StateReader for testing.
type stubState struct {
	snapshot map[string]any
}

func (s *stubState) Snapshot(prefix string) map[string]any {
	return s.snapshot
}

func newTestServer(commands CommandProcessor, robots RobotRegistry, am *stubAuth, ad AuditReader) *Server {
	return NewServer(Dependencies{
		Commands:        commands,
		Robots:          robots,
		Auth:            am,
		Audit:           ad,
		State:           &stubState{snapshot: map[string]any{}},
		EventBus:        events.New(),
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Log:             slog.Default(),
	})
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubCommands{}, newStubRobots(), newStubAuth(), &stubAudit{})
	w := doRequest(t, srv, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "operator")
	am.permissions["command.create"] = true
	srv := newTestServer(&stubCommands{}, newStubRobots(), am, &stubAudit{})

	w := doRequest(t, srv, http.MethodPost, "/api/auth/login", loginRequest{Username: "alice", Password: "hunter2", DeviceID: "dev-1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var pair tokenPairResponse
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}

	w = doRequest(t, srv, http.MethodPost, "/api/command", models.CommandRequest{}, pair.AccessToken)
	if w.Code == http.StatusUnauthorized {
		t.Fatalf("expected authorized request to pass auth, got 401: %s", w.Body.String())
	}

	w = doRequest(t, srv, http.MethodPost, "/api/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var rotated tokenPairResponse
	if err := json.Unmarshal(w.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}

	// The original refresh token was rotated away and must no longer verify.
	w = doRequest(t, srv, http.MethodPost, "/api/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected reused refresh token to be rejected, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodPost, "/api/auth/logout", refreshRequest{RefreshToken: rotated.RefreshToken}, rotated.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodPost, "/api/auth/refresh", refreshRequest{RefreshToken: rotated.RefreshToken}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked refresh token to be rejected, got %d", w.Code)
	}
}

func TestCreateCommandRejectsWithoutPermission(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "viewer")
	srv := newTestServer(&stubCommands{}, newStubRobots(), am, &stubAudit{})

	token, _ := am.CreateToken("u1", "viewer", auth.TokenTypeAccess, time.Minute, "dev")
	w := doRequest(t, srv, http.MethodPost, "/api/command", models.CommandRequest{}, token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without command.create permission, got %d", w.Code)
	}
}

func TestCreateCommandReturnsHandlerResponse(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "operator")
	am.permissions["command.create"] = true
	cmds := &stubCommands{resp: models.CommandResponse{
		TraceID: "t-1",
		Command: models.CommandStatusRef{ID: "c-1", Status: models.StatusAccepted},
	}}
	srv := newTestServer(cmds, newStubRobots(), am, &stubAudit{})
	token, _ := am.CreateToken("u1", "operator", auth.TokenTypeAccess, time.Minute, "dev")

	w := doRequest(t, srv, http.MethodPost, "/api/command", models.CommandRequest{TraceID: "t-1"}, token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", w.Code, w.Body.String())
	}
	var resp models.CommandResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Command.ID != "c-1" {
		t.Fatalf("expected command id c-1, got %q", resp.Command.ID)
	}
}

func TestGetCommandStatusNotFound(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "operator")
	am.permissions["command.view"] = true
	srv := newTestServer(&stubCommands{statusOK: false}, newStubRobots(), am, &stubAudit{})
	token, _ := am.CreateToken("u1", "operator", auth.TokenTypeAccess, time.Minute, "dev")

	w := doRequest(t, srv, http.MethodGet, "/api/command/missing", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRobotRegisterHeartbeatListFlow(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "operator")
	am.permissions["robot.manage"] = true
	am.permissions["robot.view"] = true
	am.permissions["robot.heartbeat"] = true
	srv := newTestServer(&stubCommands{}, newStubRobots(), am, &stubAudit{})
	token, _ := am.CreateToken("u1", "operator", auth.TokenTypeAccess, time.Minute, "dev")

	w := doRequest(t, srv, http.MethodPost, "/api/robots/register", models.RobotRegistration{
		RobotID: "r-1", RobotType: "arm", Endpoint: "http://robot:9000",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d body=%s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodPost, "/api/robots/heartbeat", models.Heartbeat{
		RobotID: "r-1", Status: models.RobotBusy, Timestamp: time.Now().UTC(),
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat: expected 200, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/robots", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var robots []models.Robot
	if err := json.Unmarshal(w.Body.Bytes(), &robots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(robots) != 1 || robots[0].Status != models.RobotBusy {
		t.Fatalf("expected one busy robot, got %+v", robots)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/robots/r-1", nil, token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unregister: expected 204, got %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodDelete, "/api/robots/r-1", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("double unregister: expected 404, got %d", w.Code)
	}
}

func TestListEventsDelegatesToAuditReader(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "operator")
	am.permissions["audit.view"] = true
	ad := &stubAudit{events: []events.Event{{Topic: "command.accepted", Severity: events.SeverityInfo}}}
	srv := newTestServer(&stubCommands{}, newStubRobots(), am, ad)
	token, _ := am.CreateToken("u1", "operator", auth.TokenTypeAccess, time.Minute, "dev")

	w := doRequest(t, srv, http.MethodGet, "/api/events", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []events.Event
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Topic != "command.accepted" {
		t.Fatalf("expected the one seeded event, got %+v", out)
	}
}

func TestEventMetricsReturnsCounters(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "operator")
	am.permissions["audit.view"] = true
	ad := &stubAudit{metrics: map[string]int{"command": 3}}
	srv := newTestServer(&stubCommands{}, newStubRobots(), am, ad)
	token, _ := am.CreateToken("u1", "operator", auth.TokenTypeAccess, time.Minute, "dev")

	w := doRequest(t, srv, http.MethodGet, "/api/metrics/events", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["command"] != 3 {
		t.Fatalf("expected command=3, got %+v", out)
	}
}

func TestGetStateReturnsSnapshot(t *testing.T) {
	am := newStubAuth()
	am.RegisterUser("u1", "alice", "hunter2", "operator")
	am.permissions["robot.view"] = true
	srv := NewServer(Dependencies{
		Commands: &stubCommands{}, Robots: newStubRobots(), Auth: am, Audit: &stubAudit{},
		State:    &stubState{snapshot: map[string]any{"robot:r-1": "online"}},
		EventBus: events.New(), AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour, Log: slog.Default(),
	})
	token, _ := am.CreateToken("u1", "operator", auth.TokenTypeAccess, time.Minute, "dev")

	w := doRequest(t, srv, http.MethodGet, "/api/state", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["robot:r-1"] != "online" {
		t.Fatalf("expected seeded state key, got %+v", out)
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	srv := newTestServer(&stubCommands{}, newStubRobots(), newStubAuth(), &stubAudit{})
	w := doRequest(t, srv, http.MethodPost, "/api/command", models.CommandRequest{}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
