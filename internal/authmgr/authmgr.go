// Package authmgr composes the bcrypt/JWT/RBAC primitives in internal/auth
// into the Auth Manager component: user registration, authentication,
// token issuance and verification, and permission checks, emitting an
// auth event on every verification failure.
package authmgr

import (
	"errors"
	"sync"
	"time"

	"github.com/edgecore-dev/edgecore/internal/auth"
	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/google/uuid"
)

var (
	ErrUserExists      = errors.New("authmgr: user already exists")
	ErrInvalidPassword = errors.New("authmgr: invalid password")
)

// User is a registered account.
type User struct {
	UserID       string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Manager is the Auth Manager: user registry, role table, and token
// issuer, all guarded by one lock since verification is read-mostly and
// registration is rare.
type Manager struct {
	mu    sync.RWMutex
	users map[string]*User // keyed by user_id
	roles map[string]*auth.Role

	issuer   *auth.TokenIssuer
	sessions *auth.SessionRegistry
	bus      *events.Bus
}

// New constructs a Manager with the built-in admin/operator/viewer roles
// pre-loaded.
func New(jwtSecret string, bus *events.Bus) *Manager {
	roles := make(map[string]*auth.Role)
	for _, r := range auth.BuiltinRoles() {
		r := r
		roles[r.ID] = &r
	}
	return &Manager{
		users:    make(map[string]*User),
		roles:    roles,
		issuer:   auth.NewTokenIssuer(jwtSecret),
		sessions: auth.NewSessionRegistry(),
		bus:      bus,
	}
}

// RegisterUser hashes password with bcrypt and stores a new user. Rejects
// duplicate user_id or a password failing the policy.
func (m *Manager) RegisterUser(userID, username, password, role string) error {
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[userID]; exists {
		return ErrUserExists
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	m.users[userID] = &User{
		UserID:       userID,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	return nil
}

// AuthenticateUser verifies a username/password pair and returns the
// matching user_id, or ("", false) on failure. Every user is checked
// (rather than short-circuiting on username match before the bcrypt
// compare) so failure timing does not reveal whether the username exists.
func (m *Manager) AuthenticateUser(username, password string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched *User
	for _, u := range m.users {
		if u.Username == username {
			matched = u
		}
	}
	if matched == nil {
		auth.CheckPassword("$2a$12$invalidinvalidinvalidinvalidinvalidinvalidinvalidinvali", password)
		return "", false
	}
	if !auth.CheckPassword(matched.PasswordHash, password) {
		return "", false
	}
	return matched.UserID, true
}

// CreateToken issues a signed access or refresh token for userID/role.
// For refresh tokens, deviceID binds the token to a device and registers
// a revocable session whose ID is embedded in the token's session_id
// claim, so RevokeSession can later be called with the ID recovered from
// VerifyToken's claims (e.g. on logout).
func (m *Manager) CreateToken(userID, role string, typ auth.TokenType, ttl time.Duration, deviceID string) (string, error) {
	if typ != auth.TokenTypeRefresh {
		return m.issuer.CreateToken(userID, role, typ, ttl, deviceID)
	}

	sessionID, err := m.sessions.Issue(userID, deviceID, time.Now().UTC().Add(ttl))
	if err != nil {
		return "", err
	}
	return m.issuer.CreateTokenWithSession(userID, role, typ, ttl, deviceID, sessionID)
}

// VerifyToken verifies a token's signature, type, and expiry, and for
// refresh tokens additionally checks the embedded session has not been
// revoked server-side. On any failure it emits a WARN auth event carrying
// the trace_id and, when decodable, the token's claimed user_id.
func (m *Manager) VerifyToken(token string, wantType auth.TokenType, traceID string) (*auth.Claims, bool) {
	claims, err := m.issuer.VerifyToken(token, wantType)
	if err != nil {
		userID := ""
		if claims != nil {
			userID = claims.UserID
		}
		m.publishAuthFailure(traceID, userID, err.Error())
		return nil, false
	}

	if claims.Type == auth.TokenTypeRefresh && !m.sessions.IsValid(claims.SessionID, time.Now().UTC()) {
		m.publishAuthFailure(traceID, claims.UserID, "refresh session revoked or expired")
		return nil, false
	}

	return claims, true
}

// CheckPermission resolves user -> role -> permission set and checks
// whether action is granted, per the exact/wildcard/prefix RBAC rules.
func (m *Manager) CheckPermission(userID, action string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return false
	}
	role, ok := m.roles[user.Role]
	if !ok {
		return false
	}
	return auth.HasPermission(role.Permissions, action)
}

// GetUserRole returns the role assigned to userID, for callers (the login
// handler) that need it to mint a token right after authentication.
func (m *Manager) GetUserRole(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return "", false
	}
	return user.Role, true
}

// RevokeSession revokes a refresh session by ID, e.g. on logout.
func (m *Manager) RevokeSession(sessionID string) {
	m.sessions.Revoke(sessionID)
}

func (m *Manager) publishAuthFailure(traceID, userID, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Topic:    "auth.failure",
		TraceID:  traceID,
		Severity: events.SeverityWarn,
		Category: events.CategoryAuth,
		Message:  "token verification failed: " + reason,
		Context:  map[string]any{"user_id": userID},
	})
}

// NewUserID generates a random opaque user ID for callers that do not
// supply their own.
func NewUserID() string {
	return uuid.NewString()
}
