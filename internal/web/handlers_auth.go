package web

import (
	"encoding/json"
	"net/http"

	"github.com/edgecore-dev/edgecore/internal/auth"
	"github.com/edgecore-dev/edgecore/internal/models"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// apiLogin handles POST /api/auth/login: verify credentials and mint an
// access/refresh token pair bound to device_id.
func (s *Server) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCommandError(w, "", models.ErrValidation, "malformed request body: "+err.Error())
		return
	}

	userID, ok := s.deps.Auth.AuthenticateUser(req.Username, req.Password)
	if !ok {
		writeCommandError(w, "", models.ErrUnauthorized, "invalid username or password")
		return
	}
	role, ok := s.deps.Auth.GetUserRole(userID)
	if !ok {
		writeCommandError(w, "", models.ErrUnauthorized, "invalid username or password")
		return
	}

	pair, err := s.issueTokenPair(userID, role, req.DeviceID)
	if err != nil {
		writeCommandError(w, "", models.ErrInternal, "failed to issue tokens: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// apiRefresh handles POST /api/auth/refresh: verify a refresh token and
// mint a fresh access/refresh pair, rotating the refresh token so a given
// refresh token can only be redeemed once.
func (s *Server) apiRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCommandError(w, "", models.ErrValidation, "malformed request body: "+err.Error())
		return
	}

	claims, ok := s.deps.Auth.VerifyToken(req.RefreshToken, auth.TokenTypeRefresh, "")
	if !ok {
		writeCommandError(w, "", models.ErrUnauthorized, "invalid or expired refresh token")
		return
	}
	s.deps.Auth.RevokeSession(claims.SessionID)

	pair, err := s.issueTokenPair(claims.UserID, claims.Role, claims.DeviceID)
	if err != nil {
		writeCommandError(w, "", models.ErrInternal, "failed to issue tokens: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// apiLogout handles POST /api/auth/logout: revoke the refresh session
// named in the request body. Requires a valid access token, but the
// session being revoked is the one behind the caller's refresh token.
func (s *Server) apiLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if claims, ok := s.deps.Auth.VerifyToken(req.RefreshToken, auth.TokenTypeRefresh, ""); ok {
			s.deps.Auth.RevokeSession(claims.SessionID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) issueTokenPair(userID, role, deviceID string) (tokenPairResponse, error) {
	access, err := s.deps.Auth.CreateToken(userID, role, auth.TokenTypeAccess, s.deps.AccessTokenTTL, deviceID)
	if err != nil {
		return tokenPairResponse{}, err
	}
	refresh, err := s.deps.Auth.CreateToken(userID, role, auth.TokenTypeRefresh, s.deps.RefreshTokenTTL, deviceID)
	if err != nil {
		return tokenPairResponse{}, err
	}
	return tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.deps.AccessTokenTTL.Seconds()),
	}, nil
}
