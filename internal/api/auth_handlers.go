package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/komodo-checkout/internal/api/middleware"
	"github.com/example/komodo-checkout/internal/auth"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/session"
	"go.uber.org/zap"
)

const refreshCookiePath = "/auth/refresh"

// AuthAPI is the part of the Komodo API the login proxy uses
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*komodo.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*komodo.TokenPair, error)
	GetProfile(ctx context.Context) (*komodo.Profile, error)
}

// AuthHandlers proxies authentication to the Komodo API and keeps the
// resulting tokens in HttpOnly cookies.
type AuthHandlers struct {
	komodo     AuthAPI
	jwtService *auth.JWTService
	roles      *middleware.RoleResolver
	sessions   *session.Registry
	logger     *zap.Logger
}

// NewAuthHandlers creates a new AuthHandlers instance. roles may be nil.
func NewAuthHandlers(api AuthAPI, jwtService *auth.JWTService, roles *middleware.RoleResolver, sessions *session.Registry, logger *zap.Logger) *AuthHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandlers{
		komodo:     api,
		jwtService: jwtService,
		roles:      roles,
		sessions:   sessions,
		logger:     logger.Named("auth"),
	}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User    *komodo.Profile `json:"user,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Login handles user login
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		respondJSONError(w, "username and password are required", http.StatusBadRequest)
		return
	}

	pair, err := h.komodo.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondUpstreamError(w, h.logger, err)
		return
	}

	profile := pair.User
	if profile == nil {
		profile, err = h.komodo.GetProfile(komodo.WithToken(r.Context(), pair.Access))
		if err != nil {
			respondUpstreamError(w, h.logger, err)
			return
		}
	}

	h.setAuthCookies(w, r, pair)
	h.logger.Info("user logged in", zap.Int64("user_id", profile.ID), zap.String("role", profile.Role))

	respondJSON(w, http.StatusOK, AuthResponse{User: profile, Message: "Login successful"})
}

// Refresh exchanges the refresh cookie for a new token pair
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshCookie, err := r.Cookie(middleware.RefreshTokenCookie)
	if err != nil || refreshCookie.Value == "" {
		respondJSONError(w, "No refresh token", http.StatusUnauthorized)
		return
	}

	pair, err := h.komodo.Refresh(r.Context(), refreshCookie.Value)
	if err != nil {
		if upstreamStatus(err) == http.StatusUnauthorized {
			h.clearAuthCookies(w)
		}
		respondUpstreamError(w, h.logger, err)
		return
	}
	if pair.Refresh == "" {
		// Without rotation the old refresh token stays valid.
		pair.Refresh = refreshCookie.Value
	}

	h.setAuthCookies(w, r, pair)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Token refreshed",
	})
}

// Logout clears the auth cookies and drops the caller's cart and checkout
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		h.sessions.Forget(string(claims.UserID))
		if h.roles != nil {
			h.roles.Forget(claims.UserID)
		}
	}

	h.clearAuthCookies(w)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Logout successful",
	})
}

// Me returns the current authenticated user's profile
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.komodo.GetProfile(r.Context())
	if err != nil {
		respondUpstreamError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// Helper methods

func (h *AuthHandlers) setAuthCookies(w http.ResponseWriter, r *http.Request, pair *komodo.TokenPair) {
	now := time.Now()

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    pair.Access,
		Path:     "/",
		Expires:  now.Add(h.jwtService.GetAccessTokenExpiry()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	if pair.Refresh != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.RefreshTokenCookie,
			Value:    pair.Refresh,
			Path:     refreshCookiePath,
			Expires:  now.Add(h.jwtService.GetRefreshTokenExpiry()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (h *AuthHandlers) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.RefreshTokenCookie,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
	})
}
