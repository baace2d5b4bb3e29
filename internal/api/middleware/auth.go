package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/example/komodo-checkout/internal/auth"
	"github.com/example/komodo-checkout/internal/komodo"
	"go.uber.org/zap"
)

// Cookie names set by the login proxy.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ExtractToken extracts JWT token from cookie or Authorization header
func ExtractToken(r *http.Request) string {
	// Try cookie first (for browser)
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	// Fall back to Authorization header (for API clients)
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// ProfileFetcher looks up the caller's profile with the token carried by
// ctx.
type ProfileFetcher interface {
	GetProfile(ctx context.Context) (*komodo.Profile, error)
}

// RoleResolver fills in the role of tokens that do not carry one. Roles
// are cached per user for ttl.
type RoleResolver struct {
	profiles ProfileFetcher
	ttl      time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	roles map[auth.UserID]cachedRole
	now   func() time.Time
}

type cachedRole struct {
	role    string
	expires time.Time
}

func NewRoleResolver(profiles ProfileFetcher, ttl time.Duration, logger *zap.Logger) *RoleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleResolver{
		profiles: profiles,
		ttl:      ttl,
		logger:   logger.Named("roles"),
		roles:    make(map[auth.UserID]cachedRole),
		now:      time.Now,
	}
}

// Resolve returns the role for claims. ctx must carry the user's token.
func (rr *RoleResolver) Resolve(ctx context.Context, claims *auth.Claims) (string, error) {
	if claims.Role != "" {
		return claims.Role, nil
	}

	rr.mu.Lock()
	cached, ok := rr.roles[claims.UserID]
	rr.mu.Unlock()
	if ok && rr.now().Before(cached.expires) {
		return cached.role, nil
	}

	profile, err := rr.profiles.GetProfile(ctx)
	if err != nil {
		return "", err
	}

	rr.mu.Lock()
	rr.roles[claims.UserID] = cachedRole{role: profile.Role, expires: rr.now().Add(rr.ttl)}
	rr.mu.Unlock()
	rr.logger.Debug("role resolved from profile", zap.String("user_id", string(claims.UserID)), zap.String("role", profile.Role))
	return profile.Role, nil
}

// Forget drops the cached role of userID
func (rr *RoleResolver) Forget(userID auth.UserID) {
	rr.mu.Lock()
	delete(rr.roles, userID)
	rr.mu.Unlock()
}

// AuthMiddleware validates JWT tokens and adds user claims to context. The
// raw token is attached with komodo.WithToken so downstream API calls act
// as the user. roles may be nil, in which case tokens without a role are
// passed through with an empty role.
func AuthMiddleware(jwtService *auth.JWTService, roles *RoleResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ExtractToken(r)
			if tokenString == "" {
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenString)
			if err != nil {
				respondError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := komodo.WithToken(r.Context(), tokenString)
			if claims.Role == "" && roles != nil {
				role, err := roles.Resolve(ctx, claims)
				if err != nil {
					status := http.StatusBadGateway
					if errors.Is(err, komodo.ErrUnauthorized) {
						status = http.StatusUnauthorized
					}
					respondError(w, "could not resolve user role", status)
					return
				}
				resolved := *claims
				resolved.Role = role
				claims = &resolved
			}

			ctx = context.WithValue(ctx, UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware adds user claims to context if token is present, but doesn't require it
func OptionalAuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenString := ExtractToken(r); tokenString != "" {
				if claims, err := jwtService.ValidateAccessToken(tokenString); err == nil {
					ctx := komodo.WithToken(r.Context(), tokenString)
					ctx = context.WithValue(ctx, UserContextKey, claims)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext retrieves user claims from the request context
func GetUserFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	return claims, ok
}

// GetUserID is a helper to get just the user ID from context
func GetUserID(ctx context.Context) string {
	claims, ok := GetUserFromContext(ctx)
	if !ok {
		return ""
	}
	return string(claims.UserID)
}
