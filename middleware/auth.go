package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

const (
	identityTTL = 30 * time.Second

	// PipelineTokenHeader carries the shared secret the fetch pipeline
	// presents when reporting status.
	PipelineTokenHeader = "X-Pipeline-Token"
)

type identityKey struct{}

// SessionReader extracts the logged-in user id from a request.
type SessionReader interface {
	UserID(r *http.Request) (int64, error)
}

// IdentityResolver turns a session user id into the caller identity.
type IdentityResolver interface {
	Identity(ctx context.Context, userID int64) (models.Identity, error)
}

// Auth resolves the caller on every request. Resolved identities are cached
// briefly so a busy client doesn't hit the users table per request.
type Auth struct {
	sessions      SessionReader
	resolver      IdentityResolver
	identities    *cache.Cache
	pipelineToken string
	log           *slog.Logger
}

func NewAuth(sessions SessionReader, resolver IdentityResolver, pipelineToken string) *Auth {
	return &Auth{
		sessions:      sessions,
		resolver:      resolver,
		identities:    cache.New(identityTTL, 2*identityTTL),
		pipelineToken: pipelineToken,
		log:           logger.For("auth"),
	}
}

func cacheKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Forget drops a cached identity, e.g. on logout.
func (a *Auth) Forget(userID int64) {
	a.identities.Delete(cacheKey(userID))
}

func (a *Auth) resolve(r *http.Request) (models.Identity, bool) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		return models.Identity{}, false
	}
	if v, ok := a.identities.Get(cacheKey(userID)); ok {
		return v.(models.Identity), true
	}

	id, err := a.resolver.Identity(r.Context(), userID)
	if err != nil {
		a.log.Debug("Session user not resolved", "user_id", userID, "error", err)
		return models.Identity{}, false
	}
	a.identities.SetDefault(cacheKey(userID), id)
	return id, true
}

// Identify attaches the caller identity to the context when a valid session
// is present. Anonymous requests pass through untouched.
func (a *Auth) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := a.resolve(r); ok {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without an identity. It expects Identify to
// have run earlier in the chain.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !id.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePipelineToken guards the endpoints the fetch pipeline calls. With no
// token configured the endpoints are closed.
func (a *Auth) RequirePipelineToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(PipelineTokenHeader)
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if a.pipelineToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.pipelineToken)) != 1 {
			a.log.Warn("Rejected pipeline call", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid pipeline token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity attached by Identify.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
