package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.uber.org/zap"
)

// Scopes carried in the token's scope claim
const (
	ScopeAdmin   = "admin"
	ScopeService = "service"
)

// tokenCacheTTL bounds how long a verified token skips signature checks. A cached token is
// still rejected once its exp passes.
const tokenCacheTTL = 5 * time.Minute

const expExtension = "exp"

// Claims are the JWT claims the api understands. sub is the user id.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Auth verifies bearer JWTs through a cached go-guardian strategy
type Auth struct {
	secret        []byte
	authenticator auth.Authenticator

	Now func() time.Time
}

// NewAuth sets up go-guardian with a bearer strategy backed by HMAC-signed JWTs
func NewAuth(secret string) *Auth {
	a := &Auth{secret: []byte(secret), Now: time.Now}
	cache := store.NewFIFO(context.Background(), tokenCacheTTL)
	tokenStrategy := bearer.New(a.ValidateToken, cache)

	a.authenticator = auth.New()
	a.authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
	return a
}

// ValidateToken parses token and maps sub to the user id and scope to a group
func (a *Auth) ValidateToken(ctx context.Context, r *http.Request, token string) (auth.Info, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	var groups []string
	if claims.Scope != "" {
		groups = []string{claims.Scope}
	}
	var extensions map[string][]string
	if claims.ExpiresAt != nil {
		extensions = map[string][]string{expExtension: {strconv.FormatInt(claims.ExpiresAt.Unix(), 10)}}
	}
	return auth.NewDefaultUser(claims.Subject, claims.Subject, groups, extensions), nil
}

func (a *Auth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// expired checks the exp carried on a possibly cached user
func (a *Auth) expired(user auth.Info) bool {
	exp := user.Extensions()[expExtension]
	if len(exp) == 0 {
		return false
	}
	unix, err := strconv.ParseInt(exp[0], 10, 64)
	if err != nil {
		return true
	}
	return !a.now().Before(time.Unix(unix, 0))
}

// IssueToken signs a token for sub valid for ttl
func (a *Auth) IssueToken(sub, scope string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token and puts the caller on the context
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		user, err := a.authenticator.Authenticate(r)
		if err == nil && a.expired(user) {
			err = errors.New("token expired")
		}
		if err != nil {
			zap.S().Warnw("unauthorized", "url", r.URL.String(), "error", err)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugw("user authenticated", "userId", user.ID())
		ctx := WithCaller(r.Context(), Caller{UserID: user.ID(), Scopes: user.Groups()})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope lets through callers holding any of scopes. It must run after Middleware.
func RequireScope(next http.Handler, scopes ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if ok {
			for _, s := range scopes {
				if caller.HasScope(s) {
					next.ServeHTTP(w, r)
					return
				}
			}
		}
		zap.S().Warnw("forbidden", "url", r.URL.String(), "userId", caller.UserID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "forbidden"}`))
	})
}
