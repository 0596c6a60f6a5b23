package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/bloodbond-api/api"
)

const testSecret = "test-secret"

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := api.CallerFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Write([]byte(caller.UserID))
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	a := api.NewAuth(testSecret)
	token, err := a.IssueToken("user-1", "", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/push-tokens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	a.Middleware(echoCaller()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", rr.Body.String())
}

func TestMiddleware_MissingToken(t *testing.T) {
	a := api.NewAuth(testSecret)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/push-tokens", nil)
	rr := httptest.NewRecorder()
	a.Middleware(echoCaller()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddleware_WrongSecret(t *testing.T) {
	token, err := api.NewAuth("other-secret").IssueToken("user-1", "", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/push-tokens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	api.NewAuth(testSecret).Middleware(echoCaller()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	a := api.NewAuth(testSecret)
	token, err := a.IssueToken("user-1", "", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/push-tokens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	a.Middleware(echoCaller()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddleware_CachedTokenRejectedAfterExpiry(t *testing.T) {
	a := api.NewAuth(testSecret)
	issued := time.Now()
	a.Now = func() time.Time { return issued }
	token, err := a.IssueToken("user-1", "", time.Minute)
	require.NoError(t, err)

	call := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/push-tokens", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		a.Middleware(echoCaller()).ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, call())

	a.Now = func() time.Time { return issued.Add(2 * time.Minute) }
	assert.Equal(t, http.StatusUnauthorized, call())
}

func TestRequireScope(t *testing.T) {
	a := api.NewAuth(testSecret)
	admin, err := a.IssueToken("admin-1", api.ScopeAdmin, time.Hour)
	require.NoError(t, err)
	user, err := a.IssueToken("user-1", "", time.Hour)
	require.NoError(t, err)

	h := a.Middleware(api.RequireScope(echoCaller(), api.ScopeAdmin))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/broadcast", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/notifications/broadcast", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	var seen string
	h := api.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
}

func TestTimeoutMiddleware(t *testing.T) {
	h := api.TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "Request timeout")
}
