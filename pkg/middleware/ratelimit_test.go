package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/docgen/pkg/cache"
	"github.com/ngoyal88/docgen/pkg/users"
)

var ok200 = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func hit(h http.Handler, remote string, u *users.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
	req.RemoteAddr = remote
	if u != nil {
		req = req.WithContext(WithUser(req.Context(), u))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLimitsNormalized(t *testing.T) {
	l := Limits{}.normalized()
	assert.Equal(t, 60, l.RequestsPerMinute)
	assert.Equal(t, 60, l.Burst)

	l = Limits{RequestsPerMinute: 10, Burst: 3}.normalized()
	assert.Equal(t, Limits{RequestsPerMinute: 10, Burst: 3}, l)
}

func TestRateLimiterLocalBuckets(t *testing.T) {
	rl := NewRateLimiter(nil, Limits{RequestsPerMinute: 60, Burst: 2}, nil)
	h := rl.Middleware(ok200)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:5000", nil).Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:5001", nil).Code)

	rec := hit(h, "10.0.0.1:5002", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too Many Requests")

	// A different address has its own bucket.
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:5000", nil).Code)
}

func TestRateLimiterKeysByUser(t *testing.T) {
	rl := NewRateLimiter(nil, Limits{RequestsPerMinute: 60, Burst: 1}, nil)
	h := rl.Middleware(ok200)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2:1", alice).Code)
	// Same address, different user.
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", root).Code)
}

func TestRateLimiterSetLimits(t *testing.T) {
	rl := NewRateLimiter(nil, Limits{RequestsPerMinute: 60, Burst: 1}, nil)
	rl.SetLimits(Limits{RequestsPerMinute: 600, Burst: 3})

	assert.Equal(t, Limits{RequestsPerMinute: 600, Burst: 3}, *rl.limits.Load())

	h := rl.Middleware(ok200)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.9:1", nil).Code, "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.9:1", nil).Code)
}

func TestRateLimiterFallsBackWhenRedisFails(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	rl := NewRateLimiter(cache.Wrap(rdb), Limits{RequestsPerMinute: 60, Burst: 1}, nil)
	h := rl.Middleware(ok200)

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1", nil).Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:4242"
	assert.Equal(t, "192.168.1.7", clientIP(req))

	req.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", clientIP(req))
}
