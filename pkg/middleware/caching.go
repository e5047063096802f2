package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ngoyal88/docgen/pkg/cache"
)

const cacheOpTimeout = 2 * time.Second

// responseWrapper writes through to the client while keeping a copy of the body.
type responseWrapper struct {
	http.ResponseWriter
	body       bytes.Buffer
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// ResponseCache caches successful JSON responses to POST requests per user,
// keyed by a hash of the request body. Redis errors degrade to a cache miss.
func ResponseCache(rdb *cache.Client, prefix string, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rdb == nil || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				respondError(w, "Failed to read body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			owner := "anonymous"
			if u, ok := UserFromContext(r.Context()); ok {
				owner = u.ID
			}
			sum := sha256.Sum256(bodyBytes)
			key := prefix + owner + ":" + hex.EncodeToString(sum[:])

			ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
			val, err := rdb.Get(ctx, key)
			cancel()
			if err == nil {
				cacheHits.Inc()
				w.Header().Set("X-Cache", "HIT")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(val)
				return
			}
			if !errors.Is(err, cache.ErrMiss) {
				logger.Warn("response cache read failed", zap.Error(err))
			}

			cacheMisses.Inc()
			w.Header().Set("X-Cache", "MISS")
			spy := &responseWrapper{ResponseWriter: w}
			next.ServeHTTP(spy, r)

			if spy.statusCode != http.StatusOK {
				return
			}
			ctx, cancel = context.WithTimeout(context.Background(), cacheOpTimeout)
			defer cancel()
			if err := rdb.Set(ctx, key, spy.body.Bytes(), ttl); err != nil {
				logger.Warn("response cache write failed", zap.Error(err))
			}
		})
	}
}
