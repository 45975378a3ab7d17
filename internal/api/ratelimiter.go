package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// writeLimiter decides whether one more config write may proceed now.
type writeLimiter interface {
	Allow() bool
}

// tokenBucket is a writeLimiter backed by rate.Limiter.
type tokenBucket struct {
	limiter *rate.Limiter
}

func newTokenBucket(perSecond float64, burst int) *tokenBucket {
	return &tokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (b *tokenBucket) Allow() bool {
	return b.limiter.Allow()
}

// retryAfter is the time until the bucket holds a full token again.
func (b *tokenBucket) retryAfter() time.Duration {
	tokens := b.limiter.Tokens()
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(b.limiter.Limit()) * float64(time.Second))
}

// throttleWrites rejects PUT, POST, PATCH and DELETE requests with 429 once
// limiter runs dry. Other methods pass through untouched.
func throttleWrites(limiter writeLimiter) middleware {
	if limiter == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isWrite(r.Method) || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", retryAfterSeconds(limiter))
			writeError(w, http.StatusTooManyRequests, "Too many requests",
				"config write rate exceeded, retry after the indicated delay")
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPut, http.MethodPost, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// retryAfterSeconds renders the Retry-After value, never below one second.
func retryAfterSeconds(limiter writeLimiter) string {
	seconds := 1
	if b, ok := limiter.(*tokenBucket); ok {
		if wait := math.Ceil(b.retryAfter().Seconds()); wait > 1 {
			seconds = int(wait)
		}
	}
	return strconv.Itoa(seconds)
}
