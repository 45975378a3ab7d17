package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eugenenazirov/tapcfg/internal/storage"
)

func TestAccessLogRecordsStatusAndBytes(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := withAccessLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("hello"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	entries := logs.FilterMessage("config request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusAccepted) || fields["bytes"] != int64(5) {
		t.Fatalf("unexpected access log fields: %v", fields)
	}
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	h := withRecovery(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}
}

func TestStatusWriterDefaultsToOK(t *testing.T) {
	underlying := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: underlying, status: http.StatusOK}
	_, _ = sw.Write([]byte("ok"))

	if sw.status != http.StatusOK || sw.bytes != 2 {
		t.Fatalf("expected 200 and 2 bytes, got %d and %d", sw.status, sw.bytes)
	}

	sw = &statusWriter{ResponseWriter: underlying}
	sw.WriteHeader(http.StatusTeapot)
	if sw.status != http.StatusTeapot || underlying.Code != http.StatusTeapot {
		t.Fatalf("expected status to be recorded and propagated")
	}
}

func TestChainOrderAndNilMiddleware(t *testing.T) {
	var order []string
	tag := func(name string) middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), tag("outer"), nil, tag("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if diff := cmp.Diff([]string{"outer", "inner", "handler"}, order); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestWriteLimiterOptionThrottlesWritesOnly(t *testing.T) {
	router := newTestRouter(t, WithLogging(false), WithWriteLimiter(&fixedLimiter{}))

	rec := putField(t, router, "training_steps", `{"value": 10}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected write to be throttled, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}

	for _, path := range []string{"/api/health", "/api/config", "/api/config/training_steps"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected GET %s to bypass the write limiter, got %d", path, rec.Code)
		}
	}
}

func TestWithRateLimitZeroDisablesThrottling(t *testing.T) {
	router := newTestRouter(t, WithLogging(false), WithWriteLimiter(&fixedLimiter{}), WithRateLimit(0, 0))

	if rec := putField(t, router, "training_steps", `{"value": 10}`); rec.Code != http.StatusOK {
		t.Fatalf("expected throttling to be disabled, got %d", rec.Code)
	}
}

func TestWithRateLimitHonoursBurst(t *testing.T) {
	router := newTestRouter(t, WithLogging(false), WithRateLimit(0.001, 2))

	for i := range 2 {
		if rec := putField(t, router, "training_steps", `{"value": 10}`); rec.Code != http.StatusOK {
			t.Fatalf("write %d within burst got %d", i+1, rec.Code)
		}
	}
	if rec := putField(t, router, "training_steps", `{"value": 10}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected write beyond burst to be throttled, got %d", rec.Code)
	}
	if code, _ := getField(t, router, "training_steps"); code != http.StatusOK {
		t.Fatalf("expected reads to keep working after writes ran dry, got %d", code)
	}
}

func newTestRouter(t *testing.T, opts ...RouterOption) http.Handler {
	t.Helper()

	handler := NewHandler(storage.NewMemoryStorage())
	logger := zaptest.NewLogger(t)
	return NewRouter(handler, logger, opts...)
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	router := newTestRouter(t, WithLogging(false))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	id := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected generated UUID request id, got %q: %v", id, err)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	router := newTestRouter(t, WithLogging(false))

	req := httptest.NewRequest(http.MethodDelete, "/api/config/training_steps", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
