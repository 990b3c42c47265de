package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tilestream/internal/metrics"
)

func TestTokenBucketRefillsEachSecond(t *testing.T) {
	now := time.Unix(100, 0)
	tb := NewTokenBucket(2, func() time.Time { return now })
	if !tb.Allow() || !tb.Allow() || tb.Allow() {
		t.Fatal("capacity not enforced")
	}
	now = now.Add(time.Second)
	if !tb.Allow() {
		t.Fatal("bucket not refilled")
	}
}

func TestLimitRejectsWith429(t *testing.T) {
	now := time.Unix(100, 0)
	h := Limit(NewTokenBucket(1, func() time.Time { return now }), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	before := testutil.ToFloat64(metrics.HTTPRejectedTotal)
	codes := []int{}
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if d := testutil.ToFloat64(metrics.HTTPRejectedTotal) - before; d != 1 {
		t.Fatalf("rejected delta = %v", d)
	}
}

func TestWrapDisabledByDefault(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	inner := http.NotFoundHandler()
	if h := Wrap(inner); h == nil {
		t.Fatal("nil handler")
	}
	rec := httptest.NewRecorder()
	Wrap(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
}
