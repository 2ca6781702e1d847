package facematch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/metrics"
)

type countingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingSink() *countingSink {
	return &countingSink{counts: make(map[string]int)}
}

func (s *countingSink) Inc(name string, tags ...metrics.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name]++
}

func (s *countingSink) Timing(string, time.Duration, ...metrics.Tag) {}

func (s *countingSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

func newTestClient(baseURL string, timeout time.Duration, sink metrics.Sink) *HTTPClient {
	c := NewHTTPClient(baseURL, timeout, sink, zap.NewNop())
	c.initialBackoff = time.Millisecond
	c.maxBackoff = 2 * time.Millisecond
	return c
}

func TestCompareReturnsThresholdDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 0.82}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, metrics.Nop{})
	result, err := client.Compare(context.Background(), []byte("a"), []byte("b"), 0.6)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Score != 0.82 {
		t.Fatalf("unexpected score: %v", result.Score)
	}
	if !result.Pass {
		t.Fatal("expected pass for score above threshold")
	}
	if result.Threshold != 0.6 {
		t.Fatalf("unexpected threshold: %v", result.Threshold)
	}
	if result.Latency <= 0 {
		t.Fatalf("expected positive latency, got %v", result.Latency)
	}
}

func TestCompareFailsScoreBelowThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 0.4}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, metrics.Nop{})
	result, err := client.Compare(context.Background(), []byte("a"), []byte("b"), 0.6)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Pass {
		t.Fatal("expected fail for score below threshold")
	}
}

func TestCompareTimesOutAgainstSlowService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately slow; unblocks when the client gives up. The body
		// must be drained first or the server never notices the client
		// disconnect and the request context is never cancelled.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Millisecond, metrics.Nop{})
	_, err := client.Compare(context.Background(), []byte("a"), []byte("b"), 0.6)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var matchErr *MatchError
	if !errors.As(err, &matchErr) {
		t.Fatalf("expected MatchError, got %T", err)
	}
	if matchErr.Kind != KindTimeout {
		t.Fatalf("expected timeout kind, got %s", matchErr.Kind)
	}
}

func TestCompareRetriesTransientFailureWithSameToken(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get("Idempotency-Key"))
		attempt := len(tokens)
		mu.Unlock()
		if attempt == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"score": 0.9}`))
	}))
	defer server.Close()

	sink := newCountingSink()
	client := newTestClient(server.URL, time.Second, sink)
	result, err := client.Compare(context.Background(), []byte("a"), []byte("b"), 0.6)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.Pass {
		t.Fatal("expected pass")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(tokens))
	}
	if tokens[0] == "" || tokens[0] != tokens[1] {
		t.Fatalf("expected identical idempotency token across retries, got %q and %q", tokens[0], tokens[1])
	}
	if sink.count("facematch.retry") != 1 {
		t.Fatalf("expected 1 retry counted, got %d", sink.count("facematch.retry"))
	}
}

func TestCompareDoesNotRetryInvalidInput(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, metrics.Nop{})
	_, err := client.Compare(context.Background(), []byte("a"), []byte("b"), 0.6)
	var matchErr *MatchError
	if !errors.As(err, &matchErr) {
		t.Fatalf("expected MatchError, got %T", err)
	}
	if matchErr.Kind != KindInvalidInput {
		t.Fatalf("expected invalid input kind, got %s", matchErr.Kind)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestCompareExhaustsRetryBudget(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, metrics.Nop{})
	_, err := client.Compare(context.Background(), []byte("a"), []byte("b"), 0.6)
	var matchErr *MatchError
	if !errors.As(err, &matchErr) {
		t.Fatalf("expected MatchError, got %T", err)
	}
	if matchErr.Kind != KindServiceUnavailable {
		t.Fatalf("expected service unavailable kind, got %s", matchErr.Kind)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCompareClampsOutOfRangeScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 1.7}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, metrics.Nop{})
	result, err := client.Compare(context.Background(), []byte("a"), []byte("b"), 0.6)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Score != 1.0 {
		t.Fatalf("expected clamped score 1.0, got %v", result.Score)
	}
	if !result.Pass {
		t.Fatal("expected pass after clamping")
	}
}

func TestDecideThresholdLaw(t *testing.T) {
	cases := []struct {
		score     float64
		threshold float64
		clamped   float64
		pass      bool
	}{
		{0.82, 0.6, 0.82, true},
		{0.4, 0.6, 0.4, false},
		{0.6, 0.6, 0.6, true},
		{-0.2, 0.0, 0.0, true},
		{1.7, 0.9, 1.0, true},
		{-1.0, 0.1, 0.0, false},
	}
	for _, tc := range cases {
		clamped, pass := Decide(tc.score, tc.threshold)
		if clamped != tc.clamped {
			t.Fatalf("Decide(%v, %v): expected clamped %v, got %v", tc.score, tc.threshold, tc.clamped, clamped)
		}
		if pass != tc.pass {
			t.Fatalf("Decide(%v, %v): expected pass %v, got %v", tc.score, tc.threshold, tc.pass, pass)
		}
	}
}
