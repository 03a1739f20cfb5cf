package ice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/pkg/circuitbreaker"
	"sfulink/pkg/retry"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testConfig(url string) Config {
	return Config{
		URL:     url,
		Timeout: time.Second,
		Retry: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold:    10,
			SuccessThreshold:    1,
			Timeout:             time.Minute,
			MaxRequestsHalfOpen: 1,
		},
	}
}

func staticToken() (string, error) { return "token-1", nil }

func TestFetcher_ParsesStringAndListURLs(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{"iceServers":[
			{"urls":"stun:stun.example.org:3478"},
			{"urls":["turn:turn.example.org:3478?transport=udp","turns:turn.example.org:443"],"username":"u","credential":"p"},
			{"urls":[]}
		]}`))
	}))
	defer srv.Close()

	servers := NewFetcher(testConfig(srv.URL), staticToken, zap.NewNop().Sugar()).Fetch(context.Background())

	assert.Equal(t, "Bearer token-1", auth.Load())
	assert.Equal(t, []domain.ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478?transport=udp", "turns:turn.example.org:443"}, Username: "u", Credential: "p"},
	}, servers)
}

func TestFetcher_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"iceServers":[{"urls":"stun:a"}]}`))
	}))
	defer srv.Close()

	servers := NewFetcher(testConfig(srv.URL), staticToken, zap.NewNop().Sugar()).Fetch(context.Background())
	assert.Equal(t, []domain.ICEServer{{URLs: []string{"stun:a"}}}, servers)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetcher_FallsBackOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Fallback = []domain.ICEServer{{URLs: []string{"stun:fallback"}}}
	servers := NewFetcher(cfg, staticToken, zap.NewNop().Sugar()).Fetch(context.Background())

	assert.Equal(t, cfg.Fallback, servers)
	assert.EqualValues(t, 3, calls.Load(), "initial attempt plus two retries")
}

func TestFetcher_UnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	servers := NewFetcher(testConfig(srv.URL), staticToken, zap.NewNop().Sugar()).Fetch(context.Background())
	assert.Equal(t, DefaultFallback, servers)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetcher_OpenBreakerSkipsRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.Enabled = false
	cfg.Breaker.FailureThreshold = 2
	f := NewFetcher(cfg, staticToken, zap.NewNop().Sugar())

	for i := 0; i < 4; i++ {
		assert.Equal(t, DefaultFallback, f.Fetch(context.Background()))
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetcher_NoURLUsesFallback(t *testing.T) {
	f := NewFetcher(Config{}, nil, zap.NewNop().Sugar())
	assert.Equal(t, DefaultFallback, f.Fetch(context.Background()))
}

func TestFetcher_CachesSuccessfulResults(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"iceServers":[{"urls":"turn:a","username":"u","credential":"p"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CacheTTL = time.Minute
	f := NewFetcher(cfg, staticToken, zap.NewNop().Sugar())

	first := f.Fetch(context.Background())
	first[0].Username = "mutated"
	first[0].URLs[0] = "turn:mutated"
	second := f.Fetch(context.Background())

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "u", second[0].Username, "callers get a copy")
	assert.Equal(t, []string{"turn:a"}, second[0].URLs, "urls are not shared with the cache")
}

func TestFetcher_EmptyResultIsNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"iceServers":[]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CacheTTL = time.Minute
	f := NewFetcher(cfg, staticToken, zap.NewNop().Sugar())

	assert.Equal(t, DefaultFallback, f.Fetch(context.Background()))
	assert.Equal(t, DefaultFallback, f.Fetch(context.Background()))
	assert.EqualValues(t, 2, calls.Load())
}
