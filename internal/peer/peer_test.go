package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
)

func TestNewRegistry_ExcludesSelf(t *testing.T) {
	reg := NewRegistry("http://localhost:8080", []Peer{
		{Name: "self-loopback", BaseURL: "http://127.0.0.1:8080"},
		{Name: "self-name", BaseURL: "http://localhost:8080/"},
		{Name: "b", BaseURL: "http://node-b:8080"},
		{Name: "c", BaseURL: "http://localhost:8081"},
		{Name: "dup", BaseURL: "http://node-b:8080/"},
		{BaseURL: "https://node-d"},
	})

	peers := reg.Peers()
	require.Len(t, peers, 3)
	assert.Equal(t, "b", peers[0].Name)
	assert.Equal(t, "c", peers[1].Name)
	assert.Equal(t, "node-d:443", peers[2].Name)
	assert.Equal(t, "https://node-d", peers[2].BaseURL)
}

func TestHopMiddleware(t *testing.T) {
	var sawHop bool
	h := HopMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		sawHop = IsHop(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/appointments/x", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, sawHop)

	req.Header.Set(HopHeader, "1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, sawHop)
}

type countingPeer struct {
	calls  atomic.Int32
	status atomic.Int32
	body   string

	mu   sync.Mutex
	seen http.Header
}

func newCountingPeer(status int, body string) *countingPeer {
	p := &countingPeer{body: body}
	p.status.Store(int32(status))
	return p
}

func (p *countingPeer) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		p.mu.Lock()
		p.seen = r.Header.Clone()
		p.mu.Unlock()
		w.WriteHeader(int(p.status.Load()))
		_, _ = w.Write([]byte(p.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (p *countingPeer) header(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen.Get(name)
}

func newTestClient(t *testing.T, cfg ClientConfig, servers ...*httptest.Server) *Client {
	t.Helper()
	peers := make([]Peer, 0, len(servers))
	for i, s := range servers {
		peers = append(peers, Peer{Name: string(rune('a' + i)), BaseURL: s.URL})
	}
	reg := NewRegistry("http://self.invalid:1", peers)
	return NewClient(reg, nil, cfg, logger.Discard(), metrics.MustNewMetrics(prometheus.NewRegistry()))
}

func TestResolve_HopMakesNoCalls(t *testing.T) {
	p := newCountingPeer(http.StatusOK, `{"id":"1"}`)
	c := newTestClient(t, ClientConfig{}, p.server(t))

	_, err := c.Resolve(WithHop(context.Background()), "appointments", "1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, p.calls.Load())
}

func TestResolve_OneAttemptPerPeer(t *testing.T) {
	failing := newCountingPeer(http.StatusInternalServerError, "")
	missing := newCountingPeer(http.StatusNotFound, "")
	c := newTestClient(t, ClientConfig{}, failing.server(t), missing.server(t))

	_, err := c.Resolve(context.Background(), "appointments", "42")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 1, failing.calls.Load())
	assert.EqualValues(t, 1, missing.calls.Load())
}

func TestResolve_FirstHitWins(t *testing.T) {
	empty := newCountingPeer(http.StatusOK, "null")
	hit := newCountingPeer(http.StatusOK, ` {"id":"42"} `)
	never := newCountingPeer(http.StatusOK, `{"id":"other"}`)
	c := newTestClient(t, ClientConfig{}, empty.server(t), hit.server(t), never.server(t))

	ctx := correlation.WithID(context.Background(), "corr-9")
	body, err := c.Resolve(ctx, "appointments", "42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42"}`, string(body))
	assert.Zero(t, never.calls.Load())

	assert.Equal(t, "1", hit.header(HopHeader))
	assert.Equal(t, "corr-9", hit.header(correlation.HeaderName))
}

func TestResolve_TimeoutMovesOn(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	hit := newCountingPeer(http.StatusOK, `{"id":"7"}`)

	c := newTestClient(t, ClientConfig{Timeout: 50 * time.Millisecond}, slow, hit.server(t))
	body, err := c.Resolve(context.Background(), "appointments", "7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7"}`, string(body))
}

func TestResolve_CachesHitsOnly(t *testing.T) {
	hit := newCountingPeer(http.StatusOK, `{"id":"5"}`)
	c := newTestClient(t, ClientConfig{CacheTTL: time.Minute, CacheSize: 8}, hit.server(t))

	for range 3 {
		_, err := c.Resolve(context.Background(), "appointments", "5")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, hit.calls.Load())

	hit.status.Store(http.StatusNotFound)
	for range 2 {
		_, err := c.Resolve(context.Background(), "appointments", "6")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.EqualValues(t, 3, hit.calls.Load())
}

func TestResolve_NoPeers(t *testing.T) {
	c := newTestClient(t, ClientConfig{})
	_, err := c.Resolve(context.Background(), "appointments", "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHealthChecker(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/live" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(live.Close)

	rootOnly := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(rootOnly.Close)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	reg := NewRegistry("http://self.invalid:1", []Peer{
		{Name: "live", BaseURL: live.URL},
		{Name: "root", BaseURL: rootOnly.URL},
		{Name: "down", BaseURL: down.URL},
	})
	got := NewHealthChecker(reg, nil, time.Second).Check(context.Background())

	require.Len(t, got, 3)
	assert.Equal(t, StatusUp, got[0].Status)
	assert.Equal(t, live.URL+"/health/live", got[0].Probe)
	assert.Equal(t, StatusUp, got[1].Status)
	assert.Equal(t, rootOnly.URL+"/", got[1].Probe)
	assert.Equal(t, StatusDown, got[2].Status)
	assert.Empty(t, got[2].Probe)
}
