package peer

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

type HealthStatus string

const (
	StatusUp   HealthStatus = "UP"
	StatusDown HealthStatus = "DOWN"
)

type Health struct {
	Name    string       `json:"name"`
	BaseURL string       `json:"base_url"`
	Status  HealthStatus `json:"status"`
	Probe   string       `json:"probe,omitempty"`
}

// HealthChecker probes every peer concurrently. It is operational tooling
// and plays no part in fallback resolution.
type HealthChecker struct {
	registry *Registry
	http     *http.Client
	timeout  time.Duration
	paths    []string
}

func NewHealthChecker(registry *Registry, httpClient *http.Client, timeout time.Duration) *HealthChecker {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HealthChecker{
		registry: registry,
		http:     httpClient,
		timeout:  timeout,
		paths:    []string{"/health/live", "/"},
	}
}

func (h *HealthChecker) Check(ctx context.Context) []Health {
	peers := h.registry.Peers()
	results := make([]Health, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range peers {
		g.Go(func() error {
			results[i] = h.probe(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (h *HealthChecker) probe(ctx context.Context, p Peer) Health {
	res := Health{Name: p.Name, BaseURL: p.BaseURL, Status: StatusDown}
	for _, path := range h.paths {
		if h.ok(ctx, p.BaseURL+path) {
			res.Status = StatusUp
			res.Probe = p.BaseURL + path
			return res
		}
	}
	return res
}

func (h *HealthChecker) ok(ctx context.Context, target string) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
