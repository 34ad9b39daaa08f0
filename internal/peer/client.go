package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/logger"
	"github.com/hackgods/appointment-replication/internal/metrics"
)

var ErrNotFound = errors.New("not found on any peer")

const maxBodyBytes = 1 << 20

type ClientConfig struct {
	Timeout   time.Duration // per peer call
	CacheTTL  time.Duration // zero disables caching of peer hits
	CacheSize int
}

// Client resolves entities missing locally by asking each peer in turn.
type Client struct {
	registry *Registry
	http     *http.Client
	timeout  time.Duration
	cache    *expirable.LRU[string, []byte]
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewClient(registry *Registry, httpClient *http.Client, cfg ClientConfig, log logrus.FieldLogger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	c := &Client{
		registry: registry,
		http:     httpClient,
		timeout:  cfg.Timeout,
		log:      log.WithField("component", "peer-client"),
		metrics:  m,
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 1024
		}
		c.cache = expirable.NewLRU[string, []byte](size, nil, cfg.CacheTTL)
	}
	return c
}

// Resolve returns the body of GET /internal/{resource}/{id} from the first
// peer that answers 2xx with a non-empty body. When ctx carries the hop
// marker no peer is contacted at all. Every failure degrades to ErrNotFound;
// a failing peer is never retried, the next one is tried instead.
func (c *Client) Resolve(ctx context.Context, resource, id string) ([]byte, error) {
	log := logger.FromContext(ctx, c.log).WithFields(logrus.Fields{
		"resource":  resource,
		"entity_id": id,
	})

	if IsHop(ctx) {
		log.Debug("request is a peer hop, skipping fallback")
		c.metrics.PeerFallback(resource, "hop")
		return nil, ErrNotFound
	}

	key := resource + "/" + id
	if c.cache != nil {
		if body, ok := c.cache.Get(key); ok {
			c.metrics.PeerFallback(resource, "cached")
			return body, nil
		}
	}

	attempts := 0
	for _, p := range c.registry.Peers() {
		if ctx.Err() != nil {
			break
		}
		attempts++

		body, err := c.fetch(ctx, p, resource, id)
		if err != nil {
			log.WithError(err).WithField("peer", p.Name).Debug("peer did not resolve entity")
			c.metrics.PeerRequest(p.Name, outcome(err))
			continue
		}

		c.metrics.PeerRequest(p.Name, "found")
		c.metrics.PeerFallback(resource, "found")
		log.WithFields(logrus.Fields{"peer": p.Name, "attempts": attempts}).Info("entity resolved from peer")
		if c.cache != nil {
			c.cache.Add(key, body)
		}
		return body, nil
	}

	log.WithField("attempts", attempts).Info("entity not found on any peer")
	c.metrics.PeerFallback(resource, "exhausted")
	return nil, ErrNotFound
}

var errPeerNotFound = errors.New("peer returned not found")

func (c *Client) fetch(ctx context.Context, p Peer, resource, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/internal/%s/%s", p.BaseURL, url.PathEscape(resource), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HopHeader, "1")
	req.Header.Set("Accept", "application/json")
	correlation.Inject(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errPeerNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("peer status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read peer body: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errPeerNotFound
	}
	return trimmed, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, errPeerNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
