// Package clients talks to the internal services that take part in the
// scheduling saga: the auth service that owns patient accounts and the
// medical record service.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/correlation"
	"github.com/hackgods/appointment-replication/internal/logger"
)

var (
	ErrUnauthorized = errors.New("internal service rejected credentials")
	ErrNotFound     = errors.New("internal service resource not found")
	ErrRejected     = errors.New("internal service rejected request")
	ErrTransient    = errors.New("internal service unavailable")
)

type Options struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	ServiceToken    string
}

// caller is the shared JSON-over-HTTP transport. Transient failures are
// retried with exponential backoff; everything else fails immediately.
type caller struct {
	base string
	http *http.Client
	opts Options
	log  logrus.FieldLogger
}

func newCaller(base string, opts Options, log logrus.FieldLogger, name string) *caller {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	return &caller{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: opts.Timeout},
		opts: opts,
		log:  log.WithField("component", name),
	}
}

func (c *caller) enabled() bool { return c.base != "" }

func (c *caller) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxElapsedTime = 4 * c.opts.Timeout
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.opts.MaxRetries, 0))), ctx)
}

func (c *caller) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	log := logger.FromContext(ctx, c.log).WithFields(logrus.Fields{"method": method, "path": path})
	attempt := 0

	op := func() error {
		attempt++
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.opts.ServiceToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.ServiceToken)
		}
		correlation.Inject(ctx, req)

		resp, err := c.http.Do(req)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("internal call failed")
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()

		if err := classify(resp); err != nil {
			if errors.Is(err, ErrTransient) {
				log.WithError(err).WithField("attempt", attempt).Warn("internal call failed")
				return err
			}
			return backoff.Permanent(err)
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	return backoff.Retry(op, c.policy(ctx))
}

func classify(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, code)
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, code)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, code, strings.TrimSpace(string(msg)))
	}
}
