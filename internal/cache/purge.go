package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tilegate/internal/observability/logging"
	"tilegate/internal/observability/metrics"
)

// Purger sends a channel invalidation to the edge cache. Implementations
// must be safe for concurrent use.
type Purger interface {
	Purge(ctx context.Context, channel string) error
}

// NopPurger is the unconfigured fallback: every purge succeeds without
// touching the network.
type NopPurger struct{}

func (NopPurger) Purge(context.Context, string) error { return nil }

// HTTPPurger issues PURGE requests against a varnish-style cache endpoint,
// identifying the affected channel through the Invalidation-Channel header.
type HTTPPurger struct {
	baseURL string
	client  *http.Client
	metrics *metrics.Recorder
}

// NewHTTPPurger builds a purger for the given cache endpoint. A nil client
// gets a bounded default; recorder may be nil when purge metrics are not
// collected.
func NewHTTPPurger(baseURL string, client *http.Client, recorder *metrics.Recorder) *HTTPPurger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPurger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		metrics: recorder,
	}
}

func (p *HTTPPurger) Purge(ctx context.Context, channel string) error {
	req, err := http.NewRequestWithContext(ctx, "PURGE", p.baseURL+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Invalidation-Channel", channel)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("purge %s: %s", channel, resp.Status)
	}
	return nil
}

// Invalidate pushes a purge for the channel without blocking the caller on
// failure. Errors are logged and counted; mutations already committed to
// the durable store must not be rolled back over a cold edge cache.
func Invalidate(ctx context.Context, purger Purger, recorder *metrics.Recorder, channel string) {
	if purger == nil {
		purger = NopPurger{}
	}
	logger := logging.LoggerFromContext(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithContext(ctx, logger)
	if recorder != nil {
		recorder.ObserveCachePurge()
	}
	if err := purger.Purge(ctx, channel); err != nil {
		if recorder != nil {
			recorder.ObservePurgeFailure()
		}
		logger.Warn("cache purge failed", "channel", channel, "error", err)
	}
}
