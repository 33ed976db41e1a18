// Package oracle supplies the currency/USD conversion rate used by the
// graduation monitor. The rate is informational: a degraded oracle must
// never block trading, so the cached source always answers, falling back
// to the last good value and finally to a configured static rate.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source returns the current USD price of one unit of the settlement
// currency (e.g. SOL/USD).
type Source interface {
	USDPrice(ctx context.Context) (float64, error)
}

// HTTPSource fetches the rate from a JSON price endpoint shaped like
// {"price": 142.5}.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) USDPrice(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	if body.Price <= 0 {
		return 0, fmt.Errorf("price endpoint returned non-positive rate %f", body.Price)
	}
	return body.Price, nil
}

// Cached wraps a Source with a TTL cache and a two-step degradation
// path: serve the cached value while fresh, on upstream failure serve
// the stale value, and only if no value was ever fetched fall back to
// the static rate. USDPrice never returns an error.
type Cached struct {
	upstream Source
	ttl      time.Duration
	fallback float64
	logger   *zap.Logger

	mu      sync.Mutex
	value   float64
	fetched time.Time
}

func NewCached(upstream Source, ttl time.Duration, fallback float64, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{
		upstream: upstream,
		ttl:      ttl,
		fallback: fallback,
		logger:   logger.Named("oracle"),
	}
}

func (c *Cached) USDPrice(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value > 0 && time.Since(c.fetched) < c.ttl {
		return c.value, nil
	}

	price, err := c.upstream.USDPrice(ctx)
	if err == nil {
		c.value = price
		c.fetched = time.Now()
		return price, nil
	}

	if c.value > 0 {
		c.logger.Warn("price fetch failed, serving stale rate",
			zap.Float64("stale", c.value),
			zap.Duration("age", time.Since(c.fetched)),
			zap.Error(err))
		return c.value, nil
	}

	c.logger.Warn("price fetch failed with empty cache, serving fallback rate",
		zap.Float64("fallback", c.fallback),
		zap.Error(err))
	return c.fallback, nil
}
