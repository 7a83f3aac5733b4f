// Package tradernetdata is the primary market-data source: a REST quote
// client modeled on internal/clients/tradernet's API-key authenticated
// client, with its own rolling rate-limit window (§4.2).
package tradernetdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/rs/zerolog"
)

const defaultWindow = time.Minute
const defaultWindowMax = 120

// Client is the primary, full-feature market-data source.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	log        zerolog.Logger

	window *windowCounter
}

// Config configures the client's own rolling rate-limit window,
// independent of the provider-level global throttle.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	WindowMax     int
	Window        time.Duration
}

// NewClient creates a new primary source client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.WindowMax <= 0 {
		cfg.WindowMax = defaultWindowMax
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		log:        log.With().Str("client", "tradernetdata").Logger(),
		window:     newWindowCounter(cfg.WindowMax, cfg.Window),
	}
}

func (c *Client) Name() string { return "primary" }

func (c *Client) Remaining() int { return c.window.remaining() }

type quoteResponse struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	DailyChange        float64 `json:"daily_change"`
	DailyChangePercent float64 `json:"daily_change_percent"`
}

// Fetch retrieves a single symbol's snapshot from the primary source.
func (c *Client) Fetch(ctx context.Context, symbol string) (domain.Ticker, error) {
	if ok, _ := c.window.tryAcquire(); !ok {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "primary source rate window exhausted", nil)
	}

	endpoint := fmt.Sprintf("%s/quote?%s", c.baseURL, url.Values{"symbol": {symbol}, "api_key": {c.apiKey}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "build primary request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "primary request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, fmt.Sprintf("primary returned status %d", resp.StatusCode), nil)
	}

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "decode primary response", err)
	}

	if q.Price <= 0 || q.Price > 100000 {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "primary returned out-of-range price", nil)
	}

	return domain.Ticker{
		Symbol:             symbol,
		Price:              q.Price,
		DailyChange:        q.DailyChange,
		DailyChangePercent: q.DailyChangePercent,
	}, nil
}

// windowCounter mirrors marketdata's internal counter, which that package
// does not export; this client keeps its own copy.
type windowCounter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	count   int
	resetAt time.Time
}

func newWindowCounter(max int, window time.Duration) *windowCounter {
	return &windowCounter{max: max, window: window, resetAt: time.Now().Add(window)}
}

func (w *windowCounter) tryAcquire() (bool, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(w.window)
	}
	if w.count >= w.max {
		return false, w.resetAt
	}
	w.count++
	return true, w.resetAt
}

func (w *windowCounter) remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r := w.max - w.count; r > 0 {
		return r
	}
	return 0
}
