// Package alphavantagedata is the tertiary market-data source: a REST
// client with a fixed daily request budget and an in-memory TTL cache by
// request key, modeled on internal/clients/alphavantage.
package alphavantagedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/rs/zerolog"
)

// ErrRateLimitExceeded is returned once the daily request budget is spent.
type ErrRateLimitExceeded struct{}

func (ErrRateLimitExceeded) Error() string { return "alphavantagedata: daily rate limit exceeded" }

const (
	defaultDailyBudget = 25
	defaultCacheTTL    = 5 * time.Minute
)

// Client is the tertiary market-data source.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        zerolog.Logger

	mu            sync.Mutex
	dailyBudget   int
	used          int
	resetAt       time.Time
	cache         map[string]cacheEntry
}

type cacheEntry struct {
	ticker    domain.Ticker
	expiresAt time.Time
}

// NewClient creates a new tertiary source client.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		log:         log.With().Str("client", "alphavantagedata").Logger(),
		dailyBudget: defaultDailyBudget,
		resetAt:     time.Now().Add(24 * time.Hour),
		cache:       make(map[string]cacheEntry),
	}
}

func (c *Client) Name() string { return "tertiary" }

func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().After(c.resetAt) {
		c.used = 0
		c.resetAt = time.Now().Add(24 * time.Hour)
	}
	if c.used >= c.dailyBudget {
		return ErrRateLimitExceeded{}
	}
	c.used++
	return nil
}

func (c *Client) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.dailyBudget - c.used; r > 0 {
		return r
	}
	return 0
}

func (c *Client) getFromCache(key string) (domain.Ticker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return domain.Ticker{}, false
	}
	return e.ticker, true
}

func (c *Client) setCache(key string, t domain.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{ticker: t, expiresAt: time.Now().Add(defaultCacheTTL)}
}

type quoteResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
		Change string `json:"09. change"`
	} `json:"Global Quote"`
}

// Fetch retrieves a single symbol's snapshot, honoring the cache before
// spending a unit of the daily budget.
func (c *Client) Fetch(ctx context.Context, symbol string) (domain.Ticker, error) {
	if cached, ok := c.getFromCache(symbol); ok {
		return cached, nil
	}

	if err := c.checkRateLimit(); err != nil {
		var rl ErrRateLimitExceeded
		if errors.As(err, &rl) {
			return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "tertiary source daily budget exhausted", err)
		}
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "tertiary source rate check failed", err)
	}

	endpoint := fmt.Sprintf("%s/query?%s", c.baseURL, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {c.apiKey},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "build tertiary request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "tertiary request failed", err)
	}
	defer resp.Body.Close()

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "decode tertiary response", err)
	}

	var price float64
	if _, err := fmt.Sscanf(q.GlobalQuote.Price, "%f", &price); err != nil || price <= 0 {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "tertiary returned no usable price", nil)
	}

	t := domain.Ticker{Symbol: symbol, Price: price}
	c.setCache(symbol, t)
	return t, nil
}
