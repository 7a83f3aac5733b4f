// Package streamdata is the secondary market-data source: a streaming
// quote feed over a persistent WebSocket connection, modeled on
// internal/clients/tradernet.MarketStatusWebSocket's connect/reconnect and
// thread-safe staleness-checked cache.
package streamdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout          = 15 * time.Second
	writeWait            = 10 * time.Second
	baseReconnectDelay   = 2 * time.Second
	maxReconnectDelay    = time.Minute
	cacheStaleThreshold  = 5 * time.Minute
	windowMax            = 600
	window               = time.Minute
)

// Client streams quote updates and caches the latest one per symbol.
type Client struct {
	url string

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopChan   chan struct{}

	cacheMu    sync.RWMutex
	cache      map[string]quoteUpdate
	requestCt  int
	windowOpen time.Time

	log zerolog.Logger
}

type quoteUpdate struct {
	ticker    domain.Ticker
	updatedAt time.Time
}

type wireQuote struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	DailyChange        float64 `json:"daily_change"`
	DailyChangePercent float64 `json:"daily_change_percent"`
}

// NewClient creates a streaming secondary-source client. Start must be
// called before Fetch returns live data; until the first message arrives,
// Fetch reports the symbol unavailable.
func NewClient(url string, log zerolog.Logger) *Client {
	return &Client{
		url:        url,
		cache:      make(map[string]quoteUpdate),
		stopChan:   make(chan struct{}),
		windowOpen: time.Now().Add(window),
		log:        log.With().Str("client", "streamdata").Logger(),
	}
}

func (c *Client) Name() string { return "secondary" }

// Start connects and begins the background read loop.
func (c *Client) Start() error {
	if err := c.connect(); err != nil {
		c.log.Warn().Err(err).Msg("initial stream connect failed, retrying in background")
		go c.reconnectLoop()
		return err
	}
	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()
	go c.readLoop(ctx)
	return nil
}

// Stop gracefully disconnects.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.stopChan)
	return c.disconnect()
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.connected = true
	return nil
}

func (c *Client) disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connected = false
	return err
}

func (c *Client) reconnectLoop() {
	delay := baseReconnectDelay
	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}

		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if stopped {
			return
		}

		if err := c.connect(); err == nil {
			c.mu.RLock()
			ctx := c.connCtx
			c.mu.RUnlock()
			go c.readLoop(ctx)
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var q wireQuote
		if err := json.Unmarshal(data, &q); err != nil {
			continue
		}
		if q.Price <= 0 {
			continue
		}

		c.cacheMu.Lock()
		c.cache[q.Symbol] = quoteUpdate{
			ticker: domain.Ticker{
				Symbol:             q.Symbol,
				Price:              q.Price,
				DailyChange:        q.DailyChange,
				DailyChangePercent: q.DailyChangePercent,
			},
			updatedAt: time.Now(),
		}
		c.cacheMu.Unlock()
	}
}

// Remaining reports an approximate request budget; streaming sources are
// not per-request rate-limited the way REST sources are, but the cascade
// interface requires the method, so it reports the cache hit budget per
// minute window instead.
func (c *Client) Remaining() int {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	now := time.Now()
	if now.After(c.windowOpen) {
		c.requestCt = 0
		c.windowOpen = now.Add(window)
	}
	if r := windowMax - c.requestCt; r > 0 {
		return r
	}
	return 0
}

// Fetch returns the latest cached quote for symbol if it is not stale.
func (c *Client) Fetch(ctx context.Context, symbol string) (domain.Ticker, error) {
	c.cacheMu.Lock()
	c.requestCt++
	c.cacheMu.Unlock()

	c.cacheMu.RLock()
	update, ok := c.cache[symbol]
	c.cacheMu.RUnlock()

	if !ok {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "secondary source has no cached quote for "+symbol, nil)
	}
	if time.Since(update.updatedAt) > cacheStaleThreshold {
		return domain.Ticker{}, marketsimerr.New(marketsimerr.KindUpstreamUnavailable, "secondary source quote is stale for "+symbol, nil)
	}
	return update.ticker, nil
}
