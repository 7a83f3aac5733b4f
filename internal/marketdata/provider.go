// Package marketdata implements the MarketDataProvider of §4.2: a source
// cascade (primary → secondary → tertiary → synthetic fallback), a global
// throttle on the primary, a per-ticker TTL cache, and a batched
// Prefetch used by the realtime scheduler.
package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"
)

// knownRanges gives a handful of well-known symbols a believable synthetic
// starting price range; everything else defaults to $50-$300 (§4.2).
var knownRanges = map[string][2]float64{
	"AAPL": {150, 220},
	"MSFT": {300, 430},
	"GOOGL": {100, 180},
	"AMZN": {120, 200},
	"NVDA": {400, 950},
	"SPY":  {400, 560},
}

const (
	defaultLo = 50.0
	defaultHi = 300.0

	intradayWalkBound = 0.005 // ±0.5% per tick
	dailyVolatility   = 0.035 // σ ≈ 3.5%
	dailyTrend        = 0.0005
	dailyFloor        = 1.0
)

// Provider implements the spec's MarketDataProvider.
type Provider struct {
	mode            domain.Mode
	benchmarkSymbol string

	primary   Source
	secondary Source
	tertiary  Source

	throttle *globalThrottle
	cache    *ttlCache

	lastPriceMu sync.Mutex
	lastPrice   map[string]float64 // per-symbol previous accepted tick, for jump detection

	rngMu sync.Mutex
	rng   *rand.Rand

	historicalMu  sync.Mutex
	historicalBars map[string][]dailyBar // per symbol, Mon-Fri window
	historicalIdx int

	log zerolog.Logger
}

type dailyBar struct {
	open, close float64
	date        time.Time
}

// Config configures a Provider.
type Config struct {
	Mode              domain.Mode
	BenchmarkSymbol   string
	CacheTTL          time.Duration
	ThrottleMax       int
	ThrottleWindow    time.Duration
	RandSeed          int64
}

// NewProvider builds a Provider over the given cascade sources. secondary
// and tertiary may be nil, in which case the cascade falls through to the
// next stage (and ultimately to the synthetic fallback) immediately.
func NewProvider(cfg Config, primary, secondary, tertiary Source, log zerolog.Logger) *Provider {
	if cfg.ThrottleMax <= 0 {
		cfg.ThrottleMax = 60
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = time.Minute
	}
	seed := cfg.RandSeed
	if seed == 0 {
		seed = 1
	}
	return &Provider{
		mode:            cfg.Mode,
		benchmarkSymbol: cfg.BenchmarkSymbol,
		primary:         primary,
		secondary:       secondary,
		tertiary:        tertiary,
		throttle:        newGlobalThrottle(cfg.ThrottleMax, cfg.ThrottleWindow),
		cache:           newTTLCache(cfg.CacheTTL),
		lastPrice:       make(map[string]float64),
		rng:             rand.New(rand.NewSource(seed)),
		historicalBars:  make(map[string][]dailyBar),
		log:             log.With().Str("component", "marketdata").Logger(),
	}
}

func (p *Provider) expectedRange(symbol string) (float64, float64) {
	if r, ok := knownRanges[symbol]; ok {
		return r[0], r[1]
	}
	return defaultLo, defaultHi
}

func (p *Provider) syntheticPrice(symbol string) float64 {
	lo, hi := p.expectedRange(symbol)
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return lo + p.rng.Float64()*(hi-lo)
}

// fetchCascade tries primary (gated by the global throttle in realtime),
// then secondary, then tertiary, stopping at the first success. Only when
// every source fails does it fall back to a synthetic price.
func (p *Provider) fetchCascade(ctx context.Context, symbol string) domain.Ticker {
	if p.mode == domain.ModeRealtime || p.mode == domain.ModeHybrid {
		if cached, ok := p.cache.Get(symbol); ok {
			return cached
		}
	}

	for _, src := range []Source{p.primary, p.secondary, p.tertiary} {
		if src == nil {
			continue
		}
		if src == p.primary && p.mode == domain.ModeRealtime {
			p.throttle.Acquire()
		}
		t, err := src.Fetch(ctx, symbol)
		if err != nil {
			p.log.Warn().Err(err).Str("symbol", symbol).Str("source", src.Name()).Msg("market data source failed, trying next in cascade")
			continue
		}
		if t.Price <= 0 || t.Price > 100000 {
			p.log.Warn().Str("symbol", symbol).Str("source", src.Name()).Float64("price", t.Price).Msg("source returned out-of-range price")
			continue
		}
		p.checkPriceJump(symbol, t.Price)
		p.cache.Set(symbol, t)
		return t
	}

	price := p.syntheticPrice(symbol)
	t := domain.Ticker{Symbol: symbol, Price: price}
	p.checkPriceJump(symbol, t.Price)
	p.cache.Set(symbol, t)
	return t
}

// priceJumpThreshold is the relative move, from one tick to the next for
// the same symbol, that gets logged as a jump (§4.2 validation). Jumps are
// observational only — never rejected.
const priceJumpThreshold = 0.05

// checkPriceJump logs (but never rejects) a >5% relative move from the
// previously accepted price for symbol, then records price as the new
// baseline.
func (p *Provider) checkPriceJump(symbol string, price float64) {
	p.lastPriceMu.Lock()
	prev, ok := p.lastPrice[symbol]
	p.lastPrice[symbol] = price
	p.lastPriceMu.Unlock()

	if !ok || prev <= 0 {
		return
	}
	relative := math.Abs(price-prev) / prev
	if relative > priceJumpThreshold {
		p.log.Warn().Str("symbol", symbol).Float64("previous_price", prev).Float64("price", price).
			Float64("relative_change", relative).Msg("price jump exceeds 5% relative to previous tick")
	}
}

// InitialMarketData is called once per process (§4.2).
func (p *Provider) InitialMarketData(ctx context.Context, symbols []string) (domain.MarketData, error) {
	md := make(domain.MarketData, len(symbols)+1)

	all := append([]string{}, symbols...)
	hasBenchmark := false
	for _, s := range all {
		if s == p.benchmarkSymbol {
			hasBenchmark = true
		}
	}
	if !hasBenchmark && p.benchmarkSymbol != "" {
		all = append(all, p.benchmarkSymbol)
	}

	switch p.mode {
	case domain.ModeHistorical:
		if err := p.preloadHistoricalWindow(ctx, all); err != nil {
			return nil, err
		}
		for _, symbol := range all {
			bars := p.historicalBars[symbol]
			if len(bars) == 0 {
				md[symbol] = domain.Ticker{Symbol: symbol, Price: p.syntheticPrice(symbol)}
				continue
			}
			md[symbol] = domain.Ticker{Symbol: symbol, Price: bars[0].open}
		}
	case domain.ModeSimulated, domain.ModeHybrid:
		for _, symbol := range all {
			if symbol == p.benchmarkSymbol {
				md[symbol] = p.fetchCascade(ctx, symbol)
				continue
			}
			md[symbol] = domain.Ticker{Symbol: symbol, Price: p.syntheticPrice(symbol)}
		}
	case domain.ModeRealtime:
		for _, symbol := range all {
			md[symbol] = p.fetchCascade(ctx, symbol)
			time.Sleep(10 * time.Millisecond) // light pacing across the initial load
		}
	}

	return md, nil
}

// preloadHistoricalWindow builds a five-bar Mon-Fri window for every
// symbol, starting at the Monday on or after the current date. Each bar is
// the primary source's current quote (used as both open and close; the
// bar's date is not passed to the source), or a synthetic bar when the
// primary fails. It does not fetch historical daily OHLC data.
func (p *Provider) preloadHistoricalWindow(ctx context.Context, symbols []string) error {
	p.historicalMu.Lock()
	defer p.historicalMu.Unlock()

	start := nextMonday(time.Now())
	for _, symbol := range symbols {
		bars := make([]dailyBar, 0, 5)
		price := 0.0
		for d := 0; d < 5; d++ {
			date := start.AddDate(0, 0, d)
			t, err := p.fetchHistoricalBarFromPrimary(ctx, symbol, date)
			if err != nil {
				if price == 0 {
					price = p.syntheticPrice(symbol)
				}
				open := price
				close := price * (1 + (p.rng.Float64()-0.5)*dailyVolatility)
				bars = append(bars, dailyBar{open: open, close: close, date: date})
				price = close
				continue
			}
			bars = append(bars, dailyBar{open: t.Price, close: t.Price, date: date})
			price = t.Price
		}
		p.historicalBars[symbol] = bars
	}
	p.historicalIdx = 0
	return nil
}

func (p *Provider) fetchHistoricalBarFromPrimary(ctx context.Context, symbol string, _ time.Time) (domain.Ticker, error) {
	if p.primary == nil {
		return domain.Ticker{}, fmt.Errorf("no primary source configured")
	}
	return p.primary.Fetch(ctx, symbol)
}

func nextMonday(t time.Time) time.Time {
	days := (8 - int(t.Weekday())) % 7
	if t.Weekday() == time.Monday {
		days = 0
	}
	d := t.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}

// NextIntradayMarketData advances one price tick within the trading day
// (§4.2).
func (p *Provider) NextIntradayMarketData(ctx context.Context, prev domain.MarketData, day int, intradayHour float64, prefetched domain.MarketData) (domain.MarketData, error) {
	next := make(domain.MarketData, len(prev))

	switch p.mode {
	case domain.ModeSimulated:
		for symbol, t := range prev {
			if symbol == p.benchmarkSymbol {
				live := p.fetchCascade(ctx, symbol)
				if live.Price <= 0 {
					next[symbol] = t
				} else {
					next[symbol] = live
				}
				continue
			}
			next[symbol] = p.randomWalk(t)
		}

	case domain.ModeHistorical:
		p.historicalMu.Lock()
		idx := p.historicalIdx
		p.historicalMu.Unlock()
		fraction := intradayHour / 6.0
		if fraction > 1 {
			fraction = 1
		}
		for symbol, t := range prev {
			bars := p.historicalBars[symbol]
			if idx >= len(bars) {
				next[symbol] = t
				continue
			}
			bar := bars[idx]
			drift := (p.rng.Float64() - 0.5) * 0.01
			price := bar.open + (bar.close-bar.open)*fraction + bar.open*drift
			if price <= 0 {
				price = t.Price
			}
			next[symbol] = domain.Ticker{Symbol: symbol, Price: price}
		}

	case domain.ModeRealtime, domain.ModeHybrid:
		for symbol, t := range prev {
			if prefetched != nil {
				if pt, ok := prefetched[symbol]; ok {
					next[symbol] = pt
					continue
				}
			}
			next[symbol] = p.fetchCascade(ctx, symbol)
			_ = t
		}
	}

	return next, nil
}

// randomWalk applies a bounded ±0.5% random step to t's price.
func (p *Provider) randomWalk(t domain.Ticker) domain.Ticker {
	p.rngMu.Lock()
	delta := (p.rng.Float64()*2 - 1) * intradayWalkBound
	p.rngMu.Unlock()

	newPrice := t.Price * (1 + delta)
	if newPrice <= 0 {
		newPrice = t.Price
	}
	change := newPrice - t.Price
	pct := 0.0
	if t.Price != 0 {
		pct = change / t.Price * 100
	}
	return domain.Ticker{
		Symbol:             t.Symbol,
		Price:              newPrice,
		DailyChange:        t.DailyChange + change,
		DailyChangePercent: t.DailyChangePercent + pct,
		Fundamentals:       t.Fundamentals,
	}
}

// NextDayMarketData advances to the next trading day (§4.2).
func (p *Provider) NextDayMarketData(ctx context.Context, prev domain.MarketData) (domain.MarketData, error) {
	next := make(domain.MarketData, len(prev))

	switch p.mode {
	case domain.ModeHistorical:
		p.historicalMu.Lock()
		p.historicalIdx++
		idx := p.historicalIdx
		p.historicalMu.Unlock()
		for symbol, t := range prev {
			bars := p.historicalBars[symbol]
			if idx >= len(bars) {
				next[symbol] = t
				continue
			}
			next[symbol] = domain.Ticker{Symbol: symbol, Price: bars[idx].close}
		}

	case domain.ModeSimulated, domain.ModeHybrid:
		normal := distuv.Normal{Mu: dailyTrend, Sigma: dailyVolatility, Src: p.rng}
		for symbol, t := range prev {
			change := normal.Rand()
			price := t.Price * (1 + change)
			if price < dailyFloor {
				price = math.Max(t.Price-1, dailyFloor)
			}
			next[symbol] = domain.Ticker{Symbol: symbol, Price: price}
		}

	case domain.ModeRealtime:
		// Day advance bypasses the TTL cache: each symbol's cached entry is
		// dropped first so fetchCascade goes to the sources.
		for symbol := range prev {
			p.cache.mu.Lock()
			delete(p.cache.entries, symbol)
			p.cache.mu.Unlock()
			next[symbol] = p.fetchCascade(ctx, symbol)
		}
	}

	return next, nil
}

// PrefetchOptions configures a pipelined prefetch call.
type PrefetchOptions struct {
	IntervalMs int
	GuardMs    int
	BatchSize  int
	MinPauseMs int
}

// PrefetchResult is the outcome of a Prefetch call.
type PrefetchResult struct {
	MarketData      domain.MarketData
	MissingTickers  []string
	DurationMs      int64
}

// Prefetch fetches market data for the next realtime tick (§4.2): it
// splits symbols into batches, runs the batches one after another
// (fetching the symbols inside a batch concurrently), and paces between
// batches so the whole call stays within budget. It runs synchronously in
// its caller; it does not overlap with the caller's other work.
func (p *Provider) Prefetch(ctx context.Context, symbols []string, opts PrefetchOptions) (PrefetchResult, error) {
	start := time.Now()

	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	batches := batchOf(symbols, opts.BatchSize)

	result := PrefetchResult{MarketData: make(domain.MarketData, len(symbols))}

	for i, batch := range batches {
		batchStart := time.Now()

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, symbol := range batch {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				t := p.fetchCascade(ctx, sym)
				mu.Lock()
				result.MarketData[sym] = t
				mu.Unlock()
			}(symbol)
		}
		wg.Wait()

		for _, symbol := range batch {
			if _, ok := result.MarketData[symbol]; !ok {
				result.MissingTickers = append(result.MissingTickers, symbol)
			}
		}

		remainingBatches := len(batches) - i - 1
		if remainingBatches > 0 {
			elapsed := time.Since(batchStart).Milliseconds()
			budget := int64(opts.IntervalMs-opts.GuardMs) - int64(time.Since(start).Milliseconds())
			pause := budget / int64(remainingBatches)
			if pause < int64(opts.MinPauseMs) {
				pause = int64(opts.MinPauseMs)
			}
			if pause > 0 {
				select {
				case <-ctx.Done():
					return result, ctx.Err()
				case <-time.After(time.Duration(pause) * time.Millisecond):
				}
			}
			_ = elapsed
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	if opts.IntervalMs > 0 && result.DurationMs > int64(opts.IntervalMs) {
		p.log.Warn().
			Int64("duration_ms", result.DurationMs).
			Int("interval_ms", opts.IntervalMs).
			Msg("prefetch exceeded its wall-clock budget")
	}

	return result, nil
}

func batchOf(symbols []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[i:end])
	}
	return out
}

// BlockedRequests reports how many primary-source requests had to wait on
// the global throttle — telemetry logged by the scheduler's logTelemetry.
func (p *Provider) BlockedRequests() int {
	return p.throttle.BlockedRequests()
}
