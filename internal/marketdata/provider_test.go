package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name    string
	tickers map[string]domain.Ticker
	err     error
	calls   int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context, symbol string) (domain.Ticker, error) {
	s.calls++
	if s.err != nil {
		return domain.Ticker{}, s.err
	}
	t, ok := s.tickers[symbol]
	if !ok {
		return domain.Ticker{}, assert.AnError
	}
	return t, nil
}

func (s *stubSource) Remaining() int { return 1000 }

func newTestProvider(mode domain.Mode, primary, secondary, tertiary Source) *Provider {
	return NewProvider(Config{
		Mode:            mode,
		BenchmarkSymbol: "SPY",
		CacheTTL:        time.Minute,
		RandSeed:        42,
	}, primary, secondary, tertiary, zerolog.Nop())
}

func TestFetchCascade_TracksLastPriceForJumpDetectionWithoutRejecting(t *testing.T) {
	primary := &stubSource{name: "primary", tickers: map[string]domain.Ticker{"AAPL": {Symbol: "AAPL", Price: 100}}}
	p := newTestProvider(domain.ModeRealtime, primary, nil, nil)

	first := p.fetchCascade(context.Background(), "AAPL")
	assert.Equal(t, 100.0, first.Price)

	primary.tickers["AAPL"] = domain.Ticker{Symbol: "AAPL", Price: 200} // +100%, well past the 5% threshold
	p.cache.entries = map[string]ttlEntry{}                            // bypass cache so the second fetch hits the source again

	second := p.fetchCascade(context.Background(), "AAPL")
	assert.Equal(t, 200.0, second.Price, "a >5%% jump is logged, never rejected")

	p.lastPriceMu.Lock()
	defer p.lastPriceMu.Unlock()
	assert.Equal(t, 200.0, p.lastPrice["AAPL"], "baseline advances to the latest accepted price")
}

func TestCheckPriceJump_NoPanicOnFirstObservation(t *testing.T) {
	p := newTestProvider(domain.ModeRealtime, &stubSource{name: "primary"}, nil, nil)
	p.checkPriceJump("AAPL", 150) // no prior baseline; must not panic or misbehave

	p.lastPriceMu.Lock()
	defer p.lastPriceMu.Unlock()
	assert.Equal(t, 150.0, p.lastPrice["AAPL"])
}

func TestFetchCascade_PrimarySucceeds(t *testing.T) {
	primary := &stubSource{name: "primary", tickers: map[string]domain.Ticker{"AAPL": {Symbol: "AAPL", Price: 190}}}
	secondary := &stubSource{name: "secondary"}
	p := newTestProvider(domain.ModeRealtime, primary, secondary, nil)

	ticker := p.fetchCascade(context.Background(), "AAPL")

	assert.Equal(t, 190.0, ticker.Price)
	assert.Equal(t, 0, secondary.calls, "secondary must not be consulted when primary succeeds")
}

func TestFetchCascade_FallsThroughToSecondary(t *testing.T) {
	primary := &stubSource{name: "primary"} // no tickers configured: always fails
	secondary := &stubSource{name: "secondary", tickers: map[string]domain.Ticker{"AAPL": {Symbol: "AAPL", Price: 188}}}
	p := newTestProvider(domain.ModeRealtime, primary, secondary, nil)

	ticker := p.fetchCascade(context.Background(), "AAPL")

	assert.Equal(t, 188.0, ticker.Price)
}

func TestFetchCascade_FallsBackToSynthetic(t *testing.T) {
	p := newTestProvider(domain.ModeRealtime, &stubSource{name: "primary"}, nil, nil)

	ticker := p.fetchCascade(context.Background(), "AAPL")

	lo, hi := p.expectedRange("AAPL")
	assert.GreaterOrEqual(t, ticker.Price, lo)
	assert.LessOrEqual(t, ticker.Price, hi)
}

func TestFetchCascade_CachesResult(t *testing.T) {
	primary := &stubSource{name: "primary", tickers: map[string]domain.Ticker{"AAPL": {Symbol: "AAPL", Price: 190}}}
	p := newTestProvider(domain.ModeRealtime, primary, nil, nil)

	first := p.fetchCascade(context.Background(), "AAPL")
	second := p.fetchCascade(context.Background(), "AAPL")

	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, 1, primary.calls, "second fetch should be served from the TTL cache")
}

func TestNextIntradayMarketData_SimulatedWalkStaysBounded(t *testing.T) {
	p := newTestProvider(domain.ModeSimulated, nil, nil, nil)
	prev := domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 200}}

	next, err := p.NextIntradayMarketData(context.Background(), prev, 0, 1.0, nil)

	require.NoError(t, err)
	ticker := next["AAPL"]
	assert.InDelta(t, 200, ticker.Price, 200*intradayWalkBound+0.001)
}

func TestNextDayMarketData_HistoricalAdvancesIndex(t *testing.T) {
	p := newTestProvider(domain.ModeHistorical, &stubSource{name: "primary", tickers: map[string]domain.Ticker{
		"AAPL": {Symbol: "AAPL", Price: 190},
	}}, nil, nil)

	_, err := p.InitialMarketData(context.Background(), []string{"AAPL"})
	require.NoError(t, err)

	prev := domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 190}}
	next, err := p.NextDayMarketData(context.Background(), prev)

	require.NoError(t, err)
	assert.Equal(t, 1, p.historicalIdx)
	assert.Contains(t, next, "AAPL")
}

func TestPrefetch_ReturnsEveryRequestedSymbol(t *testing.T) {
	primary := &stubSource{name: "primary", tickers: map[string]domain.Ticker{
		"AAPL": {Symbol: "AAPL", Price: 190},
		"MSFT": {Symbol: "MSFT", Price: 350},
	}}
	p := newTestProvider(domain.ModeRealtime, primary, nil, nil)

	result, err := p.Prefetch(context.Background(), []string{"AAPL", "MSFT"}, PrefetchOptions{
		IntervalMs: 1000,
		GuardMs:    100,
		BatchSize:  1,
		MinPauseMs: 1,
	})

	require.NoError(t, err)
	assert.Len(t, result.MarketData, 2)
	assert.Empty(t, result.MissingTickers)
}

func TestWarmCache_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/cache.msgpack"

	p := newTestProvider(domain.ModeRealtime, &stubSource{name: "primary", tickers: map[string]domain.Ticker{
		"AAPL": {Symbol: "AAPL", Price: 190},
	}}, nil, nil)
	_ = p.fetchCascade(context.Background(), "AAPL")

	require.NoError(t, p.DumpWarmCache(path))

	restored := newTestProvider(domain.ModeRealtime, &stubSource{name: "primary"}, nil, nil)
	require.NoError(t, restored.LoadWarmCache(path))

	ticker, ok := restored.cache.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 190.0, ticker.Price)
}
