package portfolio

import (
	"testing"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestValue_SumsCashAndHeldPositionsPresentInMarketData(t *testing.T) {
	p := domain.Portfolio{
		Cash: 100,
		Positions: map[string]domain.Position{
			"AAA": {Quantity: 10},
			"BBB": {Quantity: 5}, // missing from market data, contributes zero
		},
	}
	m := domain.MarketData{"AAA": {Symbol: "AAA", Price: 20}}

	assert.Equal(t, 300.0, Value(p, m))
}

func TestComputeMetrics_FirstPointHasZeroReturnsAndDrawdown(t *testing.T) {
	p := domain.Portfolio{Cash: 10_000, Positions: map[string]domain.Position{}}
	m := domain.MarketData{}

	metrics := ComputeMetrics(p, m, nil, 0, nil)

	assert.Equal(t, 10_000.0, metrics.TotalValue)
	assert.Equal(t, 0.0, metrics.TotalReturn)
	assert.Equal(t, 0.0, metrics.DailyReturn)
	assert.Equal(t, 0.0, metrics.MaxDrawdown)
	assert.Equal(t, 0.0, metrics.MomentumRSI)
}

func TestComputeMetrics_DailyReturnReflectsValueChangeSincePriorPoint(t *testing.T) {
	p := domain.Portfolio{Cash: 11_000, Positions: map[string]domain.Position{}}
	history := []domain.PerformanceMetrics{{TotalValue: 10_000, Timestamp: 0}}

	metrics := ComputeMetrics(p, domain.MarketData{}, history, 1, nil)

	assert.InDelta(t, 0.1, metrics.DailyReturn, 1e-9)
	assert.InDelta(t, 0.1, metrics.TotalReturn, 1e-9)
}

func TestMaxDrawdown_TracksWorstDeclineFromRunningPeak(t *testing.T) {
	dd := maxDrawdown([]float64{100, 120, 90, 110})
	assert.InDelta(t, 0.25, dd, 1e-9) // (120-90)/120
}

func TestTurnoverOf_ZeroWhenNoTradesOrZeroValue(t *testing.T) {
	assert.Equal(t, 0.0, turnoverOf(nil, 1000))
	assert.Equal(t, 0.0, turnoverOf([]domain.Trade{{Quantity: 1, ExecutionPrice: 10}}, 0))
}

func TestTurnoverOf_IsNotionalTradedOverTotalValue(t *testing.T) {
	trades := []domain.Trade{{Quantity: 5, ExecutionPrice: 20}, {Quantity: -2, ExecutionPrice: 20}}
	got := turnoverOf(trades, 1000)
	assert.InDelta(t, 0.14, got, 1e-9) // (100+40)/1000
}

func TestMomentumRSI_ZeroBeforeEnoughHistory(t *testing.T) {
	series := make([]float64, rsiPeriod)
	for i := range series {
		series[i] = 100 + float64(i)
	}
	assert.Equal(t, 0.0, momentumRSI(series))
}

func TestMomentumRSI_NonZeroOnceWindowFilled(t *testing.T) {
	series := make([]float64, rsiPeriod+5)
	for i := range series {
		series[i] = 100 + float64(i) // steady uptrend: RSI should be high, not zero
	}
	got := momentumRSI(series)
	assert.Greater(t, got, 0.0)
}

func TestComputeMetricsFromValue_NeverSetsTurnover(t *testing.T) {
	metrics := ComputeMetricsFromValue(10_500, []domain.PerformanceMetrics{{TotalValue: 10_000}}, 1)
	assert.Equal(t, 0.0, metrics.Turnover)
	assert.InDelta(t, 0.05, metrics.DailyReturn, 1e-9)
}
