// Package portfolio implements the pure value, return, volatility, Sharpe,
// drawdown, and turnover calculations of §4.3. Every function here is a
// pure function of a Portfolio, a MarketData snapshot, and (where needed)
// a performance-history series — no I/O, no mutation of its inputs.
package portfolio

import (
	"math"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization factor for volatility/Sharpe.
const TradingDaysPerYear = 252

// rsiPeriod is the lookback window for the momentum indicator surfaced
// alongside every performance point (informational only; the engine's
// trade-execution path never reads it).
const rsiPeriod = 14

// momentumRSI is the latest RSI(14) over the totalValue series, via
// go-talib the way the teacher's pkg/formulas.CalculateRSI does. Returns
// 0 until enough history has accumulated.
func momentumRSI(series []float64) float64 {
	if len(series) < rsiPeriod+1 {
		return 0
	}
	values := talib.Rsi(series, rsiPeriod)
	if len(values) == 0 {
		return 0
	}
	last := values[len(values)-1]
	if last != last { // NaN
		return 0
	}
	return last
}

// Value computes cash + Σ quantity × price for every held symbol present
// in the market-data snapshot. A position whose symbol is missing from M
// contributes zero rather than panicking — callers are expected to
// maintain §3's invariant that every held symbol is present, but a stale
// snapshot must not crash metric computation.
func Value(p domain.Portfolio, m domain.MarketData) float64 {
	total := p.Cash
	for symbol, pos := range p.Positions {
		if t, ok := m[symbol]; ok {
			total += float64(pos.Quantity) * t.Price
		}
	}
	return total
}

// ComputeMetrics computes a new PerformanceMetrics point given the current
// portfolio, market data, the prior history series (oldest first), the
// instant to stamp, and the set of trades executed this tick (for
// turnover; may be empty).
func ComputeMetrics(p domain.Portfolio, m domain.MarketData, history []domain.PerformanceMetrics, timestamp float64, dailyTrades []domain.Trade) domain.PerformanceMetrics {
	totalValue := Value(p, m)

	var dailyReturn float64
	if len(history) > 0 {
		prev := history[len(history)-1].TotalValue
		if prev != 0 {
			dailyReturn = totalValue/prev - 1
		}
	}

	extended := make([]float64, 0, len(history)+1)
	for _, h := range history {
		extended = append(extended, h.TotalValue)
	}
	extended = append(extended, totalValue)

	returns := dailyReturnsSeries(extended)
	volatility := annualizedVolatility(returns)
	sharpe := sharpeRatio(returns)
	drawdown := maxDrawdown(extended)
	turnover := turnoverOf(dailyTrades, totalValue)

	var totalReturn float64
	if len(extended) > 0 && extended[0] != 0 {
		totalReturn = totalValue/extended[0] - 1
	}

	return domain.PerformanceMetrics{
		TotalValue:           totalValue,
		TotalReturn:          totalReturn,
		DailyReturn:          dailyReturn,
		AnnualizedVolatility: volatility,
		SharpeRatio:          sharpe,
		MaxDrawdown:          drawdown,
		Turnover:             turnover,
		Timestamp:            timestamp,
		MomentumRSI:          momentumRSI(extended),
	}
}

// ComputeMetricsFromValue is ComputeMetrics's counterpart for benchmarks,
// which track a totalValue series directly rather than cash+positions and
// never trade (turnover is always zero).
func ComputeMetricsFromValue(totalValue float64, history []domain.PerformanceMetrics, timestamp float64) domain.PerformanceMetrics {
	var dailyReturn float64
	if len(history) > 0 {
		prev := history[len(history)-1].TotalValue
		if prev != 0 {
			dailyReturn = totalValue/prev - 1
		}
	}

	extended := make([]float64, 0, len(history)+1)
	for _, h := range history {
		extended = append(extended, h.TotalValue)
	}
	extended = append(extended, totalValue)

	returns := dailyReturnsSeries(extended)
	volatility := annualizedVolatility(returns)
	sharpe := sharpeRatio(returns)
	drawdown := maxDrawdown(extended)

	var totalReturn float64
	if len(extended) > 0 && extended[0] != 0 {
		totalReturn = totalValue/extended[0] - 1
	}

	return domain.PerformanceMetrics{
		TotalValue:           totalValue,
		TotalReturn:          totalReturn,
		DailyReturn:          dailyReturn,
		AnnualizedVolatility: volatility,
		SharpeRatio:          sharpe,
		MaxDrawdown:          drawdown,
		Timestamp:            timestamp,
		MomentumRSI:          momentumRSI(extended),
	}
}

// dailyReturnsSeries converts a totalValue series into a return series of
// length len(series)-1.
func dailyReturnsSeries(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, series[i]/series[i-1]-1)
	}
	return out
}

// annualizedVolatility is the sample standard deviation of the daily
// return series, annualized by √252, via gonum/stat.StdDev rather than a
// hand-rolled variance loop.
func annualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stat.StdDev(returns, nil)
	return sd * math.Sqrt(float64(TradingDaysPerYear))
}

// sharpeRatio is (avgExcess / σ) × √252, where excess = r − RISK_FREE_RATE/252.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	dailyRiskFree := domain.RiskFreeRate / float64(TradingDaysPerYear)
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRiskFree
	}
	mean := stat.Mean(excess, nil)
	sd := stat.StdDev(excess, nil)
	if sd == 0 {
		return 0
	}
	return (mean / sd) * math.Sqrt(float64(TradingDaysPerYear))
}

// maxDrawdown scans the running peak across the totalValue series
// (already extended with the new value by the caller). This is a single
// left-to-right pass; no library primitive expresses a running-maximum
// scan more clearly than the loop below, so it stays hand-rolled rather
// than reaching for a statistics package (documented in DESIGN.md).
func maxDrawdown(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	peak := series[0]
	maxDD := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// turnoverOf is Σ |quantity × price| / totalValue over the set of trades
// executed this tick.
func turnoverOf(trades []domain.Trade, totalValue float64) float64 {
	if totalValue == 0 || len(trades) == 0 {
		return 0
	}
	var notional float64
	for _, t := range trades {
		notional += math.Abs(float64(t.Quantity) * t.ExecutionPrice)
	}
	return notional / totalValue
}
