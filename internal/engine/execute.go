package engine

import (
	"fmt"
	"sort"

	"github.com/aristath/marketsim/internal/domain"
)

// orderSellsBeforeBuys returns a copy of intents with every sell ahead of
// every buy, preserving relative order within each side (§4.4 step 6).
func orderSellsBeforeBuys(intents []TradeIntent) []TradeIntent {
	ordered := make([]TradeIntent, len(intents))
	copy(ordered, intents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Side == domain.TradeSideSell && ordered[j].Side != domain.TradeSideSell
	})
	return ordered
}

// fee is max(MIN_FEE, notional × FEE_RATE).
func fee(notional float64) float64 {
	f := notional * domain.FeeRate
	if f < domain.MinFee {
		return domain.MinFee
	}
	return f
}

// applyTrades executes intents against portfolio in order, mutating it in
// place, and returns the executed trades plus the failures recorded for
// next round's advisor context (§4.4 step 6).
func applyTrades(portfolio *domain.Portfolio, intents []TradeIntent, marketData domain.MarketData, timestamp float64, idFn func() string) ([]domain.Trade, []domain.FailedTrade) {
	var trades []domain.Trade
	var failed []domain.FailedTrade

	for _, intent := range orderSellsBeforeBuys(intents) {
		ticker, ok := marketData[intent.Symbol]
		if !ok || ticker.Price <= 0 {
			continue
		}

		switch intent.Side {
		case domain.TradeSideBuy:
			trade, failure := applyBuy(portfolio, intent, ticker.Price, timestamp, idFn)
			if failure != nil {
				failed = append(failed, *failure)
				continue
			}
			trades = append(trades, *trade)

		case domain.TradeSideSell:
			trade, failure := applySell(portfolio, intent, ticker.Price, timestamp, idFn)
			if failure != nil {
				failed = append(failed, *failure)
				continue
			}
			trades = append(trades, *trade)
		}
	}

	return trades, failed
}

func applyBuy(portfolio *domain.Portfolio, intent TradeIntent, price, timestamp float64, idFn func() string) (*domain.Trade, *domain.FailedTrade) {
	notional := float64(intent.Qty) * price
	f := fee(notional)

	if portfolio.Cash < notional+f {
		return nil, &domain.FailedTrade{
			Symbol: intent.Symbol,
			Side:   domain.TradeSideBuy,
			Qty:    intent.Qty,
			Reason: fmt.Sprintf("insufficient cash: need %.2f, have %.2f", notional+f, portfolio.Cash),
		}
	}

	portfolio.Cash -= notional + f

	existing, had := portfolio.Positions[intent.Symbol]
	if !had {
		portfolio.Positions[intent.Symbol] = domain.Position{
			Symbol:          intent.Symbol,
			Quantity:        intent.Qty,
			AverageCost:     price,
			LastFairValue:   intent.FairValue,
			LastTopOfBox:    intent.TopOfBox,
			LastBottomOfBox: intent.BottomOfBox,
		}
	} else {
		newQty := existing.Quantity + intent.Qty
		newAvgCost := (existing.AverageCost*float64(existing.Quantity) + notional) / float64(newQty)
		portfolio.Positions[intent.Symbol] = domain.Position{
			Symbol:          intent.Symbol,
			Quantity:        newQty,
			AverageCost:     newAvgCost,
			LastFairValue:   intent.FairValue,
			LastTopOfBox:    intent.TopOfBox,
			LastBottomOfBox: intent.BottomOfBox,
		}
	}

	return &domain.Trade{
		ID:             idFn(),
		Symbol:         intent.Symbol,
		Side:           domain.TradeSideBuy,
		Quantity:       intent.Qty,
		ExecutionPrice: price,
		Fee:            f,
		Timestamp:      timestamp,
		FairValue:      intent.FairValue,
		TopOfBox:       intent.TopOfBox,
		BottomOfBox:    intent.BottomOfBox,
		Justification:  intent.Justification,
	}, nil
}

func applySell(portfolio *domain.Portfolio, intent TradeIntent, price, timestamp float64, idFn func() string) (*domain.Trade, *domain.FailedTrade) {
	held, ok := portfolio.Positions[intent.Symbol]
	if !ok || held.Quantity <= 0 {
		return nil, &domain.FailedTrade{
			Symbol: intent.Symbol,
			Side:   domain.TradeSideSell,
			Qty:    intent.Qty,
			Reason: "no position held",
		}
	}

	qtyExec := intent.Qty
	if qtyExec > held.Quantity {
		qtyExec = held.Quantity
	}

	notional := float64(qtyExec) * price
	f := fee(notional)
	portfolio.Cash += notional - f

	remaining := held.Quantity - qtyExec
	if remaining == 0 {
		delete(portfolio.Positions, intent.Symbol)
	} else {
		held.Quantity = remaining
		held.LastFairValue = intent.FairValue
		held.LastTopOfBox = intent.TopOfBox
		held.LastBottomOfBox = intent.BottomOfBox
		portfolio.Positions[intent.Symbol] = held
	}

	return &domain.Trade{
		ID:             idFn(),
		Symbol:         intent.Symbol,
		Side:           domain.TradeSideSell,
		Quantity:       qtyExec,
		ExecutionPrice: price,
		Fee:            f,
		Timestamp:      timestamp,
		FairValue:      intent.FairValue,
		TopOfBox:       intent.TopOfBox,
		BottomOfBox:    intent.BottomOfBox,
		Justification:  intent.Justification,
	}, nil
}
