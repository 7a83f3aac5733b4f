// Package engine implements the three pure-transition operations of the
// simulation engine (§4.4): priceStep, tradeWindow, and dayAdvance, plus
// the agent pacing and trade-execution machinery tradeWindow/dayAdvance
// share.
package engine

import (
	"context"
	"time"

	"github.com/aristath/marketsim/internal/domain"
)

// TradeIntent is one trade an advisor proposes for its agent.
type TradeIntent struct {
	Symbol        string
	Side          domain.TradeSide
	Qty           int64
	FairValue     *float64
	TopOfBox      *float64
	BottomOfBox   *float64
	Justification string
}

// ChatContext is the chat window passed to an advisor call, present only
// when chat is enabled and the agent has messages waiting this round.
type ChatContext struct {
	Messages         []domain.ChatMessage
	MaxReplyLength   int
}

// Decision is what a TradeAdvisor returns for one agent, one round.
type Decision struct {
	Trades    []TradeIntent
	Rationale string
	Reply     string // only set when ChatContext was non-nil and the advisor chose to reply
}

// TradeAdvisor is the external LLM façade (§6). The engine treats it as
// opaque: implementations must never panic past the per-call timeout and
// must always return a Decision, degrading to empty trades on error.
type TradeAdvisor interface {
	Decide(ctx context.Context, agent domain.Agent, marketData domain.MarketData, day int, chatCtx *ChatContext, previousFailedTrades []domain.FailedTrade) (Decision, error)
}

// AdvisorTimeout is the hard per-agent call budget (§5).
const AdvisorTimeout = 60 * time.Second
