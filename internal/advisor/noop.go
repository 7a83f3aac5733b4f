// Package advisor provides a default engine.TradeAdvisor so the server
// is runnable without a configured LLM credential. The real advisor
// (the LLM provider itself) is an external collaborator per §6; this
// package exists only to give cmd/server something to wire by default.
package advisor

import (
	"context"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/engine"
)

// Noop never proposes trades. It satisfies the §6 TradeAdvisor contract
// (never errors past the timeout, always returns a Decision) and echoes
// a flat rationale, which is enough to exercise the engine's pacing,
// failed-trade memory, and chat-reply plumbing end to end in the
// absence of a real model.
type Noop struct{}

func (Noop) Decide(_ context.Context, _ domain.Agent, _ domain.MarketData, _ int, chatCtx *engine.ChatContext, _ []domain.FailedTrade) (engine.Decision, error) {
	decision := engine.Decision{Rationale: "no advisor configured; holding"}
	if chatCtx != nil && len(chatCtx.Messages) > 0 {
		decision.Reply = "thanks for the note — no trades to report this round"
	}
	return decision, nil
}
