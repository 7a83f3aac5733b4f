package advisor

import (
	"context"
	"testing"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop_ReturnsEmptyTradesWithRationale(t *testing.T) {
	decision, err := Noop{}.Decide(context.Background(), domain.Agent{}, domain.MarketData{}, 1, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, decision.Trades)
	assert.NotEmpty(t, decision.Rationale)
	assert.Empty(t, decision.Reply)
}

func TestNoop_RepliesOnlyWhenChatContextHasMessages(t *testing.T) {
	withMessages := &engine.ChatContext{Messages: []domain.ChatMessage{{Content: "hi"}}}
	decision, err := Noop{}.Decide(context.Background(), domain.Agent{}, domain.MarketData{}, 1, withMessages, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, decision.Reply)

	empty := &engine.ChatContext{}
	decision, err = Noop{}.Decide(context.Background(), domain.Agent{}, domain.MarketData{}, 1, empty, nil)
	require.NoError(t, err)
	assert.Empty(t, decision.Reply)
}
