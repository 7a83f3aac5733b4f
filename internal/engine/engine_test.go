package engine

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsim/internal/chat"
	"github.com/aristath/marketsim/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdvisor struct {
	decide func(agent domain.Agent) (Decision, error)
	delay  time.Duration
}

func (s *stubAdvisor) Decide(ctx context.Context, agent domain.Agent, _ domain.MarketData, _ int, _ *ChatContext, _ []domain.FailedTrade) (Decision, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return s.decide(agent)
}

func newTestSnapshot() domain.SimulationSnapshot {
	agent := domain.Agent{
		ID:          "agent-1",
		DisplayName: "Ada",
		Portfolio:   domain.NewPortfolio(10_000),
	}
	return domain.SimulationSnapshot{
		Day:          0,
		IntradayHour: 0,
		MarketData:   domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 100}},
		Agents:       []domain.Agent{agent},
		Benchmarks: []domain.Benchmark{
			{ID: domain.EquityIndexBenchmarkID},
			{ID: domain.ManagersIndexBenchmarkID},
		},
		Mode: domain.ModeSimulated,
		Chat: domain.ChatState{Enabled: true, MaxMessagesPerAgent: 3, MaxMessagesPerUser: 3, MaxMessageLength: 200},
	}
}

func TestPriceStep_AppendsMetricsWithoutTrades(t *testing.T) {
	e := New(&stubAdvisor{}, chat.New(chat.Config{}), PacingConfig{}, zerolog.Nop())
	snap := newTestSnapshot()

	next := e.PriceStep(snap, domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 110}}, 0.1)

	require.Len(t, next.Agents[0].PerformanceHist, 1)
	assert.Equal(t, 10_000.0, next.Agents[0].PerformanceHist[0].TotalValue)
	assert.Empty(t, next.Agents[0].TradeHistory)
}

func TestTradeWindow_ExecutesBuyAndDeductsCash(t *testing.T) {
	qty := int64(10)
	advisor := &stubAdvisor{decide: func(agent domain.Agent) (Decision, error) {
		return Decision{
			Trades:    []TradeIntent{{Symbol: "AAPL", Side: domain.TradeSideBuy, Qty: qty}},
			Rationale: "buying the dip",
		}, nil
	}}
	e := New(advisor, chat.New(chat.Config{}), PacingConfig{}, zerolog.Nop())
	snap := newTestSnapshot()

	next := e.TradeWindow(context.Background(), snap, 0.1)

	agent := next.Agents[0]
	require.Len(t, agent.TradeHistory, 1)
	assert.Equal(t, domain.TradeSideBuy, agent.TradeHistory[0].Side)
	notional := float64(qty) * 100
	expectedFee := domain.MinFee
	if notional*domain.FeeRate > domain.MinFee {
		expectedFee = notional * domain.FeeRate
	}
	assert.InDelta(t, 10_000-notional-expectedFee, agent.Portfolio.Cash, 0.001)
	assert.Equal(t, qty, agent.Portfolio.Positions["AAPL"].Quantity)
	assert.Equal(t, "buying the dip", agent.RationaleByDay[0])
}

func TestTradeWindow_InsufficientCashRecordsFailedTrade(t *testing.T) {
	advisor := &stubAdvisor{decide: func(agent domain.Agent) (Decision, error) {
		return Decision{Trades: []TradeIntent{{Symbol: "AAPL", Side: domain.TradeSideBuy, Qty: 1_000_000}}}, nil
	}}
	e := New(advisor, chat.New(chat.Config{}), PacingConfig{}, zerolog.Nop())
	snap := newTestSnapshot()

	next := e.TradeWindow(context.Background(), snap, 0.1)

	agent := next.Agents[0]
	assert.Empty(t, agent.TradeHistory)
	require.Len(t, agent.Memory.FailedTrades, 1)
	assert.Equal(t, domain.TradeSideBuy, agent.Memory.FailedTrades[0].Side)
}

func TestTradeWindow_AgentTimeoutYieldsEmptyTrades(t *testing.T) {
	advisor := &stubAdvisor{delay: 200 * time.Millisecond, decide: func(agent domain.Agent) (Decision, error) {
		return Decision{Trades: []TradeIntent{{Symbol: "AAPL", Side: domain.TradeSideBuy, Qty: 1}}}, nil
	}}
	e := New(advisor, chat.New(chat.Config{}), PacingConfig{}, zerolog.Nop())
	snap := newTestSnapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	next := e.TradeWindow(ctx, snap, 0.1)

	assert.Empty(t, next.Agents[0].TradeHistory, "a timed-out agent must not execute trades")
}

func TestTradeWindow_SellsBeforeBuysFreesCash(t *testing.T) {
	snap := newTestSnapshot()
	snap.Agents[0].Portfolio.Positions["MSFT"] = domain.Position{Symbol: "MSFT", Quantity: 5, AverageCost: 300}
	snap.Agents[0].Portfolio.Cash = 0
	snap.MarketData["MSFT"] = domain.Ticker{Symbol: "MSFT", Price: 300}

	advisor := &stubAdvisor{decide: func(agent domain.Agent) (Decision, error) {
		return Decision{Trades: []TradeIntent{
			{Symbol: "AAPL", Side: domain.TradeSideBuy, Qty: 1},
			{Symbol: "MSFT", Side: domain.TradeSideSell, Qty: 5},
		}}, nil
	}}
	e := New(advisor, chat.New(chat.Config{}), PacingConfig{}, zerolog.Nop())

	next := e.TradeWindow(context.Background(), snap, 0.1)

	agent := next.Agents[0]
	require.Len(t, agent.TradeHistory, 2)
	assert.Equal(t, domain.TradeSideSell, agent.TradeHistory[0].Side, "sell must execute first so its proceeds fund the buy")
	assert.Equal(t, domain.TradeSideBuy, agent.TradeHistory[1].Side)
	assert.Equal(t, int64(1), agent.Portfolio.Positions["AAPL"].Quantity)
}

func TestDayAdvance_ResetsIntradayHourAndBumpsDay(t *testing.T) {
	advisor := &stubAdvisor{decide: func(agent domain.Agent) (Decision, error) { return Decision{}, nil }}
	e := New(advisor, chat.New(chat.Config{}), PacingConfig{}, zerolog.Nop())
	snap := newTestSnapshot()
	snap.Day = 2
	snap.IntradayHour = 6.5

	next := e.DayAdvance(context.Background(), snap, domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 105}})

	assert.Equal(t, 3, next.Day)
	assert.Equal(t, 0.0, next.IntradayHour)
}

func TestTradeWindow_ReplyRequiresUserMessageThisRound(t *testing.T) {
	advisor := &stubAdvisor{decide: func(agent domain.Agent) (Decision, error) {
		return Decision{Reply: "thanks for asking!"}, nil
	}}
	e := New(advisor, chat.New(chat.Config{Mode: domain.ModeSimulated}), PacingConfig{}, zerolog.Nop())
	snap := newTestSnapshot()

	next := e.TradeWindow(context.Background(), snap, 0.1)

	assert.Empty(t, next.Chat.Messages, "no reply should be recorded without an incoming user message this round")
}

func TestTradeWindow_ReplyAppliedWhenUserMessagedAgent(t *testing.T) {
	advisor := &stubAdvisor{decide: func(agent domain.Agent) (Decision, error) {
		return Decision{Reply: "good question!"}, nil
	}}
	e := New(advisor, chat.New(chat.Config{Mode: domain.ModeSimulated}), PacingConfig{}, zerolog.Nop())
	snap := newTestSnapshot()
	roundID := chat.FormatRoundID(snap.Day, snap.IntradayHour)
	snap.Chat.Messages = []domain.ChatMessage{
		{SenderType: domain.SenderUser, SenderName: "Jane", TargetAgentID: "agent-1", Content: "what do you think?", Status: domain.ChatStatusDelivered, RoundID: roundID},
	}

	next := e.TradeWindow(context.Background(), snap, 0.1)

	require.Len(t, next.Chat.Messages, 2)
	assert.Equal(t, domain.ChatStatusResponded, next.Chat.Messages[0].Status)
	assert.Contains(t, next.Chat.Messages[1].Content, "@Jane")
	assert.Equal(t, "Ada", next.Chat.Messages[1].SenderName, "reply should be stored under the agent's display name, not its internal id")
	assert.Equal(t, "agent-1", next.Chat.Messages[1].SenderAgentID)
}
