package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/marketsim/internal/chat"
	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/portfolio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	recentTradesLimit      = 10
	recentRationalesLimit  = 5
	recentPerformanceLimit = 10
)

// PacingConfig controls how agent advisor calls are fanned out within a
// tradeWindow/dayAdvance (§4.4 step 4, §5).
type PacingConfig struct {
	// RequestSpacingMs > 0 runs agents strictly serially with a per-step
	// sleep. 0 means use a worker pool of up to MaxConcurrent workers
	// (0 = unlimited, i.e. all agents in parallel).
	RequestSpacingMs int
	MaxConcurrent    int
}

// Engine is the simulation engine of §4.4: priceStep, tradeWindow, and
// dayAdvance as pure-ish transitions over a snapshot, with wall-clock I/O
// (the advisor call) confined to tradeWindow and dayAdvance.
type Engine struct {
	advisor TradeAdvisor
	chat    *chat.Coordinator
	pacing  PacingConfig
	log     zerolog.Logger
}

// New builds an Engine bound to advisor and chatCoord.
func New(advisor TradeAdvisor, chatCoord *chat.Coordinator, pacing PacingConfig, log zerolog.Logger) *Engine {
	return &Engine{
		advisor: advisor,
		chat:    chatCoord,
		pacing:  pacing,
		log:     log.With().Str("component", "engine").Logger(),
	}
}

// PriceStep updates market data and recomputes every agent's and
// benchmark's PerformanceMetrics with no trades. Chat is never touched.
func (e *Engine) PriceStep(snapshot domain.SimulationSnapshot, newMarketData domain.MarketData, timestamp float64) domain.SimulationSnapshot {
	next := snapshot.Clone()
	next.MarketData = newMarketData
	next.LastUpdated = time.Now()

	for i := range next.Agents {
		agent := &next.Agents[i]
		metrics := portfolio.ComputeMetrics(agent.Portfolio, newMarketData, agent.PerformanceHist, timestamp, nil)
		metrics.IntradayHour = next.IntradayHour
		agent.PerformanceHist = append(agent.PerformanceHist, metrics)
	}

	e.recomputeBenchmarks(&next, newMarketData, timestamp)
	return next
}

// recomputeBenchmarks updates the equity-index and managers-index
// benchmarks (§4.4): the equity-index benchmark scales its last
// totalValue by the index's price ratio; the managers-index benchmark is
// the arithmetic mean of every agent's latest totalValue.
func (e *Engine) recomputeBenchmarks(snapshot *domain.SimulationSnapshot, marketData domain.MarketData, timestamp float64) {
	for i := range snapshot.Benchmarks {
		b := &snapshot.Benchmarks[i]

		var newValue float64
		switch b.ID {
		case domain.EquityIndexBenchmarkID:
			newValue = e.equityIndexValue(b, marketData)
		case domain.ManagersIndexBenchmarkID:
			newValue = e.managersIndexValue(snapshot.Agents)
		default:
			continue
		}

		metrics := portfolio.ComputeMetricsFromValue(newValue, b.PerformanceHist, timestamp)
		metrics.IntradayHour = snapshot.IntradayHour
		b.PerformanceHist = append(b.PerformanceHist, metrics)
	}
}

func (e *Engine) equityIndexValue(b *domain.Benchmark, marketData domain.MarketData) float64 {
	lastValue := initialIndexValue(b)
	indexTicker, ok := marketData[domain.EquityIndexBenchmarkID]
	if !ok {
		// falls back to the SPY proxy symbol if the benchmark wasn't
		// itself tracked as a tradable ticker
		indexTicker, ok = marketData["SPY"]
	}
	if !ok || indexTicker.Price <= 0 || b.LastIndexPrice == nil || *b.LastIndexPrice <= 0 {
		b.LastIndexPrice = priceOrNil(indexTicker, ok)
		return lastValue
	}

	ratio := (indexTicker.Price - *b.LastIndexPrice) / *b.LastIndexPrice
	newPrice := indexTicker.Price
	b.LastIndexPrice = &newPrice
	return lastValue * (1 + ratio)
}

func priceOrNil(t domain.Ticker, ok bool) *float64 {
	if !ok || t.Price <= 0 {
		return nil
	}
	p := t.Price
	return &p
}

func initialIndexValue(b *domain.Benchmark) float64 {
	if len(b.PerformanceHist) == 0 {
		return domain.InitialCash
	}
	return b.PerformanceHist[len(b.PerformanceHist)-1].TotalValue
}

func (e *Engine) managersIndexValue(agents []domain.Agent) float64 {
	if len(agents) == 0 {
		return domain.InitialCash
	}
	var sum float64
	for _, a := range agents {
		if len(a.PerformanceHist) == 0 {
			sum += domain.InitialCash
			continue
		}
		sum += a.PerformanceHist[len(a.PerformanceHist)-1].TotalValue
	}
	return sum / float64(len(agents))
}

// agentOutcome is one agent's result for a round, produced either by the
// advisor or synthesized on timeout/panic.
type agentOutcome struct {
	index    int
	decision Decision
	err      error
}

// runAdvisorRound fans out advisor calls for every agent per the pacing
// configuration (§4.4 step 4, §5): serial-with-spacing when
// RequestSpacingMs > 0, otherwise a bounded worker pool.
func (e *Engine) runAdvisorRound(ctx context.Context, snapshot domain.SimulationSnapshot, day int, chatByAgent map[string]*ChatContext) []agentOutcome {
	n := len(snapshot.Agents)
	outcomes := make([]agentOutcome, n)

	call := func(i int) agentOutcome {
		agent := snapshot.Agents[i]
		callCtx, cancel := context.WithTimeout(ctx, AdvisorTimeout)
		defer cancel()

		decision, err := e.safeDecide(callCtx, agent, snapshot.MarketData, day, chatByAgent[agent.ID], agent.Memory.FailedTrades)
		return agentOutcome{index: i, decision: decision, err: err}
	}

	if e.pacing.RequestSpacingMs > 0 {
		spacing := time.Duration(e.pacing.RequestSpacingMs) * time.Millisecond
		for i := 0; i < n; i++ {
			start := time.Now()
			outcomes[i] = call(i)
			elapsed := time.Since(start)
			if wait := spacing - elapsed; wait > 0 {
				time.Sleep(wait)
			}
		}
		return outcomes
	}

	maxWorkers := e.pacing.MaxConcurrent
	if maxWorkers <= 0 || maxWorkers > n {
		maxWorkers = n
	}
	if maxWorkers == 0 {
		return outcomes
	}

	jobs := make(chan int, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result := call(i)
				mu.Lock()
				outcomes[result.index] = result
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// safeDecide calls the advisor, converting a timeout, error, or panic
// into the §4.4 step 5 fallback decision so one agent never blocks or
// crashes the round.
func (e *Engine) safeDecide(ctx context.Context, agent domain.Agent, marketData domain.MarketData, day int, chatCtx *ChatContext, previousFailed []domain.FailedTrade) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("agent", agent.ID).Msg("advisor call panicked")
			decision = Decision{Rationale: fmt.Sprintf("advisor error: %v", r)}
			err = nil
		}
	}()

	decision, advErr := e.advisor.Decide(ctx, agent, marketData, day, chatCtx, previousFailed)
	if advErr != nil {
		e.log.Warn().Err(advErr).Str("agent", agent.ID).Msg("advisor call failed, synthesizing empty-trades decision")
		return Decision{Rationale: fmt.Sprintf("advisor error: %v", advErr)}, nil
	}
	return decision, nil
}

// runRound is the shared body of tradeWindow and dayAdvance: gather chat
// context, fan out advisor calls, execute trades per agent, update
// memory, apply replies, and recompute benchmarks.
func (e *Engine) runRound(ctx context.Context, snapshot domain.SimulationSnapshot, day int, timestamp float64, deliverChat bool, allowChatWithoutInput bool) domain.SimulationSnapshot {
	next := snapshot.Clone()
	roundID := chat.FormatRoundID(next.Day, next.IntradayHour)

	if deliverChat {
		chat.DeliverPending(next.Chat.Messages, roundID)
	}

	chatByAgent := make(map[string]*ChatContext, len(next.Agents))
	targetedByAgent := make(map[string][]domain.ChatMessage, len(next.Agents))
	if next.Chat.Enabled {
		for _, agent := range next.Agents {
			msgs := chat.MessagesForAgent(next.Chat.Messages, agent.ID, roundID, next.Chat.MaxMessagesPerAgent)
			targetedByAgent[agent.ID] = msgs
			if len(msgs) > 0 {
				chatByAgent[agent.ID] = &ChatContext{Messages: msgs, MaxReplyLength: next.Chat.MaxMessageLength}
			}
		}
	}

	outcomes := e.runAdvisorRound(ctx, next, day, chatByAgent)

	for _, outcome := range outcomes {
		agent := &next.Agents[outcome.index]
		decision := outcome.decision

		intents := make([]TradeIntent, len(decision.Trades))
		copy(intents, decision.Trades)

		trades, failures := applyTrades(&agent.Portfolio, intents, next.MarketData, timestamp, func() string { return uuid.NewString() })
		agent.TradeHistory = append(agent.TradeHistory, trades...)

		metrics := portfolio.ComputeMetrics(agent.Portfolio, next.MarketData, agent.PerformanceHist, timestamp, trades)
		metrics.IntradayHour = next.IntradayHour
		agent.PerformanceHist = append(agent.PerformanceHist, metrics)

		if decision.Rationale != "" {
			if agent.RationaleByDay == nil {
				agent.RationaleByDay = make(map[int]string)
			}
			agent.RationaleByDay[day] = decision.Rationale
			agent.Memory.RecentRationales = pushCapped(agent.Memory.RecentRationales, decision.Rationale, recentRationalesLimit)
		}
		agent.Memory.RecentTrades = pushCappedTrades(agent.Memory.RecentTrades, trades, recentTradesLimit)
		agent.Memory.RecentPerformance = pushCappedMetrics(agent.Memory.RecentPerformance, metrics, recentPerformanceLimit)
		agent.Memory.FailedTrades = failures

		targeted := targetedByAgent[agent.ID]
		replied := false
		if next.Chat.Enabled && decision.Reply != "" && (len(targeted) > 0 || allowChatWithoutInput) {
			final := e.chat.ApplyReply(&next.Chat.Messages, agent.ID, agent.DisplayName, roundID, decision.Reply, targeted)
			replied = final != ""
		}
		if len(targeted) > 0 {
			chat.ResolveRound(next.Chat.Messages, agent.ID, roundID, replied)
		}
	}

	e.recomputeBenchmarks(&next, next.MarketData, timestamp)
	return next
}

// TradeWindow runs one round within the trading day (§4.4).
func (e *Engine) TradeWindow(ctx context.Context, snapshot domain.SimulationSnapshot, timestamp float64) domain.SimulationSnapshot {
	allowChatWithoutInput := snapshot.Mode == domain.ModeHistorical
	return e.runRound(ctx, snapshot, snapshot.Day, timestamp, true, allowChatWithoutInput)
}

// DayAdvance rolls to the next trading day: like TradeWindow but the
// timestamp is the next integer day, intradayHour resets to zero, and
// there is no chat delivery step (§4.4).
func (e *Engine) DayAdvance(ctx context.Context, snapshot domain.SimulationSnapshot, newMarketData domain.MarketData) domain.SimulationSnapshot {
	staged := snapshot
	staged.MarketData = newMarketData
	staged.Day = snapshot.Day + 1
	staged.IntradayHour = 0

	allowChatWithoutInput := snapshot.Mode == domain.ModeHistorical
	timestamp := float64(staged.Day)
	return e.runRound(ctx, staged, staged.Day, timestamp, false, allowChatWithoutInput)
}

func pushCapped(series []string, item string, limit int) []string {
	out := append(series, item)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func pushCappedTrades(series []domain.Trade, items []domain.Trade, limit int) []domain.Trade {
	out := append(series, items...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func pushCappedMetrics(series []domain.PerformanceMetrics, item domain.PerformanceMetrics, limit int) []domain.PerformanceMetrics {
	out := append(series, item)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
