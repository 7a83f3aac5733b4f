// Package domain holds the core entities of the specification (§3): ticker
// snapshots, portfolios, trades, performance metrics, agents, benchmarks,
// chat state, and the simulation snapshot that ties them together.
//
// These are plain data structures. None of them know how to fetch market
// data, call an LLM, or persist themselves — that belongs to marketdata,
// engine, and persistence respectively.
package domain

import "time"

// Ticker is a single symbol's market snapshot.
type Ticker struct {
	Symbol              string
	Price               float64
	DailyChange         float64
	DailyChangePercent  float64
	Fundamentals        *Fundamentals
}

// Fundamentals holds optional enrichment data for a ticker.
type Fundamentals struct {
	PERatio   *float64
	MarketCap *float64
	Sector    string
}

// MarketData maps symbol to ticker snapshot. Map iteration order is never
// relied upon by any consumer.
type MarketData map[string]Ticker

// Clone returns a shallow copy safe for a different owner to mutate.
func (m MarketData) Clone() MarketData {
	out := make(MarketData, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Position is a single held symbol within a portfolio.
type Position struct {
	Symbol          string
	Quantity        int64
	AverageCost     float64
	LastFairValue   *float64
	LastTopOfBox    *float64
	LastBottomOfBox *float64
}

// Portfolio is cash plus a set of positions, keyed by symbol. Quantity is
// never negative (no shorting) and a position with zero quantity is
// removed rather than kept as a zero entry.
type Portfolio struct {
	Cash      float64
	Positions map[string]Position
}

// NewPortfolio returns an empty portfolio seeded with cash.
func NewPortfolio(cash float64) Portfolio {
	return Portfolio{Cash: cash, Positions: make(map[string]Position)}
}

// Clone deep-copies the portfolio so a snapshot handed to a reader can be
// mutated independently of the owner's copy.
func (p Portfolio) Clone() Portfolio {
	positions := make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		positions[k] = v
	}
	return Portfolio{Cash: p.Cash, Positions: positions}
}

// TradeSide is buy or sell.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is an immutable execution record.
type Trade struct {
	ID             string
	Symbol         string
	Side           TradeSide
	Quantity       int64
	ExecutionPrice float64
	Fee            float64
	Timestamp      float64 // discrete day+hour/10, or unix seconds in realtime
	FairValue      *float64
	TopOfBox       *float64
	BottomOfBox    *float64
	Justification  string
}

// FailedTrade is a trade the advisor proposed but that could not be
// executed; it is fed back into the next round's prompt context.
type FailedTrade struct {
	Symbol string
	Side   TradeSide
	Qty    int64
	Reason string
}

// PerformanceMetrics is one point in a performance-history series.
type PerformanceMetrics struct {
	TotalValue           float64
	TotalReturn          float64
	DailyReturn          float64
	AnnualizedVolatility float64
	SharpeRatio          float64
	MaxDrawdown          float64
	Turnover             float64
	Timestamp            float64
	IntradayHour         float64
	MomentumRSI          float64 // RSI(14) over the totalValue series; informational only
}

// AgentMemory is the bounded recall an agent carries round to round.
type AgentMemory struct {
	RecentTrades      []Trade              // last 10
	RecentRationales  []string             // last 5
	RecentPerformance []PerformanceMetrics // last 10
	FailedTrades      []FailedTrade        // from the previous round only
	TelemetryTag      string               // correlation id for structured logs only
}

// Agent is one LLM-backed trader.
type Agent struct {
	ID                string
	DisplayName       string
	Model             string
	Color             string
	Image             string
	SystemPrompt      string
	Portfolio         Portfolio
	TradeHistory      []Trade
	PerformanceHist   []PerformanceMetrics
	RationaleByDay    map[int]string
	Memory            AgentMemory
}

// Benchmark is a virtual portfolio tracked alongside agents.
type Benchmark struct {
	ID              string
	Name            string
	Color           string
	PerformanceHist []PerformanceMetrics
	LastIndexPrice  *float64 // equity-index benchmark only
}

// ChatMessageStatus is the delivery lifecycle state of a user message.
// Agent-originated messages never carry a status (the zero value is
// treated as "not applicable").
type ChatMessageStatus string

const (
	ChatStatusPending    ChatMessageStatus = "pending"
	ChatStatusDelivered  ChatMessageStatus = "delivered"
	ChatStatusResponded  ChatMessageStatus = "responded"
	ChatStatusIgnored    ChatMessageStatus = "ignored"
)

// SenderType distinguishes a user-authored message from an agent reply.
type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAgent SenderType = "agent"
)

// ChatMessage is one chat entry, either a user message directed at an
// agent or an agent's reply.
type ChatMessage struct {
	ID             string
	SenderType     SenderType
	SenderAgentID  string // set only when SenderType is SenderAgent; the stable agent id to match/replace by
	SenderName     string // display name shown to readers; never the raw agent id
	TargetAgentID  string
	TargetAgentName string
	Content        string
	RoundID        string
	CreatedAt      time.Time
	Status         ChatMessageStatus // empty for agent messages
}

// ChatState is the chat subsystem's configuration plus its ordered message
// log.
type ChatState struct {
	Enabled             bool
	MaxMessagesPerAgent int
	MaxMessagesPerUser  int
	MaxMessageLength    int
	Messages            []ChatMessage
}

// Mode is the simulation's timing regime.
type Mode string

const (
	ModeSimulated  Mode = "simulated"
	ModeRealtime   Mode = "realtime"
	ModeHistorical Mode = "historical"
	ModeHybrid     Mode = "hybrid"
)

// SimulationSnapshot is the full, persistable state of one simulation
// instance at a point in time.
type SimulationSnapshot struct {
	Day               int
	IntradayHour      float64
	MarketData        MarketData
	Agents            []Agent
	Benchmarks        []Benchmark
	Mode              Mode
	HistoricalPeriod  string
	StartDate         time.Time
	CurrentDate       time.Time
	CurrentTimestamp  time.Time // realtime only; zero otherwise
	Chat              ChatState
	LastUpdated       time.Time
	// HybridTransitioned records whether a hybrid-mode simulation has
	// already switched from accelerated to realtime pacing.
	HybridTransitioned bool
}

// Clone deep-copies everything a caller outside the owning
// SimulationInstance is allowed to see.
func (s SimulationSnapshot) Clone() SimulationSnapshot {
	out := s
	out.MarketData = s.MarketData.Clone()

	out.Agents = make([]Agent, len(s.Agents))
	for i, a := range s.Agents {
		agent := a
		agent.Portfolio = a.Portfolio.Clone()
		agent.TradeHistory = append([]Trade(nil), a.TradeHistory...)
		agent.PerformanceHist = append([]PerformanceMetrics(nil), a.PerformanceHist...)
		agent.RationaleByDay = make(map[int]string, len(a.RationaleByDay))
		for k, v := range a.RationaleByDay {
			agent.RationaleByDay[k] = v
		}
		agent.Memory.RecentTrades = append([]Trade(nil), a.Memory.RecentTrades...)
		agent.Memory.RecentRationales = append([]string(nil), a.Memory.RecentRationales...)
		agent.Memory.RecentPerformance = append([]PerformanceMetrics(nil), a.Memory.RecentPerformance...)
		agent.Memory.FailedTrades = append([]FailedTrade(nil), a.Memory.FailedTrades...)
		out.Agents[i] = agent
	}

	out.Benchmarks = make([]Benchmark, len(s.Benchmarks))
	for i, b := range s.Benchmarks {
		bench := b
		bench.PerformanceHist = append([]PerformanceMetrics(nil), b.PerformanceHist...)
		out.Benchmarks[i] = bench
	}

	out.Chat.Messages = append([]ChatMessage(nil), s.Chat.Messages...)
	return out
}

// TraderConfig is the static configuration of one configured trader.
type TraderConfig struct {
	ID           string
	Name         string
	Model        string
	SystemPrompt string
	Color        string
	Image        string
}

// SimulationType is static configuration for one kind of simulation.
type SimulationType struct {
	ID              string
	DisplayName     string
	Description     string
	TraderConfigs   []TraderConfig
	ChatEnabled     bool
	ShowModelNames  bool
	Enabled         bool
}

// InitialCash is the starting cash balance for every freshly initialized
// agent (§4.5).
const InitialCash = 10_000

// FeeRate and MinFee parameterize trade execution fees (§4.4 step 6).
const (
	FeeRate = 0.0005
	MinFee  = 0.25
)

// RiskFreeRate is the annualized risk-free rate used by the Sharpe
// calculation (§4.3).
const RiskFreeRate = 0.04

// EquityIndexBenchmarkID and ManagersIndexBenchmarkID are the two
// well-known benchmark identities the engine maintains.
const (
	EquityIndexBenchmarkID   = "equity-index"
	ManagersIndexBenchmarkID = "managers-index"
)
