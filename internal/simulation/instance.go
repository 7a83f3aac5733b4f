// Package simulation implements SimulationInstance and SimulationManager
// (§4.5): per-simulation state ownership plus the process-wide manager
// that walks enabled simulation types, loads or initializes each, and
// propagates shared market data into every instance.
package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/marketsim/internal/clock"
	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
)

// Clock abstracts "now" so tests can pin a start date; production code
// uses the real wall clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// StartDateConfig configures how InitializeAll picks each fresh
// instance's start date.
type StartDateConfig struct {
	Mode                domain.Mode
	DelayMinutes        int // realtime delayed-data mode
	HistoricalStart     time.Time
	SimulatedStartDate  time.Time // defaults to the current day when zero
}

// Instance owns one simulation's snapshot and serializes every mutating
// operation against it (§5: "at most one engine operation runs on a
// given instance at a time").
type Instance struct {
	ID             string
	simType        domain.SimulationType

	mu       sync.RWMutex
	snapshot domain.SimulationSnapshot
}

// NewInstance wraps simType under id; call Initialize before use.
func NewInstance(id string, simType domain.SimulationType) *Instance {
	return &Instance{ID: id, simType: simType}
}

// Snapshot returns a deep copy safe for the caller to read or persist.
func (inst *Instance) Snapshot() domain.SimulationSnapshot {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.snapshot.Clone()
}

// Replace atomically swaps in a new snapshot, produced by an engine
// operation run by the caller (the scheduler) against a copy obtained
// from Snapshot.
func (inst *Instance) Replace(next domain.SimulationSnapshot) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.snapshot = next
}

// Mutate runs fn against the current snapshot under the instance's lock
// and stores whatever it returns, serializing concurrent callers.
func (inst *Instance) Mutate(fn func(domain.SimulationSnapshot) domain.SimulationSnapshot) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.snapshot = fn(inst.snapshot)
}

// Initialize sets up the instance's snapshot (§4.5): if prior is
// supplied, it is loaded as-is except that its market data and chat
// configuration are replaced by marketData and chatCfg; otherwise a fresh
// snapshot is built from simType's trader configs.
func (inst *Instance) Initialize(marketData domain.MarketData, prior *domain.SimulationSnapshot, startCfg StartDateConfig, chatCfg domain.ChatState, clk Clock) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if prior != nil {
		snap := *prior
		snap.MarketData = marketData.Clone()
		snap.Chat.Enabled = chatCfg.Enabled
		snap.Chat.MaxMessagesPerAgent = chatCfg.MaxMessagesPerAgent
		snap.Chat.MaxMessagesPerUser = chatCfg.MaxMessagesPerUser
		snap.Chat.MaxMessageLength = chatCfg.MaxMessageLength
		inst.snapshot = snap
		return
	}

	if clk == nil {
		clk = systemClock{}
	}

	agents := make([]domain.Agent, 0, len(inst.simType.TraderConfigs))
	for _, tc := range inst.simType.TraderConfigs {
		agents = append(agents, domain.Agent{
			ID:           tc.ID,
			DisplayName:  tc.Name,
			Model:        tc.Model,
			Color:        tc.Color,
			Image:        tc.Image,
			SystemPrompt: tc.SystemPrompt,
			Portfolio:    domain.NewPortfolio(domain.InitialCash),
			PerformanceHist: []domain.PerformanceMetrics{{
				TotalValue: domain.InitialCash,
				Timestamp:  0,
			}},
			RationaleByDay: make(map[int]string),
		})
	}

	benchmarks := []domain.Benchmark{{ID: domain.EquityIndexBenchmarkID, Name: "Equity Index", PerformanceHist: []domain.PerformanceMetrics{{TotalValue: domain.InitialCash, Timestamp: 0}}}}
	if len(inst.simType.TraderConfigs) > 1 {
		benchmarks = append(benchmarks, domain.Benchmark{ID: domain.ManagersIndexBenchmarkID, Name: "Managers Index", PerformanceHist: []domain.PerformanceMetrics{{TotalValue: domain.InitialCash, Timestamp: 0}}})
	}

	startDate := inst.resolveStartDate(startCfg, clk)

	inst.snapshot = domain.SimulationSnapshot{
		Day:              0,
		IntradayHour:     0,
		MarketData:       marketData.Clone(),
		Agents:           agents,
		Benchmarks:       benchmarks,
		Mode:             startCfg.Mode,
		StartDate:        startDate,
		CurrentDate:      startDate,
		LastUpdated:      clk.Now(),
		Chat:             chatCfg,
	}
}

func (inst *Instance) resolveStartDate(cfg StartDateConfig, clk Clock) time.Time {
	switch cfg.Mode {
	case domain.ModeRealtime:
		now := clk.Now()
		if cfg.DelayMinutes > 0 {
			now = now.Add(-time.Duration(cfg.DelayMinutes) * time.Minute)
		}
		return now
	case domain.ModeHistorical:
		return cfg.HistoricalStart
	default: // simulated, hybrid
		start := cfg.SimulatedStartDate
		if start.IsZero() {
			start = clk.Now()
		}
		opened, err := clock.NextMarketOpen(start)
		if err != nil {
			return start
		}
		return opened
	}
}

// SimulationType exposes the instance's static configuration.
func (inst *Instance) SimulationType() domain.SimulationType {
	return inst.simType
}

// StateOrErr returns the snapshot for read, honoring the "disabled
// simulation" and "not found" API-edge error kinds (§6, §7). Instance
// itself is always "found" once constructed; a disabled simulation type
// yields a KindForbidden error here.
func (inst *Instance) StateOrErr(ctx context.Context) (domain.SimulationSnapshot, error) {
	if !inst.simType.Enabled {
		return domain.SimulationSnapshot{}, marketsimerr.New(marketsimerr.KindForbidden, "simulation "+inst.ID+" is disabled", nil)
	}
	return inst.Snapshot(), nil
}
