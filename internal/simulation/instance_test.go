package simulation

import (
	"testing"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func soloType() domain.SimulationType {
	return domain.SimulationType{
		ID:            "solo",
		Enabled:       true,
		TraderConfigs: []domain.TraderConfig{{ID: "a1", Name: "Ada"}},
	}
}

func panelType() domain.SimulationType {
	return domain.SimulationType{
		ID:      "panel",
		Enabled: true,
		TraderConfigs: []domain.TraderConfig{
			{ID: "a1", Name: "Ada"},
			{ID: "a2", Name: "Bea"},
		},
	}
}

func TestInitialize_FreshSnapshotSeedsOneAgentAndEquityBenchmarkOnlyForSingleTrader(t *testing.T) {
	inst := NewInstance("solo", soloType())
	clk := fixedClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}

	inst.Initialize(domain.MarketData{}, nil, StartDateConfig{Mode: domain.ModeHistorical, HistoricalStart: clk.now}, domain.ChatState{}, clk)

	snap := inst.Snapshot()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, float64(domain.InitialCash), snap.Agents[0].Portfolio.Cash)
	require.Len(t, snap.Benchmarks, 1)
	assert.Equal(t, domain.EquityIndexBenchmarkID, snap.Benchmarks[0].ID)
}

func TestInitialize_FreshSnapshotAddsManagersIndexBenchmarkForMultiTrader(t *testing.T) {
	inst := NewInstance("panel", panelType())
	clk := fixedClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}

	inst.Initialize(domain.MarketData{}, nil, StartDateConfig{Mode: domain.ModeHistorical, HistoricalStart: clk.now}, domain.ChatState{}, clk)

	snap := inst.Snapshot()
	require.Len(t, snap.Agents, 2)
	require.Len(t, snap.Benchmarks, 2)
	assert.Equal(t, domain.ManagersIndexBenchmarkID, snap.Benchmarks[1].ID)
}

func TestInitialize_WithPriorSnapshotLoadsItVerbatimButRefreshesMarketDataAndChatConfig(t *testing.T) {
	inst := NewInstance("solo", soloType())
	prior := domain.SimulationSnapshot{
		Day:   7,
		Chat:  domain.ChatState{Enabled: false, MaxMessagesPerAgent: 1},
		Agents: []domain.Agent{{ID: "a1", Portfolio: domain.NewPortfolio(5_000)}},
	}
	newMarketData := domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 150}}
	newChatCfg := domain.ChatState{Enabled: true, MaxMessagesPerAgent: 3, MaxMessagesPerUser: 3, MaxMessageLength: 200}

	inst.Initialize(newMarketData, &prior, StartDateConfig{Mode: domain.ModeSimulated}, newChatCfg, fixedClock{now: time.Now()})

	snap := inst.Snapshot()
	assert.Equal(t, 7, snap.Day) // loaded verbatim
	assert.Equal(t, 5_000.0, snap.Agents[0].Portfolio.Cash)
	assert.Equal(t, 150.0, snap.MarketData["AAPL"].Price) // refreshed
	assert.True(t, snap.Chat.Enabled)                     // refreshed
	assert.Equal(t, 3, snap.Chat.MaxMessagesPerAgent)
}

func TestResolveStartDate_RealtimeAppliesDelayMinutes(t *testing.T) {
	inst := NewInstance("solo", soloType())
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	got := inst.resolveStartDate(StartDateConfig{Mode: domain.ModeRealtime, DelayMinutes: 15}, fixedClock{now: now})

	assert.Equal(t, now.Add(-15*time.Minute), got)
}

func TestResolveStartDate_HistoricalUsesConfiguredStart(t *testing.T) {
	inst := NewInstance("solo", soloType())
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)

	got := inst.resolveStartDate(StartDateConfig{Mode: domain.ModeHistorical, HistoricalStart: start}, fixedClock{now: time.Now()})

	assert.Equal(t, start, got)
}

func TestResolveStartDate_SimulatedDefaultsToNextMarketOpenFromNow(t *testing.T) {
	inst := NewInstance("solo", soloType())
	now := time.Date(2024, 6, 10, 3, 0, 0, 0, time.UTC) // before market open

	got := inst.resolveStartDate(StartDateConfig{Mode: domain.ModeSimulated}, fixedClock{now: now})

	assert.True(t, got.After(now))
}

func TestStateOrErr_ForbiddenWhenSimulationTypeDisabled(t *testing.T) {
	st := soloType()
	st.Enabled = false
	inst := NewInstance("solo", st)
	inst.Initialize(domain.MarketData{}, nil, StartDateConfig{Mode: domain.ModeHistorical}, domain.ChatState{}, fixedClock{now: time.Now()})

	_, err := inst.StateOrErr(nil)

	require.Error(t, err)
	var kerr *marketsimerr.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, marketsimerr.KindForbidden, kerr.Kind)
}

func TestStateOrErr_ReturnsSnapshotWhenEnabled(t *testing.T) {
	inst := NewInstance("solo", soloType())
	inst.Initialize(domain.MarketData{}, nil, StartDateConfig{Mode: domain.ModeHistorical}, domain.ChatState{}, fixedClock{now: time.Now()})

	snap, err := inst.StateOrErr(nil)

	require.NoError(t, err)
	assert.Len(t, snap.Agents, 1)
}
