package timer

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/persistence"
	"github.com/aristath/marketsim/internal/simulation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ snaps map[string]domain.SimulationSnapshot }

func newMemStore() *memStore { return &memStore{snaps: make(map[string]domain.SimulationSnapshot)} }

func (m *memStore) Save(_ context.Context, id string, snap domain.SimulationSnapshot) error {
	m.snaps[id] = snap
	return nil
}
func (m *memStore) Load(_ context.Context, id string) (domain.SimulationSnapshot, error) {
	return domain.SimulationSnapshot{}, assertNotFound{}
}
func (m *memStore) Close() error { return nil }

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

var _ persistence.Adapter = (*memStore)(nil)

type fakeRealtimeSource struct{ next time.Time }

func (f fakeRealtimeSource) NextRealtimeTradeWindowAt() time.Time { return f.next }

func TestHoursUntilNextTradeWindow_WithinSameSession(t *testing.T) {
	hours, days := hoursUntilNextTradeWindow(0.3, 2.0, 6.5)
	assert.InDelta(t, 1.7, hours, 1e-9)
	assert.Equal(t, 0, days)
}

func TestHoursUntilNextTradeWindow_RollsToNextDay(t *testing.T) {
	hours, days := hoursUntilNextTradeWindow(6.0, 2.0, 6.5)
	assert.InDelta(t, 2.5, hours, 1e-9) // 0.5h left today + 2h into tomorrow
	assert.Equal(t, 1, days)
}

func TestHoursUntilNextTradeWindow_ExactlyOnBoundaryAdvancesToNextMultiple(t *testing.T) {
	hours, days := hoursUntilNextTradeWindow(2.0, 2.0, 6.5)
	assert.InDelta(t, 2.0, hours, 1e-9)
	assert.Equal(t, 0, days)
}

func newSimulatedManager(t *testing.T, intradayHour float64) *simulation.Manager {
	t.Helper()
	mgr := simulation.New(newMemStore(), simulation.StartDateConfig{Mode: domain.ModeSimulated, SimulatedStartDate: time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)}, domain.ChatState{}, zerolog.Nop())
	mgr.Register("solo", domain.SimulationType{ID: "solo", Enabled: true, TraderConfigs: []domain.TraderConfig{{ID: "agent-1", Name: "Ada"}}})
	require.NoError(t, mgr.InitializeAll(context.Background(), domain.MarketData{}, false))
	inst, err := mgr.Get("solo")
	require.NoError(t, err)
	inst.Mutate(func(snap domain.SimulationSnapshot) domain.SimulationSnapshot {
		snap.IntradayHour = intradayHour
		return snap
	})
	return mgr
}

func TestStatus_SimulatedModeDerivesCountdownFromIntradayHour(t *testing.T) {
	mgr := newSimulatedManager(t, 0.0)
	svc := New(Config{Mode: domain.ModeSimulated, TradeIntervalMs: 2 * 60 * 60 * 1000, SimIntervalMs: 30 * 1000, MinutesPerTick: 30}, mgr, nil)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Greater(t, status.CountdownSeconds, 0.0)
	assert.NotEmpty(t, status.NextTradeWindowISO)
}

func TestStatus_RealtimeModeDefersToScheduler(t *testing.T) {
	mgr := newSimulatedManager(t, 0.0)
	next := time.Now().Add(10 * time.Minute)
	svc := New(Config{Mode: domain.ModeRealtime, TradeIntervalMs: 30 * 60 * 1000}, mgr, fakeRealtimeSource{next: next})

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10*60, status.CountdownSeconds, 2)
	assert.Equal(t, next.Unix(), status.NextTradeWindowTimestamp)
}

func TestStatus_RealtimeModeWithoutSchedulerErrors(t *testing.T) {
	mgr := newSimulatedManager(t, 0.0)
	svc := New(Config{Mode: domain.ModeRealtime}, mgr, nil)

	_, err := svc.Status(context.Background())
	assert.Error(t, err)
}
