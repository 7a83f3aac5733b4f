package simulation

import (
	"context"
	"sync"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/aristath/marketsim/internal/persistence"
	"github.com/rs/zerolog"
)

// Manager owns every simulation instance plus the shared, process-wide
// market-data slot (§4.5, §5). Only the manager mutates the
// instance map; readers receive deep copies via Instance.Snapshot.
type Manager struct {
	mu          sync.RWMutex
	instances   map[string]*Instance
	marketData  domain.MarketData
	store       persistence.Adapter
	startCfg    StartDateConfig
	chatCfg     domain.ChatState
	clk         Clock
	log         zerolog.Logger
}

// New creates an empty Manager; call Register for each enabled
// SimulationType, then InitializeAll.
func New(store persistence.Adapter, startCfg StartDateConfig, chatCfg domain.ChatState, log zerolog.Logger) *Manager {
	return &Manager{
		instances: make(map[string]*Instance),
		store:     store,
		startCfg:  startCfg,
		chatCfg:   chatCfg,
		clk:       systemClock{},
		log:       log.With().Str("component", "simulation_manager").Logger(),
	}
}

// Register adds a simulation type under id, replacing any prior
// registration. Must be called before InitializeAll.
func (m *Manager) Register(id string, simType domain.SimulationType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[id] = NewInstance(id, simType)
}

// Get returns the instance for id, or KindNotFound.
func (m *Manager) Get(id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, marketsimerr.New(marketsimerr.KindNotFound, "unknown simulation: "+id, nil)
	}
	return inst, nil
}

// All returns every registered instance, in no particular order.
func (m *Manager) All() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

// InitializeAll walks every registered (enabled) simulation type,
// attempting to load a persisted snapshot unless forceReset is set;
// otherwise initializes fresh. Always saves the initial snapshot
// (§4.5).
func (m *Manager) InitializeAll(ctx context.Context, marketData domain.MarketData, forceReset bool) error {
	m.mu.Lock()
	m.marketData = marketData.Clone()
	m.mu.Unlock()

	for _, inst := range m.All() {
		if !inst.SimulationType().Enabled {
			continue
		}

		var prior *domain.SimulationSnapshot
		if !forceReset {
			if snap, err := m.store.Load(ctx, inst.ID); err == nil {
				prior = &snap
			} else if !marketsimerr.Is(err, marketsimerr.KindNotFound) {
				m.log.Warn().Err(err).Str("simulation_id", inst.ID).Msg("failed to load persisted snapshot, initializing fresh")
			}
		}

		inst.Initialize(marketData, prior, m.startCfg, m.chatCfg, m.clk)

		if err := m.store.Save(ctx, inst.ID, inst.Snapshot()); err != nil {
			m.log.Error().Err(err).Str("simulation_id", inst.ID).Msg("failed to save initial snapshot")
		}
	}
	return nil
}

// ResetSimulation replaces id's snapshot with a freshly initialized one
// using the current shared market data.
func (m *Manager) ResetSimulation(ctx context.Context, id string) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}

	m.mu.RLock()
	marketData := m.marketData
	m.mu.RUnlock()

	inst.Initialize(marketData, nil, m.startCfg, m.chatCfg, m.clk)
	return m.store.Save(ctx, id, inst.Snapshot())
}

// ResetAll resets every enabled simulation.
func (m *Manager) ResetAll(ctx context.Context) error {
	var firstErr error
	for _, inst := range m.All() {
		if !inst.SimulationType().Enabled {
			continue
		}
		if err := m.ResetSimulation(ctx, inst.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UpdateSharedMarketData replaces the process-wide market-data slot and
// propagates it into every instance's snapshot (§4.5).
func (m *Manager) UpdateSharedMarketData(marketData domain.MarketData) {
	m.mu.Lock()
	m.marketData = marketData.Clone()
	m.mu.Unlock()

	for _, inst := range m.All() {
		inst.Mutate(func(snap domain.SimulationSnapshot) domain.SimulationSnapshot {
			snap.MarketData = marketData.Clone()
			return snap
		})
	}
}

// SharedMarketData returns the current shared market-data slot.
func (m *Manager) SharedMarketData() domain.MarketData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marketData.Clone()
}

// SaveAll persists every instance's current snapshot, logging and
// continuing past individual failures (§5: "a failed write logs and
// continues"). A KindConflict failure is retried once before it is logged.
func (m *Manager) SaveAll(ctx context.Context) {
	for _, inst := range m.All() {
		snap := inst.Snapshot()
		err := m.store.Save(ctx, inst.ID, snap)
		if marketsimerr.Is(err, marketsimerr.KindConflict) {
			err = m.store.Save(ctx, inst.ID, snap)
		}
		if err != nil {
			m.log.Error().Err(err).Str("simulation_id", inst.ID).Msg("autosave failed")
		}
	}
}
