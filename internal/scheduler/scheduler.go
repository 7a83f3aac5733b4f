// Package scheduler implements the MultiSimScheduler of §4.6: the
// price-tick and trade-window loops that drive every registered
// simulation instance, hybrid-mode transition, historical completion,
// and autosave.
package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/marketsim/internal/archival"
	"github.com/aristath/marketsim/internal/clock"
	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/engine"
	"github.com/aristath/marketsim/internal/marketdata"
	"github.com/aristath/marketsim/internal/simulation"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Config parameterizes the scheduler's cadence (§6 environment options).
type Config struct {
	Mode               domain.Mode
	SimIntervalMs      int
	TradeIntervalMs    int
	MinutesPerTick     float64 // simulated/historical market-minutes advanced per price tick
	GuardMs            int
	BatchSize          int
	MaxSimulationDays  int // 0 = unlimited
	AutosaveIntervalMs int
	Symbols            []string
}

func (c Config) tradeIntervalHours() float64 {
	return float64(c.TradeIntervalMs) / (1000 * 60 * 60)
}

func (c Config) sessionCap() float64 {
	if c.Mode == domain.ModeRealtime {
		return 7.0
	}
	return 6.5
}

// Scheduler runs the two loops of §4.6 plus autosave.
type Scheduler struct {
	cfg      Config
	manager  *simulation.Manager
	provider *marketdata.Provider
	eng      *engine.Engine
	archiver *archival.Exporter
	log      zerolog.Logger

	mode          atomic.Value // domain.Mode, flips on hybrid transition
	hybridFlipped atomic.Bool
	nextTradeWindowAt atomic.Value // time.Time, updated by tradeWindowLoop

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	cronSched *cron.Cron
}

// New builds a Scheduler bound to its collaborators.
func New(cfg Config, manager *simulation.Manager, provider *marketdata.Provider, eng *engine.Engine, archiver *archival.Exporter, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		manager:  manager,
		provider: provider,
		eng:      eng,
		archiver: archiver,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
	s.mode.Store(cfg.Mode)
	return s
}

func (s *Scheduler) effectiveMode() domain.Mode {
	return s.mode.Load().(domain.Mode)
}

// NextRealtimeTradeWindowAt returns the instant the realtime
// trade-window loop's ticker is next due to fire, for timer.Service.
func (s *Scheduler) NextRealtimeTradeWindowAt() time.Time {
	if v := s.nextTradeWindowAt.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Now().Add(time.Duration(s.cfg.TradeIntervalMs) * time.Millisecond)
}

// Start launches the price-tick loop, the trade-window loop (realtime
// only), and the autosave cron job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.priceTickLoop(ctx)

	if s.effectiveMode() == domain.ModeRealtime {
		s.wg.Add(1)
		go s.tradeWindowLoop(ctx)
	}

	s.startAutosave(ctx)
	return nil
}

// Stop signals both loops to exit and waits for them, then stops
// autosave. Callers are expected to SaveAll afterward (§5 shutdown
// sequence).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	cronSched := s.cronSched
	s.mu.Unlock()

	s.wg.Wait()
	if cronSched != nil {
		cronSched.Stop()
	}
}

// IsRunning reports whether the scheduler's loops are active (§6
// GET /api/simulations/scheduler/status).
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) startAutosave(ctx context.Context) {
	interval := s.cfg.AutosaveIntervalMs
	if interval <= 0 {
		interval = 15 * 60 * 1000
	}
	seconds := interval / 1000
	if seconds < 1 {
		seconds = 1
	}

	c := cron.New(cron.WithSeconds())
	spec := "@every " + time.Duration(seconds*int(time.Second)).String()
	_, err := c.AddFunc(spec, func() {
		s.manager.SaveAll(ctx)
		s.logTelemetry()
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to schedule autosave job")
		return
	}
	c.Start()

	s.mu.Lock()
	s.cronSched = c
	s.mu.Unlock()
}

// logTelemetry emits process health telemetry alongside each autosave
// tick, the same cadence the teacher's health jobs piggyback on.
func (s *Scheduler) logTelemetry() {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	var cpuPct float64
	if err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	vm, err := mem.VirtualMemory()
	var memPct float64
	if err == nil {
		memPct = vm.UsedPercent
	}
	s.log.Info().
		Float64("cpu_percent", cpuPct).
		Float64("mem_percent", memPct).
		Int("blocked_primary_requests", s.provider.BlockedRequests()).
		Msg("scheduler telemetry")
}

// priceTickLoop implements §4.6's price-tick loop, branching on the
// effective mode.
func (s *Scheduler) priceTickLoop(ctx context.Context) {
	defer s.wg.Done()

	if s.effectiveMode() == domain.ModeRealtime {
		s.realtimePriceTickLoop(ctx)
		return
	}
	s.fixedIntervalPriceTickLoop(ctx)
}

func (s *Scheduler) fixedIntervalPriceTickLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.SimIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHybridTransition(ctx)
			if s.effectiveMode() == domain.ModeRealtime {
				return // restarted by the hybrid transition below
			}
			s.simulatedTick(ctx)
		}
	}
}

// checkHybridTransition flips effective mode from simulated to realtime
// once the next simulated tick would cross "now" in ET (§4.6). The
// transition restarts the price-tick loop under realtime semantics.
func (s *Scheduler) checkHybridTransition(ctx context.Context) {
	if s.cfg.Mode != domain.ModeHybrid || s.hybridFlipped.Load() {
		return
	}

	for _, inst := range s.manager.All() {
		snap := inst.Snapshot()
		nextET, err := clock.IntradayHourToET(snap.CurrentDate, snap.IntradayHour+s.cfg.MinutesPerTick/60.0)
		if err != nil {
			continue
		}
		if nextET.After(time.Now()) {
			continue
		}

		s.hybridFlipped.Store(true)
		s.mode.Store(domain.ModeRealtime)
		inst.Mutate(func(sn domain.SimulationSnapshot) domain.SimulationSnapshot {
			sn.HybridTransitioned = true
			return sn
		})
		s.log.Info().Str("simulation_id", inst.ID).Msg("hybrid simulation transitioned to realtime pacing")
	}

	if s.mode.Load().(domain.Mode) == domain.ModeRealtime {
		s.wg.Add(1)
		go s.realtimePriceTickLoop(ctx)
		s.wg.Add(1)
		go s.tradeWindowLoop(ctx)
	}
}

// simulatedTick advances every enabled instance by one tick (§4.6
// simulated/historical fixed-interval branch): apply priceStep, trigger
// a tradeWindow at the configured cadence, or dayAdvance once the next
// intraday hour crosses the session boundary.
func (s *Scheduler) simulatedTick(ctx context.Context) {
	shared := s.manager.SharedMarketData()

	var wg sync.WaitGroup
	for _, inst := range s.manager.All() {
		if !inst.SimulationType().Enabled {
			continue
		}
		wg.Add(1)
		go func(inst *simulation.Instance) {
			defer wg.Done()
			s.simulatedTickOne(ctx, inst, shared)
		}(inst)
	}
	wg.Wait()
}

// simulatedTickOne applies one tick of simulated/historical-mode
// semantics to a single instance. Run concurrently across instances by
// simulatedTick (§5: "engine operations for distinct instances within
// the same tick run concurrently; the scheduler waits for all to
// finish before advancing").
func (s *Scheduler) simulatedTickOne(ctx context.Context, inst *simulation.Instance, shared domain.MarketData) {
	snap := inst.Snapshot()
	if s.isHistoricalSimulationComplete(snap) {
		return
	}

	nextHour := snap.IntradayHour + s.cfg.MinutesPerTick/60.0
	if nextHour >= s.cfg.sessionCap() {
		newMarketData, err := s.provider.NextDayMarketData(ctx, shared)
		if err != nil {
			s.log.Warn().Err(err).Str("simulation_id", inst.ID).Msg("failed to advance market data for day rollover")
			newMarketData = shared
		}
		next := s.eng.DayAdvance(ctx, snap, newMarketData)
		inst.Replace(next)

		if s.isHistoricalSimulationComplete(next) {
			s.completeHistoricalSimulation(ctx, inst)
		}
		return
	}

	timestamp := float64(snap.Day) + nextHour/10
	newMarketData, err := s.provider.NextIntradayMarketData(ctx, shared, snap.Day, nextHour, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("simulation_id", inst.ID).Msg("failed to advance intraday market data")
		newMarketData = shared
	}

	staged := snap
	staged.IntradayHour = nextHour
	next := s.eng.PriceStep(staged, newMarketData, timestamp)

	if s.shouldTriggerTradeWindow(nextHour) {
		next = s.eng.TradeWindow(ctx, next, timestamp)
	}
	inst.Replace(next)
}

// shouldTriggerTradeWindow reports whether hour lands within ±30 minutes
// of a trade-interval multiple (§4.6).
func (s *Scheduler) shouldTriggerTradeWindow(hour float64) bool {
	interval := s.cfg.tradeIntervalHours()
	if interval <= 0 || hour <= 0 {
		return false
	}
	mod := math.Mod(hour, interval)
	return mod < 0.5 || (interval-mod) < 0.5
}

func (s *Scheduler) isHistoricalSimulationComplete(snap domain.SimulationSnapshot) bool {
	if s.cfg.MaxSimulationDays <= 0 {
		return false
	}
	if s.cfg.Mode != domain.ModeHistorical && !(s.cfg.Mode == domain.ModeHybrid && !s.hybridFlipped.Load()) {
		return false
	}
	return snap.Day > s.cfg.MaxSimulationDays
}

func (s *Scheduler) completeHistoricalSimulation(ctx context.Context, inst *simulation.Instance) {
	s.log.Info().Str("simulation_id", inst.ID).Msg("historical simulation complete")
	if s.archiver != nil {
		if err := s.archiver.ExportCompletion(ctx, inst.ID, inst.Snapshot()); err != nil {
			s.log.Error().Err(err).Str("simulation_id", inst.ID).Msg("failed to export historical completion artifacts")
		}
	}
}

// realtimePriceTickLoop implements §4.6's realtime/post-transition
// price-tick loop: market-hours gate, a priceStep over every instance
// using the previous tick's prefetch result (or the shared market data
// when there is none), then a Prefetch for the next tick. The Prefetch
// runs synchronously after the priceStep; the two do not overlap.
func (s *Scheduler) realtimePriceTickLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.SimIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	var prefetch *marketdata.PrefetchResult
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		open, err := clock.IsMarketOpen(time.Now())
		if err != nil {
			s.log.Error().Err(err).Msg("market-hours check failed")
			open = false
		}
		if !open {
			nextOpen, err := clock.NextMarketOpen(time.Now())
			sleep := time.Minute
			if err == nil {
				if until := time.Until(nextOpen); until < sleep {
					sleep = until
				}
			}
			if sleep < 0 {
				sleep = time.Second
			}
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			continue
		}

		tickStart := time.Now()

		marketData := s.manager.SharedMarketData()
		if prefetch != nil {
			marketData = prefetch.MarketData
		}

		s.manager.UpdateSharedMarketData(marketData)
		timestamp := float64(time.Now().Unix())
		var wg sync.WaitGroup
		for _, inst := range s.manager.All() {
			if !inst.SimulationType().Enabled {
				continue
			}
			wg.Add(1)
			go func(inst *simulation.Instance) {
				defer wg.Done()
				snap := inst.Snapshot()
				next := s.eng.PriceStep(snap, marketData, timestamp)
				inst.Replace(next)
			}(inst)
		}
		wg.Wait()

		result, err := s.provider.Prefetch(ctx, s.cfg.Symbols, marketdata.PrefetchOptions{
			IntervalMs: s.cfg.SimIntervalMs,
			GuardMs:    s.cfg.GuardMs,
			BatchSize:  s.cfg.BatchSize,
			MinPauseMs: 50,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("prefetch failed")
			prefetch = nil
		} else {
			prefetch = &result
		}

		elapsed := time.Since(tickStart)
		sleep := interval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// tradeWindowLoop implements §4.6's realtime trade-window loop: a
// fixed-interval timer gated on market hours.
func (s *Scheduler) tradeWindowLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.TradeIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.nextTradeWindowAt.Store(time.Now().Add(interval))

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.nextTradeWindowAt.Store(time.Now().Add(interval))
			open, err := clock.IsMarketOpen(time.Now())
			if err != nil || !open {
				continue
			}
			timestamp := float64(time.Now().Unix())
			var wg sync.WaitGroup
			for _, inst := range s.manager.All() {
				if !inst.SimulationType().Enabled {
					continue
				}
				wg.Add(1)
				go func(inst *simulation.Instance) {
					defer wg.Done()
					snap := inst.Snapshot()
					next := s.eng.TradeWindow(ctx, snap, timestamp)
					inst.Replace(next)
				}(inst)
			}
			wg.Wait()
		}
	}
}
