// Package timer backs GET /api/timer (§6): how long until the next
// trade window fires, in wall-clock terms, regardless of whether the
// process is presently running on simulated or realtime cadence.
package timer

import (
	"context"
	"math"
	"time"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/aristath/marketsim/internal/simulation"
)

// Config mirrors the scheduler's cadence configuration (§4.6) so the
// timer can independently reconstruct the next trade-window instant.
type Config struct {
	Mode           domain.Mode
	TradeIntervalMs int
	SimIntervalMs   int
	MinutesPerTick  float64
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

// wallSecondsPerSimHour is how many wall-clock seconds elapse per
// simulated-clock hour, derived from the price-tick cadence: each
// SimIntervalMs of wall time advances MinutesPerTick/60 sim-hours.
func (c Config) wallSecondsPerSimHour() float64 {
	if c.MinutesPerTick <= 0 {
		return 0
	}
	simHoursPerTick := c.MinutesPerTick / 60
	return (float64(c.SimIntervalMs) / 1000) / simHoursPerTick
}

// RealtimeWindowSource supplies the next trade-window instant under
// realtime (or post-transition hybrid) pacing, where the trade-window
// loop is a plain wall-clock ticker rather than something computable
// from intradayHour.
type RealtimeWindowSource interface {
	NextRealtimeTradeWindowAt() time.Time
}

// Service computes the countdown to the next trade window for the API.
type Service struct {
	cfg   Config
	mgr   *simulation.Manager
	sched RealtimeWindowSource
}

// New builds a Service. sched may be nil if the process never runs in
// realtime/hybrid mode.
func New(cfg Config, mgr *simulation.Manager, sched RealtimeWindowSource) *Service {
	return &Service{cfg: cfg, mgr: mgr, sched: sched}
}

// Status is the GET /api/timer response shape.
type Status struct {
	CountdownSeconds         float64
	NextTradeWindowTimestamp int64
	NextTradeWindowISO       string
}

func buildStatus(next time.Time) Status {
	countdown := time.Until(next).Seconds()
	if countdown < 0 {
		countdown = 0
	}
	return Status{
		CountdownSeconds:         countdown,
		NextTradeWindowTimestamp: next.Unix(),
		NextTradeWindowISO:       next.UTC().Format(time.RFC3339),
	}
}

// Status computes the current countdown. In realtime (or a
// hybrid-transitioned) process it defers to the scheduler's own ticker
// state; otherwise it derives the next trade window from the first
// enabled instance's simulated clock.
func (s *Service) Status(ctx context.Context) (Status, error) {
	if s.usesRealtimeClock() {
		if s.sched == nil {
			return Status{}, marketsimerr.New(marketsimerr.KindInternal, "no realtime scheduler attached", nil)
		}
		return buildStatus(s.sched.NextRealtimeTradeWindowAt()), nil
	}

	inst, err := s.firstEnabledInstance()
	if err != nil {
		return Status{}, err
	}
	snap := inst.Snapshot()

	if snap.HybridTransitioned && s.sched != nil {
		return buildStatus(s.sched.NextRealtimeTradeWindowAt()), nil
	}

	hoursUntil, daysUntil := hoursUntilNextTradeWindow(snap.IntradayHour, s.cfg.tradeIntervalHours(), s.cfg.sessionCap())
	wallSeconds := hoursUntil * s.cfg.wallSecondsPerSimHour()
	if daysUntil > 0 {
		// day rollovers pass through dayAdvance at the end of each
		// session; approximate their wall-clock cost with one more
		// full tick interval per day crossed.
		wallSeconds += float64(daysUntil) * (float64(s.cfg.SimIntervalMs) / 1000)
	}

	next := time.Now().Add(time.Duration(wallSeconds * float64(time.Second)))
	return buildStatus(next), nil
}

func (s *Service) usesRealtimeClock() bool {
	return s.cfg.Mode == domain.ModeRealtime
}

func (s *Service) firstEnabledInstance() (*simulation.Instance, error) {
	for _, inst := range s.mgr.All() {
		if inst.SimulationType().Enabled {
			return inst, nil
		}
	}
	return nil, marketsimerr.New(marketsimerr.KindNotFound, "no enabled simulation to time", nil)
}

// hoursUntilNextTradeWindow returns the simulated-clock hours (and,
// if the next window falls beyond the session cap, the number of day
// rollovers) until the next trade-window boundary, given the interval
// defined in §4.6 ("first trade at tradeInterval hours into the
// session; subsequent windows at multiples thereof").
func hoursUntilNextTradeWindow(currentHour, intervalHours, sessionCap float64) (hours float64, days int) {
	if intervalHours <= 0 {
		return 0, 0
	}

	next := math.Ceil(currentHour/intervalHours) * intervalHours
	if next <= currentHour {
		next += intervalHours
	}

	if next < sessionCap {
		return next - currentHour, 0
	}

	// Today's session is out of windows; the next one is intervalHours
	// into tomorrow's fresh session (§4.6: "first trade at tradeInterval
	// hours into the session").
	return (sessionCap - currentHour) + intervalHours, 1
}
