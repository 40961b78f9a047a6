// Package sampler implements probabilistic per-signal sampling with
// temporary rate boosts and anomaly-triggered adaptive boosting. Sampling
// decisions are O(1) under a single lock and never fail: a sampler error can
// only ever mean more or less diagnostic data, not a host-visible fault.
package sampler

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgerun/sidecar/internal/models"
)

// boost is a temporary multiplier on a signal's sampling rate. Boosts are
// lazily expired: the read-time check removes them on the first decision
// after the duration has elapsed. They are never renewed automatically.
type boost struct {
	factor   float64
	start    time.Time
	duration time.Duration
}

func (b boost) activeAt(now time.Time) bool {
	return now.Sub(b.start) < b.duration
}

// SignalStats is a point-in-time view of one signal's sampling state.
type SignalStats struct {
	Rate        float64 `json:"rate"`
	BoostFactor float64 `json:"boost_factor"`
	Seen        int64   `json:"seen"`
	Kept        int64   `json:"kept"`
}

// Sampler decides, per signal class, whether an observed event is kept.
type Sampler struct {
	mu     sync.Mutex
	rates  map[models.Signal]float64
	boosts map[models.Signal]boost
	seen   map[models.Signal]int64
	kept   map[models.Signal]int64
	rng    *rand.Rand
	now    func() time.Time

	logger *zap.Logger
}

// New creates a sampler seeded with the given per-signal rates. Rates are
// clamped to [0,1]; signals without a configured rate are always kept.
func New(rates map[models.Signal]float64, logger *zap.Logger) *Sampler {
	s := &Sampler{
		rates:  make(map[models.Signal]float64, len(rates)),
		boosts: make(map[models.Signal]boost),
		seen:   make(map[models.Signal]int64),
		kept:   make(map[models.Signal]int64),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		logger: logger,
	}
	for signal, rate := range rates {
		s.rates[signal] = clampRate(rate)
	}
	return s
}

// SetRate sets the base sampling rate for a signal, clamped to [0,1].
func (s *Sampler) SetRate(signal models.Signal, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[signal] = clampRate(rate)
}

// SetRates replaces the base rates for all given signals in one step.
// Used by config hot-reload.
func (s *Sampler) SetRates(rates map[models.Signal]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for signal, rate := range rates {
		s.rates[signal] = clampRate(rate)
	}
}

// ShouldSample reports whether an event of the given signal class is kept.
// The effective rate is the base rate times any unexpired boost factor,
// clamped to 1. Expired boosts are removed on this read. Never fails.
func (s *Sampler) ShouldSample(signal models.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen[signal]++

	rate, ok := s.rates[signal]
	if !ok {
		// Unconfigured signals are kept: losing unclassified diagnostics
		// silently would be worse than keeping them.
		rate = 1.0
	}

	if b, exists := s.boosts[signal]; exists {
		if b.activeAt(s.now()) {
			rate *= b.factor
		} else {
			delete(s.boosts, signal)
		}
	}
	if rate > 1 {
		rate = 1
	}

	if s.rng.Float64() >= rate {
		return false
	}
	s.kept[signal]++
	return true
}

// Boost installs (or overwrites) a temporary rate multiplier for a signal.
func (s *Sampler) Boost(signal models.Signal, factor float64, duration time.Duration) {
	s.mu.Lock()
	s.boosts[signal] = boost{factor: factor, start: s.now(), duration: duration}
	s.mu.Unlock()

	s.logger.Debug("Sampling boost installed",
		zap.String("signal", string(signal)),
		zap.Float64("factor", factor),
		zap.Duration("duration", duration))
}

// Stats returns a snapshot of every signal seen or configured so far.
// Expired boosts encountered during the snapshot are removed.
func (s *Sampler) Stats() map[models.Signal]SignalStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.Signal]SignalStats, len(s.rates))
	for signal := range s.rates {
		out[signal] = s.statsLocked(signal)
	}
	for signal := range s.seen {
		if _, ok := out[signal]; !ok {
			out[signal] = s.statsLocked(signal)
		}
	}
	return out
}

// statsLocked builds one signal's stats. Caller must hold s.mu.
func (s *Sampler) statsLocked(signal models.Signal) SignalStats {
	rate, ok := s.rates[signal]
	if !ok {
		rate = 1.0
	}
	factor := 1.0
	if b, exists := s.boosts[signal]; exists {
		if b.activeAt(s.now()) {
			factor = b.factor
		} else {
			delete(s.boosts, signal)
		}
	}
	return SignalStats{
		Rate:        rate,
		BoostFactor: factor,
		Seen:        s.seen[signal],
		Kept:        s.kept[signal],
	}
}

func clampRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
