package sampler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgerun/sidecar/internal/models"
)

const (
	// anomalyThreshold is the number of reports of one (signal, kind) pair
	// that triggers a boost.
	anomalyThreshold = 5

	// adaptiveBoostFactor and adaptiveBoostDuration shape the automatic
	// boost installed when the threshold is reached.
	adaptiveBoostFactor   = 5.0
	adaptiveBoostDuration = time.Minute
)

type anomalyKey struct {
	signal models.Signal
	kind   string
}

// AdaptiveSampler raises sampling rates automatically when producers report
// repeated anomalies, so the window around a misbehaving run is captured at
// higher fidelity without anyone reconfiguring the sidecar.
type AdaptiveSampler struct {
	*Sampler

	anomalyMu sync.Mutex
	anomalies map[anomalyKey]int
}

// NewAdaptive creates an adaptive sampler over the given base rates.
func NewAdaptive(rates map[models.Signal]float64, logger *zap.Logger) *AdaptiveSampler {
	return &AdaptiveSampler{
		Sampler:   New(rates, logger),
		anomalies: make(map[anomalyKey]int),
	}
}

// ReportAnomaly counts one anomaly occurrence for the (signal, kind) pair.
// On the fifth report the signal's rate is boosted 5x for one minute and the
// counter resets. Never fails.
func (a *AdaptiveSampler) ReportAnomaly(signal models.Signal, kind string) {
	key := anomalyKey{signal: signal, kind: kind}

	a.anomalyMu.Lock()
	a.anomalies[key]++
	triggered := a.anomalies[key] >= anomalyThreshold
	if triggered {
		a.anomalies[key] = 0
	}
	a.anomalyMu.Unlock()

	if !triggered {
		return
	}

	a.Boost(signal, adaptiveBoostFactor, adaptiveBoostDuration)
	a.logger.Info("Anomaly threshold reached, boosting sampling",
		zap.String("signal", string(signal)),
		zap.String("kind", kind),
		zap.Float64("factor", adaptiveBoostFactor),
		zap.Duration("duration", adaptiveBoostDuration))
}
