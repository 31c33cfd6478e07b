// Package quality converts raw connection statistics into normalized
// quality metrics. All functions are pure and deterministic.
package quality

import (
	"time"

	"github.com/caremesh/telecare/internal/media"
	"github.com/caremesh/telecare/internal/models"
)

// Weights control how much each raw statistic pulls the score down.
// Latency and jitter carry more weight than packet loss, reflecting
// their larger perceptual effect on a live consultation.
type Weights struct {
	PacketLoss float64
	Latency    float64
	Jitter     float64
}

func DefaultWeights() Weights {
	return Weights{
		PacketLoss: 3.0,
		Latency:    25.0,
		Jitter:     15.0,
	}
}

// DefaultStabilityAlpha is the smoothing factor of the network-stability
// exponential moving average.
const DefaultStabilityAlpha = 0.3

type Evaluator struct {
	weights Weights
	alpha   float64
}

func NewEvaluator(weights Weights, alpha float64) *Evaluator {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultStabilityAlpha
	}
	return &Evaluator{weights: weights, alpha: alpha}
}

// Score maps raw stats to a quality score in [0,100].
//
//	score = clamp(100
//	  - packetLossWeight * packetLossPct
//	  - latencyWeight * normalize(latencyMs, 0, 300)
//	  - jitterWeight  * normalize(jitterMs, 0, 100), 0, 100)
func (e *Evaluator) Score(raw media.RawStats) float64 {
	score := 100 -
		e.weights.PacketLoss*raw.PacketLossPct -
		e.weights.Latency*normalize(raw.LatencyMs, 0, 300) -
		e.weights.Jitter*normalize(raw.JitterMs, 0, 100)
	return clamp(score, 0, 100)
}

// Evaluate produces an immutable sample from raw stats. prev is the
// previous sample for the same session, or nil for the first cycle;
// it seeds the stability moving average.
func (e *Evaluator) Evaluate(prev *models.QualityMetrics, raw media.RawStats, now time.Time) models.QualityMetrics {
	score := e.Score(raw)

	stability := score
	if prev != nil {
		stability = e.alpha*score + (1-e.alpha)*prev.NetworkStability
	}

	return models.QualityMetrics{
		Timestamp:        now,
		BitrateKbps:      raw.BitrateKbps,
		PacketLossPct:    raw.PacketLossPct,
		LatencyMs:        raw.LatencyMs,
		JitterMs:         raw.JitterMs,
		Resolution:       raw.Resolution,
		FrameRate:        raw.FrameRate,
		AudioLevel:       raw.AudioLevel,
		QualityScore:     score,
		NetworkStability: clamp(stability, 0, 100),
	}
}

func normalize(x, lo, hi float64) float64 {
	return clamp((x-lo)/(hi-lo), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
