package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caremesh/telecare/internal/media"
)

func TestScorePerfectConditions(t *testing.T) {
	e := NewEvaluator(DefaultWeights(), DefaultStabilityAlpha)

	score := e.Score(media.RawStats{
		BitrateKbps:   2500,
		PacketLossPct: 0,
		LatencyMs:     0,
		JitterMs:      0,
	})

	assert.Equal(t, 100.0, score)
}

func TestScoreKnownInputs(t *testing.T) {
	e := NewEvaluator(DefaultWeights(), DefaultStabilityAlpha)

	// 2% loss (-6), 150ms latency (-12.5), 50ms jitter (-7.5)
	score := e.Score(media.RawStats{
		PacketLossPct: 2,
		LatencyMs:     150,
		JitterMs:      50,
	})

	assert.InDelta(t, 74.0, score, 0.001)
}

func TestScoreBounded(t *testing.T) {
	e := NewEvaluator(DefaultWeights(), DefaultStabilityAlpha)

	losses := []float64{0, 0.5, 3, 4, 10, 50, 100, -5}
	latencies := []float64{0, 50, 150, 300, 1000, -20}
	jitters := []float64{0, 10, 30, 100, 500, -1}

	for _, loss := range losses {
		for _, lat := range latencies {
			for _, jit := range jitters {
				score := e.Score(media.RawStats{
					PacketLossPct: loss,
					LatencyMs:     lat,
					JitterMs:      jit,
				})
				require.GreaterOrEqual(t, score, 0.0,
					"loss=%v lat=%v jit=%v", loss, lat, jit)
				require.LessOrEqual(t, score, 100.0,
					"loss=%v lat=%v jit=%v", loss, lat, jit)
			}
		}
	}
}

func TestScoreLatencyNormalizationSaturates(t *testing.T) {
	e := NewEvaluator(DefaultWeights(), DefaultStabilityAlpha)

	at300 := e.Score(media.RawStats{LatencyMs: 300})
	at900 := e.Score(media.RawStats{LatencyMs: 900})

	// Latency beyond the 300ms normalization ceiling costs no extra.
	assert.Equal(t, at300, at900)
	assert.InDelta(t, 75.0, at300, 0.001)
}

func TestEvaluateFirstSampleSeedsStability(t *testing.T) {
	e := NewEvaluator(DefaultWeights(), DefaultStabilityAlpha)
	now := time.Now()

	sample := e.Evaluate(nil, media.RawStats{PacketLossPct: 2, LatencyMs: 150, JitterMs: 50}, now)

	assert.Equal(t, now, sample.Timestamp)
	assert.Equal(t, sample.QualityScore, sample.NetworkStability)
}

func TestEvaluateStabilitySmoothing(t *testing.T) {
	e := NewEvaluator(DefaultWeights(), 0.3)
	now := time.Now()

	first := e.Evaluate(nil, media.RawStats{}, now)
	require.Equal(t, 100.0, first.NetworkStability)

	// Quality collapses; stability follows only partially.
	second := e.Evaluate(&first, media.RawStats{PacketLossPct: 100}, now.Add(5*time.Second))

	assert.Equal(t, 0.0, second.QualityScore)
	assert.InDelta(t, 70.0, second.NetworkStability, 0.001)
}

func TestEvaluateCarriesRawFields(t *testing.T) {
	e := NewEvaluator(DefaultWeights(), DefaultStabilityAlpha)

	raw := media.RawStats{
		BitrateKbps: 1800,
		LatencyMs:   90,
		JitterMs:    12,
		Resolution:  "1280x720",
		FrameRate:   30,
		AudioLevel:  0.8,
	}
	sample := e.Evaluate(nil, raw, time.Now())

	assert.Equal(t, 1800.0, sample.BitrateKbps)
	assert.Equal(t, "1280x720", sample.Resolution)
	assert.Equal(t, 30.0, sample.FrameRate)
	assert.Equal(t, 0.8, sample.AudioLevel)
}
