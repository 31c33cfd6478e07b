package models

import "time"

// QualityMetrics is an immutable point-in-time sample of session media health.
type QualityMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	BitrateKbps   float64   `json:"bitrate_kbps"`
	PacketLossPct float64   `json:"packet_loss_pct"`
	LatencyMs     float64   `json:"latency_ms"`
	JitterMs      float64   `json:"jitter_ms"`
	Resolution    string    `json:"resolution,omitempty"`
	FrameRate     float64   `json:"frame_rate,omitempty"`
	AudioLevel    float64   `json:"audio_level,omitempty"`

	// Derived, both bounded to [0,100].
	QualityScore     float64 `json:"quality_score"`
	NetworkStability float64 `json:"network_stability"`
}

// AggregateMetrics holds the latest sample plus a bounded rolling window.
// All samples are produced by the session's single monitoring goroutine,
// so the window is strictly ordered by timestamp.
type AggregateMetrics struct {
	Latest       *QualityMetrics  `json:"latest,omitempty"`
	Window       []QualityMetrics `json:"window,omitempty"`
	AverageScore float64          `json:"average_score"`
}

// Append adds a sample to the rolling window, evicting the oldest entry
// once the window holds maxSamples.
func (a *AggregateMetrics) Append(sample QualityMetrics, maxSamples int) {
	a.Window = append(a.Window, sample)
	if maxSamples > 0 && len(a.Window) > maxSamples {
		a.Window = a.Window[len(a.Window)-maxSamples:]
	}

	a.Latest = &a.Window[len(a.Window)-1]

	var sum float64
	for i := range a.Window {
		sum += a.Window[i].QualityScore
	}
	a.AverageScore = sum / float64(len(a.Window))
}

func (a AggregateMetrics) clone() AggregateMetrics {
	cp := a
	cp.Window = append([]QualityMetrics(nil), a.Window...)
	if len(cp.Window) > 0 {
		cp.Latest = &cp.Window[len(cp.Window)-1]
	} else if a.Latest != nil {
		m := *a.Latest
		cp.Latest = &m
	}
	return cp
}
