package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caremesh/telecare/internal/media"
	"github.com/caremesh/telecare/internal/models"
	"github.com/caremesh/telecare/internal/registry"
)

// AlertThresholds define when a sample counts as degraded and when a
// degradation episode escalates.
type AlertThresholds struct {
	MaxPacketLossPct float64
	MinBitrateKbps   float64
	// EscalateAfter is the number of consecutive degraded cycles beyond
	// which severity escalates.
	EscalateAfter int
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxPacketLossPct: 3,
		MinBitrateKbps:   250,
		EscalateAfter:    3,
	}
}

// episode tracks one contiguous run of degraded cycles for a session.
// At most one QUALITY_DEGRADED alert and one SEVERE escalation are
// published per episode.
type episode struct {
	degraded  bool
	cycles    int
	escalated bool
}

// AlertCoordinator applies quality thresholds to each sample, attempts
// bounded recovery through the media provider, and publishes
// de-duplicated alerts.
type AlertCoordinator struct {
	thresholds  AlertThresholds
	provider    media.ProviderGateway
	registry    *registry.Registry
	persistence PersistenceGateway
	bus         NotificationBus
	logger      zerolog.Logger

	providerTimeout time.Duration

	mu       sync.Mutex
	episodes map[uuid.UUID]*episode
}

func NewAlertCoordinator(
	thresholds AlertThresholds,
	provider media.ProviderGateway,
	reg *registry.Registry,
	persistence PersistenceGateway,
	bus NotificationBus,
	logger zerolog.Logger,
) *AlertCoordinator {
	return &AlertCoordinator{
		thresholds:      thresholds,
		provider:        provider,
		registry:        reg,
		persistence:     persistence,
		bus:             bus,
		logger:          logger.With().Str("component", "alert_coordinator").Logger(),
		providerTimeout: 10 * time.Second,
		episodes:        make(map[uuid.UUID]*episode),
	}
}

// Degraded reports whether a sample crosses the degradation thresholds.
func (c *AlertCoordinator) Degraded(sample models.QualityMetrics) bool {
	return sample.PacketLossPct > c.thresholds.MaxPacketLossPct ||
		sample.BitrateKbps < c.thresholds.MinBitrateKbps
}

// Evaluate processes one sample for the session. Called by the session's
// single monitoring task, so evaluation per session is serialized.
func (c *AlertCoordinator) Evaluate(ctx context.Context, session *models.Session, sample models.QualityMetrics) {
	degraded := c.Degraded(sample)

	c.mu.Lock()
	ep := c.episodes[session.ID]
	if ep == nil {
		ep = &episode{}
		c.episodes[session.ID] = ep
	}

	var entered, escalate, recovered bool
	switch {
	case degraded && !ep.degraded:
		ep.degraded = true
		ep.cycles = 1
		entered = true
	case degraded:
		ep.cycles++
		if ep.cycles > c.thresholds.EscalateAfter && !ep.escalated {
			ep.escalated = true
			escalate = true
		}
	case ep.degraded:
		*ep = episode{}
		recovered = true
	}
	c.mu.Unlock()

	switch {
	case entered:
		c.onDegraded(ctx, session, sample)
	case escalate:
		c.onSevere(ctx, session, sample)
	case recovered:
		c.onRecovered(session, sample)
	}
}

// Forget drops the episode state for an ended session.
func (c *AlertCoordinator) Forget(sessionID uuid.UUID) {
	c.mu.Lock()
	delete(c.episodes, sessionID)
	c.mu.Unlock()
}

func (c *AlertCoordinator) onDegraded(ctx context.Context, session *models.Session, sample models.QualityMetrics) {
	rctx, cancel := context.WithTimeout(ctx, c.providerTimeout)
	err := c.provider.RequestRecovery(rctx, media.RoomRef(session.MediaRoomRef))
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).
			Str("session_id", session.ID.String()).
			Msg("recovery request failed")
	}

	c.bus.Publish(session.ID, EventQualityDegraded, alertPayload(sample, "degraded"))

	c.logger.Warn().
		Str("session_id", session.ID.String()).
		Float64("packet_loss_pct", sample.PacketLossPct).
		Float64("bitrate_kbps", sample.BitrateKbps).
		Msg("quality degraded")
}

func (c *AlertCoordinator) onSevere(ctx context.Context, session *models.Session, sample models.QualityMetrics) {
	c.bus.Publish(session.ID, EventQualitySevere, alertPayload(sample, "severe"))

	detail := fmt.Sprintf("degraded for more than %d cycles", c.thresholds.EscalateAfter)
	updated, err := c.registry.Update(session.ID, func(live *models.Session) error {
		live.AppendAudit(models.AuditQualitySevere, uuid.Nil, detail)
		return nil
	})
	if err != nil {
		return
	}

	entry := updated.AuditLog[len(updated.AuditLog)-1]
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.persistence.AppendAudit(actx, session.ID, entry); err != nil {
			c.logger.Warn().Err(err).
				Str("session_id", session.ID.String()).
				Msg("audit persistence failed")
		}
	}()

	c.logger.Error().
		Str("session_id", session.ID.String()).
		Float64("quality_score", sample.QualityScore).
		Msg("quality degradation escalated to severe")
}

func (c *AlertCoordinator) onRecovered(session *models.Session, sample models.QualityMetrics) {
	c.bus.Publish(session.ID, EventQualityRecovered, alertPayload(sample, "recovered"))

	c.logger.Info().
		Str("session_id", session.ID.String()).
		Float64("quality_score", sample.QualityScore).
		Msg("quality recovered")
}

func alertPayload(sample models.QualityMetrics, severity string) map[string]any {
	return map[string]any{
		"severity":        severity,
		"quality_score":   sample.QualityScore,
		"packet_loss_pct": sample.PacketLossPct,
		"bitrate_kbps":    sample.BitrateKbps,
		"latency_ms":      sample.LatencyMs,
		"jitter_ms":       sample.JitterMs,
		"timestamp":       sample.Timestamp,
	}
}
