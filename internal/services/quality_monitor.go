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
	"github.com/caremesh/telecare/internal/quality"
	"github.com/caremesh/telecare/internal/registry"
)

type MonitorConfig struct {
	Interval time.Duration
	// CollectionTimeout bounds a single stats fetch. Zero means one full
	// interval.
	CollectionTimeout time.Duration
	// WindowSize bounds the rolling sample window per session.
	WindowSize int
	// MaxConsecutiveFailures is the number of failed collection cycles
	// after which participants are marked reconnecting.
	MaxConsecutiveFailures int
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:               5 * time.Second,
		CollectionTimeout:      4 * time.Second,
		WindowSize:             60,
		MaxConsecutiveFailures: 3,
	}
}

// QualityMonitor runs one independent collection task per in-progress
// session. A task only ever terminates on an explicit Stop; transient
// collection errors skip the cycle and keep the loop alive.
type QualityMonitor struct {
	cfg         MonitorConfig
	registry    *registry.Registry
	provider    media.ProviderGateway
	evaluator   *quality.Evaluator
	coordinator *AlertCoordinator
	bus         NotificationBus
	logger      zerolog.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]*monitorTask
}

type monitorTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQualityMonitor(
	cfg MonitorConfig,
	reg *registry.Registry,
	provider media.ProviderGateway,
	evaluator *quality.Evaluator,
	coordinator *AlertCoordinator,
	bus NotificationBus,
	logger zerolog.Logger,
) *QualityMonitor {
	return &QualityMonitor{
		cfg:         cfg,
		registry:    reg,
		provider:    provider,
		evaluator:   evaluator,
		coordinator: coordinator,
		bus:         bus,
		logger:      logger.With().Str("component", "quality_monitor").Logger(),
		tasks:       make(map[uuid.UUID]*monitorTask),
	}
}

// Start spawns the session's collection task. Idempotent: at most one
// task exists per session.
func (m *QualityMonitor) Start(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[sessionID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &monitorTask{cancel: cancel, done: make(chan struct{})}
	m.tasks[sessionID] = task

	go m.run(ctx, sessionID, task)

	m.logger.Debug().Str("session_id", sessionID.String()).Msg("monitoring task started")
}

// Stop cancels the session's task and blocks until it acknowledges.
func (m *QualityMonitor) Stop(sessionID uuid.UUID) {
	m.mu.Lock()
	task := m.tasks[sessionID]
	delete(m.tasks, sessionID)
	m.mu.Unlock()

	if task == nil {
		return
	}

	task.cancel()
	<-task.done
	m.coordinator.Forget(sessionID)

	m.logger.Debug().Str("session_id", sessionID.String()).Msg("monitoring task stopped")
}

// StopAll stops every running task. Used on shutdown.
func (m *QualityMonitor) StopAll() {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// TaskCount reports the number of live monitoring tasks.
func (m *QualityMonitor) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *QualityMonitor) run(ctx context.Context, sessionID uuid.UUID, task *monitorTask) {
	defer close(task.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx, sessionID, &failures)
		}
	}
}

// collect performs one cycle: fetch stats, evaluate, record, forward to
// the alert coordinator. A fetch that cannot complete within the
// collection timeout counts as a failed cycle.
func (m *QualityMonitor) collect(ctx context.Context, sessionID uuid.UUID, failures *int) {
	snap, err := m.registry.Snapshot(sessionID)
	if err != nil || snap.Status != models.SessionStatusInProgress {
		return
	}

	timeout := m.cfg.CollectionTimeout
	if timeout <= 0 {
		timeout = m.cfg.Interval
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	raw, err := m.provider.FetchStats(fctx, media.RoomRef(snap.MediaRoomRef))
	cancel()

	if err != nil {
		*failures++
		m.logger.Debug().Err(err).
			Str("session_id", sessionID.String()).
			Int("consecutive_failures", *failures).
			Msg("collection cycle skipped")

		if *failures == m.cfg.MaxConsecutiveFailures {
			m.markReconnecting(sessionID)
		}
		return
	}

	if *failures >= m.cfg.MaxConsecutiveFailures {
		m.markConnected(sessionID)
	}
	*failures = 0

	sample := m.evaluator.Evaluate(snap.Aggregate.Latest, raw, time.Now())

	updated, err := m.registry.Update(sessionID, func(live *models.Session) error {
		// Samples attach only to in-progress sessions; the session may
		// have ended between the snapshot and this update.
		if live.Status != models.SessionStatusInProgress {
			return fmt.Errorf("%w: session is %s", ErrState, live.Status)
		}

		live.Aggregate.Append(sample, m.cfg.WindowSize)
		for i := range live.Participants {
			if live.Participants[i].ConnectionStatus == models.ConnectionConnected {
				live.Participants[i].LatestMetrics = &sample
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	m.bus.Publish(sessionID, EventQualityUpdate, sample)
	m.coordinator.Evaluate(ctx, updated, sample)
}

// markReconnecting flags connected participants after repeated collection
// failures and publishes a RECONNECTING notification.
func (m *QualityMonitor) markReconnecting(sessionID uuid.UUID) {
	_, err := m.registry.Update(sessionID, func(live *models.Session) error {
		if live.Status != models.SessionStatusInProgress {
			return fmt.Errorf("%w: session is %s", ErrState, live.Status)
		}
		for i := range live.Participants {
			if live.Participants[i].ConnectionStatus == models.ConnectionConnected {
				live.Participants[i].ConnectionStatus = models.ConnectionReconnecting
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	m.bus.Publish(sessionID, EventReconnecting, map[string]any{
		"consecutive_failures": m.cfg.MaxConsecutiveFailures,
	})

	m.logger.Warn().
		Str("session_id", sessionID.String()).
		Msg("stats collection failing, participants marked reconnecting")
}

// markConnected restores participants once collection succeeds again.
func (m *QualityMonitor) markConnected(sessionID uuid.UUID) {
	m.registry.Update(sessionID, func(live *models.Session) error {
		for i := range live.Participants {
			if live.Participants[i].ConnectionStatus == models.ConnectionReconnecting {
				live.Participants[i].ConnectionStatus = models.ConnectionConnected
			}
		}
		return nil
	})
}
