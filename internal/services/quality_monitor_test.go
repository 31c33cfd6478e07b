package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/caremesh/telecare/internal/media"
	"github.com/caremesh/telecare/internal/models"
	"github.com/caremesh/telecare/internal/quality"
	"github.com/caremesh/telecare/internal/registry"
)

type monitorFixture struct {
	monitor  *QualityMonitor
	reg      *registry.Registry
	provider *MockProvider
	bus      *recordingBus
}

func newMonitorFixture(t *testing.T, cfg MonitorConfig) *monitorFixture {
	t.Helper()

	f := &monitorFixture{
		reg:      registry.New(),
		provider: new(MockProvider),
		bus:      &recordingBus{},
	}

	evaluator := quality.NewEvaluator(quality.DefaultWeights(), quality.DefaultStabilityAlpha)
	coordinator := NewAlertCoordinator(
		DefaultAlertThresholds(), f.provider, f.reg, noopPersistence{}, f.bus, zerolog.Nop(),
	)
	f.monitor = NewQualityMonitor(cfg, f.reg, f.provider, evaluator, coordinator, f.bus, zerolog.Nop())
	return f
}

func (f *monitorFixture) addInProgressSession(t *testing.T) *models.Session {
	t.Helper()

	now := time.Now()
	s := &models.Session{
		ID:           uuid.New(),
		PatientID:    uuid.New(),
		ProviderID:   uuid.New(),
		Status:       models.SessionStatusInProgress,
		MediaRoomRef: "room-1",
		Participants: []models.Participant{
			{UserID: uuid.New(), Role: models.RolePatient, ConnectionStatus: models.ConnectionConnected},
		},
		ActualStartTime: &now,
		CreatedAt:       now,
	}
	require.NoError(t, f.reg.Put(s))
	return s
}

func goodStats() media.RawStats {
	return media.RawStats{BitrateKbps: 1800, PacketLossPct: 0.5, LatencyMs: 40, JitterMs: 5}
}

func TestMonitorRecordsSamples(t *testing.T) {
	cfg := MonitorConfig{Interval: 10 * time.Millisecond, WindowSize: 60, MaxConsecutiveFailures: 3}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	f.provider.On("FetchStats", mock.Anything, media.RoomRef("room-1")).Return(goodStats(), nil)

	f.monitor.Start(s.ID)
	defer f.monitor.StopAll()

	require.Eventually(t, func() bool {
		snap, err := f.reg.Snapshot(s.ID)
		return err == nil && len(snap.Aggregate.Window) >= 3
	}, time.Second, 5*time.Millisecond)

	snap, err := f.reg.Snapshot(s.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Aggregate.Latest)
	assert.Greater(t, snap.Aggregate.Latest.QualityScore, 90.0)
	assert.NotNil(t, snap.Participants[0].LatestMetrics)

	// Single-writer per session: samples strictly ordered by timestamp.
	for i := 1; i < len(snap.Aggregate.Window); i++ {
		assert.True(t, snap.Aggregate.Window[i].Timestamp.After(snap.Aggregate.Window[i-1].Timestamp))
	}
}

func TestMonitorWindowBounded(t *testing.T) {
	cfg := MonitorConfig{Interval: 2 * time.Millisecond, WindowSize: 5, MaxConsecutiveFailures: 3}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	f.provider.On("FetchStats", mock.Anything, mock.Anything).Return(goodStats(), nil)

	f.monitor.Start(s.ID)
	defer f.monitor.StopAll()

	require.Eventually(t, func() bool {
		snap, err := f.reg.Snapshot(s.ID)
		return err == nil && len(snap.Aggregate.Window) == 5 && snap.Aggregate.Latest != nil
	}, time.Second, 2*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	snap, err := f.reg.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Aggregate.Window, 5)
}

func TestMonitorStartIdempotent(t *testing.T) {
	cfg := MonitorConfig{Interval: 10 * time.Millisecond, WindowSize: 60, MaxConsecutiveFailures: 3}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	f.provider.On("FetchStats", mock.Anything, mock.Anything).Return(goodStats(), nil).Maybe()

	f.monitor.Start(s.ID)
	f.monitor.Start(s.ID)
	assert.Equal(t, 1, f.monitor.TaskCount())

	f.monitor.StopAll()
	assert.Equal(t, 0, f.monitor.TaskCount())
}

func TestMonitorStopIsAcknowledgedAndNoSamplesAfter(t *testing.T) {
	cfg := MonitorConfig{Interval: 5 * time.Millisecond, WindowSize: 60, MaxConsecutiveFailures: 3}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	f.provider.On("FetchStats", mock.Anything, mock.Anything).Return(goodStats(), nil)

	f.monitor.Start(s.ID)
	require.Eventually(t, func() bool {
		snap, err := f.reg.Snapshot(s.ID)
		return err == nil && len(snap.Aggregate.Window) >= 1
	}, time.Second, time.Millisecond)

	f.monitor.Stop(s.ID)
	assert.Equal(t, 0, f.monitor.TaskCount())

	snap, err := f.reg.Snapshot(s.ID)
	require.NoError(t, err)
	before := len(snap.Aggregate.Window)

	// Wait several intervals; no further sample may appear.
	time.Sleep(5 * cfg.Interval)
	snap, err = f.reg.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, before, len(snap.Aggregate.Window))
}

func TestMonitorStopUnknownSession(t *testing.T) {
	cfg := DefaultMonitorConfig()
	f := newMonitorFixture(t, cfg)

	// Must not panic or block.
	f.monitor.Stop(uuid.New())
}

func TestMonitorSkipsCyclesOnProviderError(t *testing.T) {
	cfg := MonitorConfig{Interval: 5 * time.Millisecond, WindowSize: 60, MaxConsecutiveFailures: 3}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	f.provider.On("FetchStats", mock.Anything, mock.Anything).
		Return(media.RawStats{}, errors.New("timeout")).Twice()
	f.provider.On("FetchStats", mock.Anything, mock.Anything).Return(goodStats(), nil)

	f.monitor.Start(s.ID)
	defer f.monitor.StopAll()

	// Two failures stay below the threshold: no reconnecting notice,
	// loop keeps running and records once the provider recovers.
	require.Eventually(t, func() bool {
		snap, err := f.reg.Snapshot(s.ID)
		return err == nil && len(snap.Aggregate.Window) >= 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, 0, f.bus.Count(EventReconnecting))

	snap, err := f.reg.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionConnected, snap.Participants[0].ConnectionStatus)
}

func TestMonitorMarksReconnectingAfterConsecutiveFailures(t *testing.T) {
	cfg := MonitorConfig{Interval: 5 * time.Millisecond, WindowSize: 60, MaxConsecutiveFailures: 3}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	f.provider.On("FetchStats", mock.Anything, mock.Anything).
		Return(media.RawStats{}, errors.New("timeout")).Times(3)
	f.provider.On("FetchStats", mock.Anything, mock.Anything).Return(goodStats(), nil)

	f.monitor.Start(s.ID)
	defer f.monitor.StopAll()

	require.Eventually(t, func() bool {
		return f.bus.Count(EventReconnecting) == 1
	}, time.Second, time.Millisecond)

	// Collection recovers: participant restored and samples resume.
	require.Eventually(t, func() bool {
		snap, err := f.reg.Snapshot(s.ID)
		return err == nil &&
			len(snap.Aggregate.Window) >= 1 &&
			snap.Participants[0].ConnectionStatus == models.ConnectionConnected
	}, time.Second, time.Millisecond)

	// The notification fired exactly once for the failure run.
	assert.Equal(t, 1, f.bus.Count(EventReconnecting))
}

func TestMonitorBoundsCollectionByConfiguredTimeout(t *testing.T) {
	cfg := MonitorConfig{
		Interval:               50 * time.Millisecond,
		CollectionTimeout:      10 * time.Millisecond,
		WindowSize:             60,
		MaxConsecutiveFailures: 3,
	}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	deadlines := make(chan time.Duration, 1)
	f.provider.On("FetchStats", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			if d, ok := ctx.Deadline(); ok {
				select {
				case deadlines <- time.Until(d):
				default:
				}
			}
		}).
		Return(goodStats(), nil)

	f.monitor.Start(s.ID)
	defer f.monitor.StopAll()

	select {
	case remaining := <-deadlines:
		assert.Greater(t, remaining, time.Duration(0))
		assert.LessOrEqual(t, remaining, cfg.CollectionTimeout)
	case <-time.After(time.Second):
		t.Fatal("no stats collection observed")
	}
}

func TestMonitorNoSampleOnEndedSession(t *testing.T) {
	cfg := MonitorConfig{Interval: 5 * time.Millisecond, WindowSize: 60, MaxConsecutiveFailures: 3}
	f := newMonitorFixture(t, cfg)
	s := f.addInProgressSession(t)

	f.provider.On("FetchStats", mock.Anything, mock.Anything).Return(goodStats(), nil).Maybe()

	// Session completes between cycles without the task being stopped yet.
	_, err := f.reg.Update(s.ID, func(live *models.Session) error {
		now := time.Now()
		live.Status = models.SessionStatusCompleted
		live.EndTime = &now
		return nil
	})
	require.NoError(t, err)

	f.monitor.Start(s.ID)
	defer f.monitor.StopAll()

	time.Sleep(5 * cfg.Interval)
	snap, err := f.reg.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Aggregate.Window)
}
