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
	"github.com/caremesh/telecare/internal/token"
)

// LifecycleConfig carries the tunables of the session state machine.
type LifecycleConfig struct {
	MaxParticipants  int
	ScheduleGrace    time.Duration
	ProviderTimeout  time.Duration
	CreateRetries    int
	RetryBackoffBase time.Duration
	RecordingPolicy  string
	Region           string
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		MaxParticipants:  2,
		ScheduleGrace:    5 * time.Minute,
		ProviderTimeout:  10 * time.Second,
		CreateRetries:    3,
		RetryBackoffBase: 500 * time.Millisecond,
		RecordingPolicy:  "disabled",
		Region:           "us-east",
	}
}

// LifecycleService owns the session state machine: creation, token
// issuance, join/leave/end, cancellation, and the compliance gate.
type LifecycleService struct {
	cfg         LifecycleConfig
	registry    *registry.Registry
	provider    media.ProviderGateway
	verifier    EncryptionVerifier
	monitor     SessionMonitor
	persistence PersistenceGateway
	bus         NotificationBus
	tokens      *token.Manager
	logger      zerolog.Logger

	// gates holds the in-flight compliance verification per session, so
	// concurrent first joins trigger at most one verifier call.
	gateMu sync.Mutex
	gates  map[uuid.UUID]chan struct{}

	now func() time.Time
}

func NewLifecycleService(
	cfg LifecycleConfig,
	reg *registry.Registry,
	provider media.ProviderGateway,
	verifier EncryptionVerifier,
	monitor SessionMonitor,
	persistence PersistenceGateway,
	bus NotificationBus,
	tokens *token.Manager,
	logger zerolog.Logger,
) *LifecycleService {
	return &LifecycleService{
		cfg:         cfg,
		registry:    reg,
		provider:    provider,
		verifier:    verifier,
		monitor:     monitor,
		persistence: persistence,
		bus:         bus,
		tokens:      tokens,
		logger:      logger.With().Str("component", "lifecycle").Logger(),
		gates:       make(map[uuid.UUID]chan struct{}),
		now:         time.Now,
	}
}

// transition moves the session along the status graph, rejecting any
// edge the graph does not allow.
func transition(live *models.Session, to models.SessionStatus) error {
	if !models.CanTransition(live.Status, to) {
		return fmt.Errorf("%w: cannot move session from %s to %s", ErrState, live.Status, to)
	}
	live.Status = to
	return nil
}

// CreateSession provisions a media room and registers a SCHEDULED session.
// Atomic with respect to room creation: a session is never stored without
// a valid room ref, and a created room is destroyed if the store fails.
func (s *LifecycleService) CreateSession(
	ctx context.Context,
	patientID, providerID uuid.UUID,
	scheduledStart time.Time,
	metadata models.SessionMetadata,
) (*models.Session, error) {
	if patientID == uuid.Nil || providerID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient and provider ids are required", ErrValidation)
	}
	if scheduledStart.Before(s.now().Add(-s.cfg.ScheduleGrace)) {
		return nil, fmt.Errorf("%w: scheduled start time is in the past", ErrValidation)
	}

	roomRef, err := s.createRoomWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: room creation failed: %v", ErrProvider, err)
	}

	now := s.now()
	session := &models.Session{
		ID:                 uuid.New(),
		PatientID:          patientID,
		ProviderID:         providerID,
		ScheduledStartTime: scheduledStart,
		Status:             models.SessionStatusScheduled,
		Participants:       []models.Participant{},
		MediaRoomRef:       string(roomRef),
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	session.AppendAudit(models.AuditCreate, providerID, "session scheduled")

	if err := s.registry.Put(session); err != nil {
		s.destroyRoomAsync(roomRef)
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.logger.Info().
		Str("session_id", session.ID.String()).
		Str("room_ref", session.MediaRoomRef).
		Time("scheduled_start", scheduledStart).
		Msg("session created")

	s.saveAsync(session.Clone())
	return session.Clone(), nil
}

// GenerateAccessToken issues a short-lived token scoped to (sessionID, userID).
func (s *LifecycleService) GenerateAccessToken(sessionID, userID uuid.UUID, role models.ParticipantRole) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	snap, err := s.snapshot(sessionID)
	if err != nil {
		return "", err
	}
	if snap.Status.Terminal() {
		return "", fmt.Errorf("%w: session is %s", ErrState, snap.Status)
	}

	return s.tokens.Generate(sessionID, userID, role)
}

// JoinSession admits a participant. The compliance gate runs first: the
// encryption verifier is consulted on the first join attempt and its
// verdict is cached on the session. The capacity check and participant
// insert are one atomic operation under the session's lock.
func (s *LifecycleService) JoinSession(
	ctx context.Context,
	sessionID, userID uuid.UUID,
	role models.ParticipantRole,
	device models.DeviceInfo,
) (*models.Session, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	snap, err := s.snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	if snap.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot join session in status %s", ErrState, snap.Status)
	}

	if !snap.Compliance.EncryptionChecked {
		if err := s.runComplianceGate(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	firstJoin := false
	updated, err := s.registry.Update(sessionID, func(live *models.Session) error {
		if live.Status.Terminal() {
			return fmt.Errorf("%w: cannot join session in status %s", ErrState, live.Status)
		}
		if !live.Compliance.EncryptionVerified {
			return fmt.Errorf("%w: encryption not verified", ErrCompliance)
		}

		now := s.now()
		if p := live.Participant(userID); p != nil {
			p.ConnectionStatus = models.ConnectionConnected
			p.LeftAt = nil
			p.DeviceInfo = device
		} else {
			if len(live.Participants) >= s.cfg.MaxParticipants {
				return fmt.Errorf("%w: limit is %d participants", ErrCapacity, s.cfg.MaxParticipants)
			}
			live.Participants = append(live.Participants, models.Participant{
				UserID:           userID,
				Role:             role,
				JoinedAt:         now,
				ConnectionStatus: models.ConnectionConnected,
				DeviceInfo:       device,
			})
		}

		if live.Status == models.SessionStatusScheduled {
			if err := transition(live, models.SessionStatusInProgress); err != nil {
				return err
			}
			start := now
			live.ActualStartTime = &start
			firstJoin = true
		}

		live.AppendAudit(models.AuditJoin, userID, string(role))
		return nil
	})
	if err != nil {
		return nil, s.mapRegistryErr(err)
	}

	if firstJoin {
		s.monitor.Start(sessionID)
	}

	s.bus.Publish(sessionID, EventParticipantJoined, map[string]any{
		"user_id": userID,
		"role":    role,
	})
	s.updateAsync(updated)

	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID.String()).
		Str("role", string(role)).
		Bool("first_join", firstJoin).
		Msg("participant joined")

	return updated, nil
}

// LeaveSession marks a participant disconnected. It never ends the session
// by itself.
func (s *LifecycleService) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	updated, err := s.registry.Update(sessionID, func(live *models.Session) error {
		p := live.Participant(userID)
		if p == nil {
			return ErrParticipantNotFound
		}

		now := s.now()
		p.ConnectionStatus = models.ConnectionDisconnected
		p.LeftAt = &now
		live.AppendAudit(models.AuditLeave, userID, "")
		return nil
	})
	if err != nil {
		return s.mapRegistryErr(err)
	}

	s.bus.Publish(sessionID, EventParticipantLeft, map[string]any{"user_id": userID})
	s.updateAsync(updated)
	return nil
}

// EndSession completes the session. Only a provider may end it. The
// monitoring task is stopped and has acknowledged before this returns,
// so no sample is ever recorded after EndTime.
func (s *LifecycleService) EndSession(ctx context.Context, sessionID, actorID uuid.UUID, actorRole models.ParticipantRole) error {
	if actorRole != models.RoleProvider {
		return fmt.Errorf("%w: only a provider may end a session", ErrAuthorization)
	}

	updated, err := s.registry.Update(sessionID, func(live *models.Session) error {
		if err := transition(live, models.SessionStatusCompleted); err != nil {
			return err
		}

		now := s.now()
		live.EndTime = &now
		live.AppendAudit(models.AuditEnd, actorID, "")
		return nil
	})
	if err != nil {
		return s.mapRegistryErr(err)
	}

	s.monitor.Stop(sessionID)
	s.destroyRoomAsync(media.RoomRef(updated.MediaRoomRef))
	s.updateAsync(updated)
	s.bus.Publish(sessionID, EventSessionEnded, map[string]any{"ended_by": actorID})
	s.bus.CloseSession(sessionID)
	s.registry.Remove(sessionID)

	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("ended_by", actorID.String()).
		Msg("session completed")

	return nil
}

// CancelSession cancels a session that never started.
func (s *LifecycleService) CancelSession(ctx context.Context, sessionID, actorID uuid.UUID) error {
	updated, err := s.registry.Update(sessionID, func(live *models.Session) error {
		if err := transition(live, models.SessionStatusCancelled); err != nil {
			return err
		}

		now := s.now()
		live.EndTime = &now
		live.AppendAudit(models.AuditCancel, actorID, "")
		return nil
	})
	if err != nil {
		return s.mapRegistryErr(err)
	}

	s.destroyRoomAsync(media.RoomRef(updated.MediaRoomRef))
	s.updateAsync(updated)
	s.bus.Publish(sessionID, EventSessionCancelled, map[string]any{"cancelled_by": actorID})
	s.bus.CloseSession(sessionID)
	s.registry.Remove(sessionID)
	return nil
}

// GetSessionSnapshot returns a point-in-time copy of the session state.
// Live sessions come from the registry; ended ones fall back to the
// persistence gateway's archive.
func (s *LifecycleService) GetSessionSnapshot(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	snap, err := s.registry.Snapshot(sessionID)
	if err == nil {
		return snap, nil
	}
	if err != registry.ErrSessionNotFound {
		return nil, err
	}

	archived, err := s.persistence.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load archived session: %w", err)
	}
	if archived == nil {
		return nil, ErrSessionNotFound
	}
	return archived, nil
}

// runComplianceGate consults the encryption verifier exactly once per
// session. A negative or failed verification forces the session to FAILED;
// this gate cannot be bypassed by any caller role.
//
// Concurrent first joins race to become the gate owner; the losers wait
// for the owner's verdict instead of calling the verifier themselves, and
// the join update re-checks the recorded verdict under the session lock.
func (s *LifecycleService) runComplianceGate(ctx context.Context, sessionID uuid.UUID) error {
	s.gateMu.Lock()
	ch, inFlight := s.gates[sessionID]
	if inFlight {
		s.gateMu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch = make(chan struct{})
	s.gates[sessionID] = ch
	s.gateMu.Unlock()

	defer func() {
		s.gateMu.Lock()
		delete(s.gates, sessionID)
		s.gateMu.Unlock()
		close(ch)
	}()

	// The gate may have completed before we became owner.
	checked := false
	if _, err := s.registry.Update(sessionID, func(live *models.Session) error {
		checked = live.Compliance.EncryptionChecked
		return nil
	}); err != nil {
		return s.mapRegistryErr(err)
	}
	if checked {
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	verified, err := s.verifier.VerifyEncryption(vctx, sessionID)
	cancel()

	if err != nil || !verified {
		if err != nil {
			s.logger.Error().Err(err).
				Str("session_id", sessionID.String()).
				Msg("encryption verification errored")
		}
		s.failSession(sessionID, models.AuditComplianceViolation, "encryption verification failed")
		return fmt.Errorf("%w: encryption not verified", ErrCompliance)
	}

	_, err = s.registry.Update(sessionID, func(live *models.Session) error {
		live.Compliance.EncryptionVerified = true
		live.Compliance.EncryptionChecked = true
		return nil
	})
	return s.mapRegistryErr(err)
}

// failSession forces a session to FAILED and retires its resources.
func (s *LifecycleService) failSession(sessionID uuid.UUID, action models.AuditAction, detail string) {
	updated, err := s.registry.Update(sessionID, func(live *models.Session) error {
		if err := transition(live, models.SessionStatusFailed); err != nil {
			return err
		}

		now := s.now()
		live.EndTime = &now
		live.Compliance.EncryptionChecked = true
		live.AppendAudit(action, uuid.Nil, detail)
		return nil
	})
	if err != nil {
		return
	}

	s.monitor.Stop(sessionID)
	s.destroyRoomAsync(media.RoomRef(updated.MediaRoomRef))
	s.updateAsync(updated)
	s.bus.Publish(sessionID, EventSessionFailed, map[string]any{"reason": detail})
	s.bus.CloseSession(sessionID)
	s.registry.Remove(sessionID)

	s.logger.Warn().
		Str("session_id", sessionID.String()).
		Str("reason", detail).
		Msg("session failed")
}

func (s *LifecycleService) createRoomWithRetry(ctx context.Context) (media.RoomRef, error) {
	cfg := media.RoomConfig{
		MaxParticipants: s.cfg.MaxParticipants,
		RecordingPolicy: s.cfg.RecordingPolicy,
		Region:          s.cfg.Region,
	}

	var lastErr error
	backoff := s.cfg.RetryBackoffBase
	for attempt := 0; attempt <= s.cfg.CreateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		cctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		ref, err := s.provider.CreateRoom(cctx, cfg)
		cancel()
		if err == nil {
			return ref, nil
		}

		lastErr = err
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("room creation attempt failed")
	}
	return "", lastErr
}

func (s *LifecycleService) destroyRoomAsync(ref media.RoomRef) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProviderTimeout)
		defer cancel()
		if err := s.provider.DestroyRoom(ctx, ref); err != nil {
			s.logger.Warn().Err(err).Str("room_ref", string(ref)).Msg("room destruction failed")
		}
	}()
}

func (s *LifecycleService) saveAsync(session *models.Session) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.persistence.Save(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("session_id", session.ID.String()).Msg("persist save failed")
		}
	}()
}

func (s *LifecycleService) updateAsync(session *models.Session) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.persistence.Update(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("session_id", session.ID.String()).Msg("persist update failed")
		}
	}()
}

func (s *LifecycleService) snapshot(sessionID uuid.UUID) (*models.Session, error) {
	snap, err := s.registry.Snapshot(sessionID)
	if err != nil {
		return nil, s.mapRegistryErr(err)
	}
	return snap, nil
}

func (s *LifecycleService) mapRegistryErr(err error) error {
	if err == registry.ErrSessionNotFound {
		return ErrSessionNotFound
	}
	return err
}
