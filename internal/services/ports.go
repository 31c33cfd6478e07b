package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/caremesh/telecare/internal/models"
)

// PersistenceGateway stores terminal and in-flight sessions durably.
// Calls are fire-and-forget from the engine's point of view; delivery is
// at-least-once and idempotent by session ID.
type PersistenceGateway interface {
	Save(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	AppendAudit(ctx context.Context, sessionID uuid.UUID, entry models.AuditEntry) error
	// Load returns the archived session, or (nil, nil) when none is stored.
	// Serves reads for sessions that have left the live registry.
	Load(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
}

// NopPersistence discards all writes. Used when no database is
// configured.
type NopPersistence struct{}

func (NopPersistence) Save(context.Context, *models.Session) error { return nil }

func (NopPersistence) Update(context.Context, *models.Session) error { return nil }

func (NopPersistence) AppendAudit(context.Context, uuid.UUID, models.AuditEntry) error {
	return nil
}

func (NopPersistence) Load(context.Context, uuid.UUID) (*models.Session, error) {
	return nil, nil
}

// NotificationBus delivers quality updates and alerts to connected
// clients. Best-effort: a dropped notification never affects the state
// machine.
type NotificationBus interface {
	Publish(sessionID uuid.UUID, eventType string, payload any)
	// CloseSession disconnects all subscribers of a session and releases
	// its room. Called on every terminal transition.
	CloseSession(sessionID uuid.UUID)
}

// EncryptionVerifier confirms a session's media transport encryption.
// Consulted once per session before any participant may connect.
type EncryptionVerifier interface {
	VerifyEncryption(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// SessionMonitor controls the per-session background collection tasks.
// Stop blocks until the session's task has acknowledged cancellation.
type SessionMonitor interface {
	Start(sessionID uuid.UUID)
	Stop(sessionID uuid.UUID)
}
