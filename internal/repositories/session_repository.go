package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/caremesh/telecare/internal/models"
)

// SessionRepository is the postgres-backed persistence gateway. Writes
// are idempotent by session id so at-least-once delivery from the engine
// is safe.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save stores a session record, replacing any previous version.
func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	const query = `
	INSERT INTO telecare_sessions (
		id,
		patient_id,
		provider_id,
		status,
		scheduled_start_time,
		actual_start_time,
		end_time,
		media_room_ref,
		metadata,
		participants,
		aggregate_metrics,
		compliance_state,
		created_at,
		updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		actual_start_time = EXCLUDED.actual_start_time,
		end_time = EXCLUDED.end_time,
		metadata = EXCLUDED.metadata,
		participants = EXCLUDED.participants,
		aggregate_metrics = EXCLUDED.aggregate_metrics,
		compliance_state = EXCLUDED.compliance_state,
		updated_at = NOW()
	`

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	participants, err := json.Marshal(session.Participants)
	if err != nil {
		return errors.Wrap(err, "marshal participants")
	}
	aggregate, err := json.Marshal(session.Aggregate)
	if err != nil {
		return errors.Wrap(err, "marshal aggregate metrics")
	}
	compliance, err := json.Marshal(session.Compliance)
	if err != nil {
		return errors.Wrap(err, "marshal compliance state")
	}

	_, err = r.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.PatientID,
		session.ProviderID,
		session.Status,
		session.ScheduledStartTime,
		session.ActualStartTime,
		session.EndTime,
		session.MediaRoomRef,
		metadata,
		participants,
		aggregate,
		compliance,
		session.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "save session")
	}

	return r.appendNewAuditEntries(ctx, session)
}

// Update refreshes an existing session record. Same upsert as Save, kept
// as a separate method to match the gateway contract.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	return r.Save(ctx, session)
}

// AppendAudit stores a single audit entry.
func (r *SessionRepository) AppendAudit(ctx context.Context, sessionID uuid.UUID, entry models.AuditEntry) error {
	const query = `
	INSERT INTO session_audit_log (session_id, occurred_at, action, actor_id, detail)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT DO NOTHING
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		sessionID,
		entry.Timestamp,
		entry.Action,
		entry.ActorID,
		entry.Detail,
	)
	return errors.Wrap(err, "append audit entry")
}

// appendNewAuditEntries writes the session's audit tail. Entries carry a
// uniqueness constraint on (session_id, occurred_at, action), so replays
// are no-ops.
func (r *SessionRepository) appendNewAuditEntries(ctx context.Context, session *models.Session) error {
	for _, entry := range session.AuditLog {
		if err := r.AppendAudit(ctx, session.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a persisted session back, serving snapshot requests for
// sessions that have left the live registry. Returns (nil, nil) when no
// record exists.
func (r *SessionRepository) Load(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const query = `
	SELECT
		id,
		patient_id,
		provider_id,
		status,
		scheduled_start_time,
		actual_start_time,
		end_time,
		media_room_ref,
		metadata,
		participants,
		aggregate_metrics,
		compliance_state,
		created_at,
		updated_at
	FROM telecare_sessions
	WHERE id = $1
	LIMIT 1
	`

	var (
		session      models.Session
		metadata     []byte
		participants []byte
		aggregate    []byte
		compliance   []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.PatientID,
		&session.ProviderID,
		&session.Status,
		&session.ScheduledStartTime,
		&session.ActualStartTime,
		&session.EndTime,
		&session.MediaRoomRef,
		&metadata,
		&participants,
		&aggregate,
		&compliance,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}

	if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}
	if err := json.Unmarshal(participants, &session.Participants); err != nil {
		return nil, errors.Wrap(err, "unmarshal participants")
	}
	if err := json.Unmarshal(aggregate, &session.Aggregate); err != nil {
		return nil, errors.Wrap(err, "unmarshal aggregate metrics")
	}
	if err := json.Unmarshal(compliance, &session.Compliance); err != nil {
		return nil, errors.Wrap(err, "unmarshal compliance state")
	}

	return &session, nil
}
