package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "scheduled"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted out of s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the status graph allows from -> to.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case SessionStatusScheduled:
		return to == SessionStatusInProgress || to == SessionStatusCancelled || to == SessionStatusFailed
	case SessionStatusInProgress:
		return to == SessionStatusCompleted || to == SessionStatusFailed
	default:
		return false
	}
}

type ParticipantRole string

const (
	RolePatient  ParticipantRole = "patient"
	RoleProvider ParticipantRole = "provider"
	RoleObserver ParticipantRole = "observer"
)

func (r ParticipantRole) Valid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleObserver:
		return true
	default:
		return false
	}
}

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
)

// DeviceInfo describes the endpoint a participant connects from.
type DeviceInfo struct {
	Type        string `json:"type"`         // "mobile", "web", "tablet"
	OS          string `json:"os"`           // "ios", "android", "macos", ...
	NetworkType string `json:"network_type"` // "wifi", "cellular", "ethernet"
}

type Participant struct {
	UserID           uuid.UUID        `json:"user_id"`
	Role             ParticipantRole  `json:"role"`
	JoinedAt         time.Time        `json:"joined_at"`
	LeftAt           *time.Time       `json:"left_at,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	DeviceInfo       DeviceInfo       `json:"device_info"`
	LatestMetrics    *QualityMetrics  `json:"latest_metrics,omitempty"`
}

type AuditAction string

const (
	AuditCreate              AuditAction = "CREATE"
	AuditJoin                AuditAction = "JOIN"
	AuditLeave               AuditAction = "LEAVE"
	AuditEnd                 AuditAction = "END"
	AuditCancel              AuditAction = "CANCEL"
	AuditComplianceViolation AuditAction = "COMPLIANCE_VIOLATION"
	AuditQualitySevere       AuditAction = "QUALITY_SEVERE"
	AuditFailure             AuditAction = "FAILURE"
)

// AuditEntry is append-only; entries are never removed or reordered.
type AuditEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Action    AuditAction `json:"action"`
	ActorID   uuid.UUID   `json:"actor_id"`
	Detail    string      `json:"detail,omitempty"`
}

type SessionMetadata struct {
	ConsultationType string   `json:"consultation_type"`
	Priority         string   `json:"priority"`
	Notes            string   `json:"notes,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// ComplianceState tracks the mandatory pre-join safety checks.
// EncryptionChecked records that the external verifier was consulted,
// so the verification call happens at most once per session.
type ComplianceState struct {
	EncryptionVerified bool `json:"encryption_verified"`
	EncryptionChecked  bool `json:"encryption_checked"`
	ConsentObtained    bool `json:"consent_obtained"`
}

type Session struct {
	ID                 uuid.UUID        `json:"id"`
	PatientID          uuid.UUID        `json:"patient_id"`
	ProviderID         uuid.UUID        `json:"provider_id"`
	ScheduledStartTime time.Time        `json:"scheduled_start_time"`
	ActualStartTime    *time.Time       `json:"actual_start_time,omitempty"`
	EndTime            *time.Time       `json:"end_time,omitempty"`
	Status             SessionStatus    `json:"status"`
	Participants       []Participant    `json:"participants"`
	MediaRoomRef       string           `json:"media_room_ref"`
	Metadata           SessionMetadata  `json:"metadata"`
	Aggregate          AggregateMetrics `json:"aggregate_metrics"`
	Compliance         ComplianceState  `json:"compliance_state"`
	AuditLog           []AuditEntry     `json:"audit_log"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant returns the participant with the given user ID, or nil.
// The returned pointer aliases the session's slice; callers mutate it
// only under the session's registry lock.
func (s *Session) Participant(userID uuid.UUID) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// AppendAudit records an action at the tail of the audit log.
func (s *Session) AppendAudit(action AuditAction, actorID uuid.UUID, detail string) {
	s.AuditLog = append(s.AuditLog, AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		ActorID:   actorID,
		Detail:    detail,
	})
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (s *Session) Clone() *Session {
	cp := *s

	cp.Participants = make([]Participant, len(s.Participants))
	copy(cp.Participants, s.Participants)
	for i := range cp.Participants {
		if m := cp.Participants[i].LatestMetrics; m != nil {
			mc := *m
			cp.Participants[i].LatestMetrics = &mc
		}
	}

	cp.AuditLog = make([]AuditEntry, len(s.AuditLog))
	copy(cp.AuditLog, s.AuditLog)

	if s.Metadata.Tags != nil {
		cp.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	}

	cp.Aggregate = s.Aggregate.clone()

	if s.ActualStartTime != nil {
		t := *s.ActualStartTime
		cp.ActualStartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}

	return &cp
}
