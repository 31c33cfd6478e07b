package dtos

import (
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/telecare/internal/models"
)

// Create session request
type CreateSessionRequest struct {
	PatientID          uuid.UUID `json:"patient_id" binding:"required"`
	ProviderID         uuid.UUID `json:"provider_id" binding:"required"`
	ScheduledStartTime time.Time `json:"scheduled_start_time" binding:"required"`
	ConsultationType   string    `json:"consultation_type" binding:"required"`
	Priority           string    `json:"priority" binding:"omitempty,oneof=routine urgent emergency"`
	Notes              string    `json:"notes"`
	Tags               []string  `json:"tags"`
}

// Access token request/response
type AccessTokenRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Role   string    `json:"role" binding:"required,oneof=patient provider observer"`
}

type AccessTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// Join session request
type JoinSessionRequest struct {
	DeviceType  string `json:"device_type" binding:"required"`
	DeviceOS    string `json:"device_os"`
	NetworkType string `json:"network_type"`
}

type ParticipantResponse struct {
	UserID           uuid.UUID  `json:"user_id"`
	Role             string     `json:"role"`
	JoinedAt         time.Time  `json:"joined_at"`
	LeftAt           *time.Time `json:"left_at,omitempty"`
	ConnectionStatus string     `json:"connection_status"`
}

type QualitySnapshotResponse struct {
	QualityScore     float64   `json:"quality_score"`
	NetworkStability float64   `json:"network_stability"`
	BitrateKbps      float64   `json:"bitrate_kbps"`
	PacketLossPct    float64   `json:"packet_loss_pct"`
	LatencyMs        float64   `json:"latency_ms"`
	JitterMs         float64   `json:"jitter_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// Session snapshot response
type SessionResponse struct {
	ID                 uuid.UUID                `json:"id"`
	PatientID          uuid.UUID                `json:"patient_id"`
	ProviderID         uuid.UUID                `json:"provider_id"`
	Status             string                   `json:"status"`
	ScheduledStartTime time.Time                `json:"scheduled_start_time"`
	ActualStartTime    *time.Time               `json:"actual_start_time,omitempty"`
	EndTime            *time.Time               `json:"end_time,omitempty"`
	Participants       []ParticipantResponse    `json:"participants"`
	AverageScore       float64                  `json:"average_quality_score"`
	LatestQuality      *QualitySnapshotResponse `json:"latest_quality,omitempty"`
}

// NewSessionResponse maps a session snapshot to its API shape.
func NewSessionResponse(s *models.Session) SessionResponse {
	resp := SessionResponse{
		ID:                 s.ID,
		PatientID:          s.PatientID,
		ProviderID:         s.ProviderID,
		Status:             string(s.Status),
		ScheduledStartTime: s.ScheduledStartTime,
		ActualStartTime:    s.ActualStartTime,
		EndTime:            s.EndTime,
		Participants:       make([]ParticipantResponse, 0, len(s.Participants)),
		AverageScore:       s.Aggregate.AverageScore,
	}

	for _, p := range s.Participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			UserID:           p.UserID,
			Role:             string(p.Role),
			JoinedAt:         p.JoinedAt,
			LeftAt:           p.LeftAt,
			ConnectionStatus: string(p.ConnectionStatus),
		})
	}

	if m := s.Aggregate.Latest; m != nil {
		resp.LatestQuality = &QualitySnapshotResponse{
			QualityScore:     m.QualityScore,
			NetworkStability: m.NetworkStability,
			BitrateKbps:      m.BitrateKbps,
			PacketLossPct:    m.PacketLossPct,
			LatencyMs:        m.LatencyMs,
			JitterMs:         m.JitterMs,
			Timestamp:        m.Timestamp,
		}
	}

	return resp
}
