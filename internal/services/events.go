package services

// Event types published on the notification bus.
const (
	EventParticipantJoined = "PARTICIPANT_JOINED"
	EventParticipantLeft   = "PARTICIPANT_LEFT"
	EventSessionEnded      = "SESSION_ENDED"
	EventSessionCancelled  = "SESSION_CANCELLED"
	EventSessionFailed     = "SESSION_FAILED"
	EventQualityUpdate     = "QUALITY_UPDATE"
	EventQualityDegraded   = "QUALITY_DEGRADED"
	EventQualitySevere     = "QUALITY_SEVERE"
	EventQualityRecovered  = "QUALITY_RECOVERED"
	EventReconnecting      = "RECONNECTING"
)
