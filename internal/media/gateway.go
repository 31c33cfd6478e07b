// Package media abstracts the external video-room provider: room lifecycle,
// raw connection statistics, and quality-recovery requests.
package media

import "context"

// RoomRef is the opaque handle the provider returns for a created room.
type RoomRef string

// RoomConfig carries the security and capacity settings applied at room creation.
type RoomConfig struct {
	MaxParticipants int    `json:"max_participants"`
	RecordingPolicy string `json:"recording_policy"` // "disabled", "cloud", "local"
	Region          string `json:"region"`
}

// RawStats are the unprocessed connection statistics fetched from the provider.
type RawStats struct {
	BitrateKbps   float64 `json:"bitrate_kbps"`
	PacketLossPct float64 `json:"packet_loss_pct"`
	LatencyMs     float64 `json:"latency_ms"`
	JitterMs      float64 `json:"jitter_ms"`
	Resolution    string  `json:"resolution"`
	FrameRate     float64 `json:"frame_rate"`
	AudioLevel    float64 `json:"audio_level"`
}

// ProviderGateway is the engine's view of the media-room provider.
// All methods may block; callers bound them with a context deadline.
type ProviderGateway interface {
	CreateRoom(ctx context.Context, cfg RoomConfig) (RoomRef, error)
	DestroyRoom(ctx context.Context, ref RoomRef) error
	FetchStats(ctx context.Context, ref RoomRef) (RawStats, error)
	// RequestRecovery asks the provider for one corrective action on the
	// room's media path, e.g. renegotiate or downscale.
	RequestRecovery(ctx context.Context, ref RoomRef) error
}
