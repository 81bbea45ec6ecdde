package domain

// Role definition participant role in a study room
type Role string

const (
	//RoleHost room creator, owns moderation & the snapshot duty
	RoleHost Role = "host"
	//RoleParticipant plain room member
	RoleParticipant Role = "participant"
)

// MediaState definition audio/video flags of one participant
type MediaState struct {
	AudioMuted   bool `json:"audio_muted"`
	VideoEnabled bool `json:"video_enabled"`
}

// Participant definition one member of a study session
// ID is opaque and stable for the session lifetime
type Participant struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Role              Role       `json:"role"`
	IsHost            bool       `json:"is_host"`
	Media             MediaState `json:"media"`
	ConnectionQuality int        `json:"connection_quality,omitempty"` // 0-100, optional
}
