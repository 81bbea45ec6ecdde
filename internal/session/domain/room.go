package domain

import "time"

// DefaultRoomTTL rooms expire 24 hours after creation
const DefaultRoomTTL = 24 * time.Hour

// StudyRoom definition one study room registry record
type StudyRoom struct {
	RoomID       string   `json:"room_id"`
	ChannelName  string   `json:"channel_name"`
	DocName      string   `json:"doc_name"`
	DocURL       string   `json:"doc_url,omitempty"`
	HostID       string   `json:"host_id"`
	HostName     string   `json:"host_name"`
	IsPrivate    bool     `json:"is_private"`
	PasswordHash string   `json:"password_hash,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	ExpiresAt    int64    `json:"expires_at"`
	Participants []string `json:"participants"`
}

// Expired check the room record is past its expiry
func (r *StudyRoom) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}
