package model

import "time"

// Track is the persisted, playable output of a generation
type Track struct {
	TrackID       int64         `json:"trackId"`
	SessionID     int64         `json:"sessionId"`
	OwnerID       string        `json:"ownerId"`
	Title         string        `json:"title"`
	Prompt        string        `json:"prompt"`
	AudioRef      string        `json:"audioRef"`
	InitiatorType InitiatorType `json:"initiatorType"`
	HasDialog     bool          `json:"hasDialog"`
	DurationMs    int           `json:"durationMs,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// TrackListResponse is returned by track queries
type TrackListResponse struct {
	Tracks []Track `json:"tracks"`
	Total  int     `json:"total"`
}

// PlaybackResponse is a resolved, playable locator for a track
type PlaybackResponse struct {
	TrackID   int64      `json:"trackId"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
