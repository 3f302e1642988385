package domain

import "time"

// SessionInfo is a point-in-time view of a registry session.
type SessionInfo struct {
	Hash      ContentHash   `json:"hash"`
	MagnetURI string        `json:"-"`
	MovieID   MovieID       `json:"movieId"`
	Status    SessionStatus `json:"status"`
	File      *SelectedFile `json:"file,omitempty"`
	Error     string        `json:"error,omitempty"`
	Waiters   int           `json:"waiters"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
