package domain

import "time"

// CacheEntry records a finalized artifact under available/{hash}. It is only
// trusted together with the file on disk.
type CacheEntry struct {
	Hash        ContentHash `json:"hash"`
	MovieID     MovieID     `json:"movieId"`
	Format      MediaFormat `json:"format"`
	Size        int64       `json:"size"`
	LastWatched time.Time   `json:"lastWatched"`
}
