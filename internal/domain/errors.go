package domain

import "errors"

var ErrNotFound = errors.New("not found")

// Stream pipeline error taxonomy. Client-facing errors (invalid source,
// fetch failure, unknown hash) map to 4xx; the rest mark the session failed.
var (
	ErrInvalidSource   = errors.New("invalid torrent source")
	ErrFetchFailed     = errors.New("torrent file fetch failed")
	ErrNoVideoFile     = errors.New("no video file found")
	ErrEngine          = errors.New("engine error")
	ErrTranscodeFailed = errors.New("transcode failed")
	ErrUnknownHash     = errors.New("unknown hash")
	ErrEvictionPartial = errors.New("eviction partially failed")
)
