package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ContentHash is the lowercase hex info hash of a torrent. It keys the
// session registry, the on-disk cache and the cache entry store.
type ContentHash string

const contentHashLen = 40

// ParseContentHash normalizes raw to a lowercase 40-char hex hash.
func ParseContentHash(raw string) (ContentHash, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if len(value) != contentHashLen {
		return "", fmt.Errorf("%w: hash must be %d hex characters", ErrInvalidSource, contentHashLen)
	}
	if _, err := hex.DecodeString(value); err != nil {
		return "", fmt.Errorf("%w: hash is not hex", ErrInvalidSource)
	}
	return ContentHash(value), nil
}

func (h ContentHash) String() string {
	return string(h)
}
