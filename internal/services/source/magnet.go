package source

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"moviestream/internal/domain"
)

const magnetScheme = "magnet:"

// ParseMagnet validates a magnet URI and extracts its info hash.
func ParseMagnet(raw string) (domain.ResolvedSource, error) {
	value := strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToLower(value), magnetScheme) {
		return domain.ResolvedSource{}, fmt.Errorf("%w: not a magnet link", domain.ErrInvalidSource)
	}
	magnet, err := metainfo.ParseMagnetUri(value)
	if err != nil {
		return domain.ResolvedSource{}, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}
	if magnet.InfoHash == (metainfo.Hash{}) {
		return domain.ResolvedSource{}, fmt.Errorf("%w: magnet has no info hash", domain.ErrInvalidSource)
	}
	hash, err := domain.ParseContentHash(magnet.InfoHash.HexString())
	if err != nil {
		return domain.ResolvedSource{}, err
	}
	return domain.ResolvedSource{
		Hash:      hash,
		MagnetURI: value,
		Name:      magnet.DisplayName,
	}, nil
}

// BuildMagnet encodes an info hash, display name and trackers as a magnet URI.
func BuildMagnet(hash domain.ContentHash, name string, trackers []string) string {
	var builder strings.Builder
	builder.WriteString("magnet:?xt=urn:btih:")
	builder.WriteString(string(hash))
	if strings.TrimSpace(name) != "" {
		builder.WriteString("&dn=")
		builder.WriteString(url.QueryEscape(strings.TrimSpace(name)))
	}
	seen := make(map[string]struct{}, len(trackers))
	for _, tracker := range trackers {
		value := strings.TrimSpace(tracker)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		builder.WriteString("&tr=")
		builder.WriteString(url.QueryEscape(value))
	}
	return builder.String()
}
