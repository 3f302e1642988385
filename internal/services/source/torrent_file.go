package source

import (
	"fmt"
	"io"

	"github.com/anacrolix/torrent/metainfo"

	"moviestream/internal/domain"
)

// DecodeTorrent parses .torrent bytes and re-encodes them as a magnet URI
// carrying every announce URL of the file.
func DecodeTorrent(r io.Reader) (domain.ResolvedSource, error) {
	mi, err := metainfo.Load(r)
	if err != nil {
		return domain.ResolvedSource{}, fmt.Errorf("%w: invalid torrent file: %v", domain.ErrInvalidSource, err)
	}
	if len(mi.InfoBytes) == 0 {
		return domain.ResolvedSource{}, fmt.Errorf("%w: torrent file has no info dictionary", domain.ErrInvalidSource)
	}
	hash, err := domain.ParseContentHash(mi.HashInfoBytes().HexString())
	if err != nil {
		return domain.ResolvedSource{}, err
	}

	var name string
	if info, err := mi.UnmarshalInfo(); err == nil {
		name = info.BestName()
	}

	var trackers []string
	for _, tier := range mi.UpvertedAnnounceList() {
		trackers = append(trackers, tier...)
	}

	return domain.ResolvedSource{
		Hash:      hash,
		MagnetURI: BuildMagnet(hash, name, trackers),
		Name:      name,
	}, nil
}
