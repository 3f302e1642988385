package manager

import (
	"path"

	"moviestream/internal/domain"
)

// pickVideoFile returns the first file whose extension is a known video
// container.
func pickVideoFile(files []domain.TorrentFile) (domain.SelectedFile, bool) {
	for _, f := range files {
		format := domain.FormatFromPath(f.Path)
		if !format.IsVideo() {
			continue
		}
		return domain.SelectedFile{
			Index:  f.Index,
			Name:   path.Base(f.Path),
			Path:   f.Path,
			Length: f.Length,
			Format: format,
		}, true
	}
	return domain.SelectedFile{}, false
}
