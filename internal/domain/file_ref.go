package domain

// TorrentFile is one entry of a torrent's file list.
type TorrentFile struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// SelectedFile is the single video file picked for download.
type SelectedFile struct {
	Index  int         `json:"index"`
	Name   string      `json:"name"`
	Path   string      `json:"path"`
	Length int64       `json:"length"`
	Format MediaFormat `json:"format"`
}
