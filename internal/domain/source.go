package domain

// MovieID references a movie in the external metadata catalogue.
type MovieID int64

// TorrentSource is what a client submits: either a .torrent URL or a magnet
// link, never both.
type TorrentSource struct {
	URL    string `json:"url,omitempty"`
	Magnet string `json:"magnetLink,omitempty"`
}

// ResolvedSource is the canonical form of a TorrentSource.
type ResolvedSource struct {
	Hash      ContentHash `json:"hash"`
	MagnetURI string      `json:"magnetUri"`
	Name      string      `json:"name,omitempty"`
}
