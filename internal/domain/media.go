package domain

import (
	"path"
	"strings"
)

// MediaFormat is a lowercase container extension without the dot.
type MediaFormat string

const (
	FormatMP4  MediaFormat = "mp4"
	FormatM4V  MediaFormat = "m4v"
	FormatWebM MediaFormat = "webm"
	FormatMKV  MediaFormat = "mkv"
	FormatAVI  MediaFormat = "avi"
	FormatMOV  MediaFormat = "mov"
	FormatWMV  MediaFormat = "wmv"
	FormatFLV  MediaFormat = "flv"
	FormatMPG  MediaFormat = "mpg"
	FormatMPEG MediaFormat = "mpeg"
	FormatTS   MediaFormat = "ts"
	FormatOGV  MediaFormat = "ogv"
)

var videoFormats = map[MediaFormat]bool{
	FormatMP4: true, FormatM4V: true, FormatWebM: true, FormatMKV: true,
	FormatAVI: true, FormatMOV: true, FormatWMV: true, FormatFLV: true,
	FormatMPG: true, FormatMPEG: true, FormatTS: true, FormatOGV: true,
}

// FormatFromPath returns the container format implied by the file extension.
func FormatFromPath(p string) MediaFormat {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(p, "\\", "/")))
	return MediaFormat(strings.TrimPrefix(ext, "."))
}

// IsVideo reports whether the format is a known video container.
func (f MediaFormat) IsVideo() bool {
	return videoFormats[f]
}

// WebPlayable reports whether browsers can play the container directly with
// byte-range requests, without a transcode.
func (f MediaFormat) WebPlayable() bool {
	switch f {
	case FormatMP4, FormatM4V, FormatWebM:
		return true
	default:
		return false
	}
}

// ContentType returns the MIME type served for the format. Anything that is
// not played as-is leaves the pipeline as MP4.
func (f MediaFormat) ContentType() string {
	if f == FormatWebM {
		return "video/webm"
	}
	return "video/mp4"
}

type MediaTrack struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Codec    string `json:"codec"`
	Language string `json:"language"`
	Default  bool   `json:"default"`
}

type MediaInfo struct {
	Tracks   []MediaTrack `json:"tracks"`
	Duration float64      `json:"duration"`
}

// CodecOf returns the codec of the first track of the given type.
func (m MediaInfo) CodecOf(trackType string) string {
	for _, t := range m.Tracks {
		if t.Type == trackType {
			return t.Codec
		}
	}
	return ""
}
