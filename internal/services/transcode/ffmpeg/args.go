package ffmpeg

import (
	"strconv"
)

const (
	pipeIn  = "pipe:0"
	pipeOut = "pipe:1"

	// Fragmented MP4 starts playing before the whole stream exists.
	fragmentedMovFlags = "frag_keyframe+empty_moov+default_base_moof"
	faststartMovFlags  = "+faststart"
)

// ArgConfig describes one FFmpeg invocation.
type ArgConfig struct {
	Input        string
	Output       string
	Fragmented   bool
	CopyVideo    bool
	CopyAudio    bool
	Preset       string
	CRF          int
	AudioBitrate string
	Progress     bool
}

// buildArgs constructs the FFmpeg argument list. Output is always MP4 with
// H.264 video and AAC stereo audio unless a stream can be copied.
func buildArgs(cfg ArgConfig) []string {
	analyzeDuration := "20000000"
	probeSize := "10000000"
	if cfg.Input == pipeIn {
		analyzeDuration = "5000000"
		probeSize = "5000000"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}
	if cfg.Progress {
		args = append(args, "-progress", pipeOut)
	}
	args = append(args,
		"-fflags", "+genpts+discardcorrupt",
		"-analyzeduration", analyzeDuration,
		"-probesize", probeSize,
		"-i", cfg.Input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-sn",
	)

	if cfg.CopyVideo {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-preset", cfg.Preset,
			"-crf", strconv.Itoa(cfg.CRF),
		)
	}
	if cfg.CopyAudio {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", cfg.AudioBitrate, "-ac", "2")
	}

	if cfg.Fragmented {
		args = append(args, "-movflags", fragmentedMovFlags)
	} else {
		args = append(args, "-movflags", faststartMovFlags)
	}
	args = append(args, "-f", "mp4", "-y", cfg.Output)
	return args
}
