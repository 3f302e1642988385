package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"moviestream/internal/domain"
)

const maxProbeTimeout = 30 * time.Second

// Prober runs ffprobe against a finished download to decide whether its
// streams can be copied into MP4 as-is.
type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

func (p *Prober) Probe(ctx context.Context, filePath string) (domain.MediaInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return domain.MediaInfo{}, errors.New("file path is required")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	info, parseErr := parseProbeOutput(stdout.Bytes())
	if runErr != nil && (parseErr != nil || len(info.Tracks) == 0) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w", runErr)
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
	}
	if parseErr != nil {
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}
	return info, nil
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	tracks := make([]domain.MediaTrack, 0, len(payload.Streams))
	counters := map[string]int{}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video", "audio", "subtitle":
		default:
			continue
		}
		tracks = append(tracks, domain.MediaTrack{
			Index:    counters[stream.CodecType],
			Type:     stream.CodecType,
			Codec:    stream.CodecName,
			Language: strings.TrimSpace(getTag(stream.Tags, "language")),
			Default:  stream.Disposition.Default == 1,
		})
		counters[stream.CodecType]++
	}

	var duration float64
	if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
		duration = d
	}
	return domain.MediaInfo{Tracks: tracks, Duration: duration}, nil
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if value, ok := tags[key]; ok {
		return value
	}
	if value, ok := tags[strings.ToUpper(key)]; ok {
		return value
	}
	if value, ok := tags[strings.ToLower(key)]; ok {
		return value
	}
	return ""
}
