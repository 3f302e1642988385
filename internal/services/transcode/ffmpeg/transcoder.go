package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
)

const (
	defaultPreset       = "veryfast"
	defaultCRF          = 23
	defaultAudioBitrate = "128k"
	defaultProgressLog  = 15 * time.Second

	targetStream = "stream"
	targetFile   = "file"
)

type Options struct {
	FFmpegPath   string
	Preset       string
	CRF          int
	AudioBitrate string
	// Probe lets TranscodeFile copy H.264 video and AAC audio instead of
	// re-encoding. Nil means always re-encode.
	Probe ports.MediaProbe
	// ProgressInterval is how often a running file transcode logs the
	// encoded media time.
	ProgressInterval time.Duration
	Logger           *slog.Logger
}

type Transcoder struct {
	binary       string
	preset       string
	crf          int
	audioBitrate string
	probe        ports.MediaProbe
	progressLog  time.Duration
	logger       *slog.Logger
}

var _ ports.Transcoder = (*Transcoder)(nil)

func New(opts Options) *Transcoder {
	t := &Transcoder{
		binary:       strings.TrimSpace(opts.FFmpegPath),
		preset:       strings.TrimSpace(opts.Preset),
		crf:          opts.CRF,
		audioBitrate: strings.TrimSpace(opts.AudioBitrate),
		probe:        opts.Probe,
		progressLog:  opts.ProgressInterval,
		logger:       opts.Logger,
	}
	if t.binary == "" {
		t.binary = "ffmpeg"
	}
	if t.preset == "" {
		t.preset = defaultPreset
	}
	if t.crf <= 0 {
		t.crf = defaultCRF
	}
	if t.audioBitrate == "" {
		t.audioBitrate = defaultAudioBitrate
	}
	if t.progressLog <= 0 {
		t.progressLog = defaultProgressLog
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Stream pipes in through FFmpeg and writes fragmented MP4 to out. It
// returns when in is exhausted and FFmpeg has flushed, or when ctx ends.
func (t *Transcoder) Stream(ctx context.Context, in io.Reader, out io.Writer) error {
	args := buildArgs(ArgConfig{
		Input:        pipeIn,
		Output:       pipeOut,
		Fragmented:   true,
		Preset:       t.preset,
		CRF:          t.crf,
		AudioBitrate: t.audioBitrate,
	})
	return t.run(ctx, targetStream, pipeIn, args, in, out)
}

// TranscodeFile writes a faststart MP4 of inputPath to outputPath. On
// failure outputPath is removed.
func (t *Transcoder) TranscodeFile(ctx context.Context, inputPath, outputPath string) error {
	cfg := ArgConfig{
		Input:        inputPath,
		Output:       outputPath,
		Preset:       t.preset,
		CRF:          t.crf,
		AudioBitrate: t.audioBitrate,
		Progress:     true,
	}
	if t.probe != nil {
		info, err := t.probe.Probe(ctx, inputPath)
		if err != nil {
			t.logger.Warn("probe failed, re-encoding",
				slog.String("input", inputPath),
				slog.String("error", err.Error()),
			)
		} else {
			cfg.CopyVideo = info.CodecOf("video") == "h264"
			cfg.CopyAudio = info.CodecOf("audio") == "aac"
		}
	}

	t.logger.Info("transcode starting",
		slog.String("input", inputPath),
		slog.Bool("copyVideo", cfg.CopyVideo),
		slog.Bool("copyAudio", cfg.CopyAudio),
	)
	if err := t.run(ctx, targetFile, inputPath, buildArgs(cfg), nil, nil); err != nil {
		_ = os.Remove(outputPath)
		return err
	}
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(outputPath)
		metrics.TranscodeFailuresTotal.WithLabelValues(targetFile).Inc()
		return fmt.Errorf("%w: ffmpeg produced no output", domain.ErrTranscodeFailed)
	}
	return nil
}

func (t *Transcoder) run(ctx context.Context, target, input string, args []string, stdin io.Reader, stdout io.Writer) error {
	proc := NewProcess(ctx, t.binary, args, stdin, stdout)
	start := time.Now()
	if err := proc.Start(); err != nil {
		metrics.TranscodeFailuresTotal.WithLabelValues(target).Inc()
		return fmt.Errorf("%w: start ffmpeg: %v", domain.ErrTranscodeFailed, err)
	}
	metrics.TranscodeActiveJobs.Inc()
	var err error
	if stdout == nil {
		err = t.waitWithProgress(proc, input)
	} else {
		err = proc.Wait()
	}
	metrics.TranscodeActiveJobs.Dec()
	metrics.TranscodeDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	metrics.TranscodeFailuresTotal.WithLabelValues(target).Inc()
	stderr := proc.Stderr()
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) && stderr != "" {
		return fmt.Errorf("%w: ffmpeg exit %d: %s", domain.ErrTranscodeFailed, exitErr.ExitCode(), stderr)
	}
	return fmt.Errorf("%w: %v", domain.ErrTranscodeFailed, err)
}

// waitWithProgress waits for proc, logging the encoded media time every
// progress interval.
func (t *Transcoder) waitWithProgress(proc *Process, input string) error {
	ticker := time.NewTicker(t.progressLog)
	defer ticker.Stop()
	for {
		select {
		case <-proc.Done():
			return proc.Wait()
		case <-ticker.C:
			t.logger.Info("transcode progress",
				slog.String("input", input),
				slog.Float64("encodedSeconds", proc.Progress()),
			)
		}
	}
}
