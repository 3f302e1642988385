package ports

import (
	"context"
	"io"

	"moviestream/internal/domain"
)

type Transcoder interface {
	// Stream writes a fragmented MP4 rendition of in to out until in is
	// exhausted or ctx is cancelled.
	Stream(ctx context.Context, in io.Reader, out io.Writer) error
	// TranscodeFile writes a faststart MP4 of inputPath to outputPath.
	TranscodeFile(ctx context.Context, inputPath, outputPath string) error
}

type MediaProbe interface {
	Probe(ctx context.Context, filePath string) (domain.MediaInfo, error)
}
