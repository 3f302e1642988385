package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
)

// Process wraps an exec.Cmd for FFmpeg with progress tracking.
type Process struct {
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	progressUs atomic.Int64
	done       chan struct{}
	err        error
	stderrBuf  bytes.Buffer
	trackProg  bool
}

// NewProcess creates an FFmpeg process but does not start it. When stdout is
// nil, FFmpeg's stdout is parsed as -progress output.
func NewProcess(ctx context.Context, binary string, args []string, stdin io.Reader, stdout io.Writer) *Process {
	ctx2, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx2, binary, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	p := &Process{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		p.trackProg = true
	}
	return p
}

func (p *Process) Start() error {
	var progressR, progressW *os.File
	if p.trackProg {
		var pipeErr error
		progressR, progressW, pipeErr = os.Pipe()
		if pipeErr != nil {
			p.cmd.Stdout = io.Discard
			progressR, progressW = nil, nil
		} else {
			p.cmd.Stdout = progressW
		}
	}
	p.cmd.Stderr = &p.stderrBuf

	if err := p.cmd.Start(); err != nil {
		if progressR != nil {
			progressR.Close()
		}
		if progressW != nil {
			progressW.Close()
		}
		p.cancel()
		return err
	}

	if progressW != nil {
		progressW.Close()
	}
	if progressR != nil {
		go func() {
			defer progressR.Close()
			p.parseProgress(progressR)
		}()
	}

	go func() {
		p.err = p.cmd.Wait()
		p.cancel()
		close(p.done)
	}()
	return nil
}

func (p *Process) Wait() error {
	<-p.done
	return p.err
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Progress returns the encoded media time in seconds.
func (p *Process) Progress() float64 {
	us := p.progressUs.Load()
	if us <= 0 {
		return 0
	}
	return float64(us) / 1e6
}

func (p *Process) Stderr() string {
	return strings.TrimSpace(p.stderrBuf.String())
}

// parseProgress reads key=value lines from -progress output and keeps the
// latest out_time_us.
func (p *Process) parseProgress(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "out_time_us=") {
			if us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64); err == nil {
				p.progressUs.Store(us)
			}
		}
	}
}
