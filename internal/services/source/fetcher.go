package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"moviestream/internal/domain"
)

const (
	defaultFetchTimeout  = 15 * time.Second
	defaultFetchMaxBytes = 10 << 20
)

// Fetcher downloads .torrent files over HTTP(S).
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

func WithMaxBytes(max int64) FetcherOption {
	return func(f *Fetcher) {
		if max > 0 {
			f.maxBytes = max
		}
	}
}

func NewFetcher(timeout time.Duration, opts ...FetcherOption) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	f := &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes: defaultFetchMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: torrent url must be http(s)", domain.ErrInvalidSource)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/x-bittorrent, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrFetchFailed, resp.StatusCode)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	if n > f.maxBytes {
		return nil, fmt.Errorf("%w: torrent file exceeds %d bytes", domain.ErrFetchFailed, f.maxBytes)
	}
	return buf.Bytes(), nil
}
