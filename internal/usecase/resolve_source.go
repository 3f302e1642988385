package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"moviestream/internal/domain"
)

type SourceResolver interface {
	ResolveMagnet(raw string) (domain.ResolvedSource, error)
	ResolveURL(ctx context.Context, rawURL string) (domain.ResolvedSource, error)
}

type SessionRegistrar interface {
	Register(hash domain.ContentHash, magnetURI string, movieID domain.MovieID) domain.SessionInfo
}

// ResolveSource turns a submitted torrent source into its content hash and
// records the magnet and movie association for later stream requests.
type ResolveSource struct {
	Resolver SourceResolver
	Sessions SessionRegistrar
	Logger   *slog.Logger
}

type ResolveSourceInput struct {
	Source  domain.TorrentSource
	MovieID domain.MovieID
}

func (uc ResolveSource) Execute(ctx context.Context, input ResolveSourceInput) (domain.ResolvedSource, error) {
	if err := validateSource(input.Source); err != nil {
		return domain.ResolvedSource{}, err
	}
	if input.MovieID <= 0 {
		return domain.ResolvedSource{}, fmt.Errorf("%w: movieId must be positive", ErrInvalidRequest)
	}

	var (
		resolved domain.ResolvedSource
		err      error
	)
	if magnet := strings.TrimSpace(input.Source.Magnet); magnet != "" {
		resolved, err = uc.Resolver.ResolveMagnet(magnet)
	} else {
		resolved, err = uc.Resolver.ResolveURL(ctx, strings.TrimSpace(input.Source.URL))
	}
	if err != nil {
		return domain.ResolvedSource{}, err
	}

	uc.Sessions.Register(resolved.Hash, resolved.MagnetURI, input.MovieID)
	if uc.Logger != nil {
		uc.Logger.Info("source resolved",
			slog.String("contentHash", string(resolved.Hash)),
			slog.Int64("movieId", int64(input.MovieID)),
			slog.String("name", resolved.Name),
		)
	}
	return resolved, nil
}

func validateSource(src domain.TorrentSource) error {
	hasMagnet := strings.TrimSpace(src.Magnet) != ""
	hasURL := strings.TrimSpace(src.URL) != ""
	switch {
	case hasMagnet && hasURL:
		return fmt.Errorf("%w: provide either url or magnetLink, not both", domain.ErrInvalidSource)
	case !hasMagnet && !hasURL:
		return fmt.Errorf("%w: url or magnetLink is required", domain.ErrInvalidSource)
	}
	return nil
}
