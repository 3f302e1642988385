package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	apihttp "moviestream/internal/api/http"
	"moviestream/internal/app"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
	mongorepo "moviestream/internal/repository/mongo"
	"moviestream/internal/services/session/registry"
	"moviestream/internal/services/source"
	"moviestream/internal/services/torrent/engine/anacrolix"
	"moviestream/internal/services/torrent/manager"
	"moviestream/internal/services/transcode/ffmpeg"
	"moviestream/internal/services/transcode/ffprobe"
	"moviestream/internal/storage/layout"
	"moviestream/internal/telemetry"
	"moviestream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	envFileErr := godotenv.Load()
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if envFileErr != nil && !errors.Is(envFileErr, fs.ErrNotExist) {
		logger.Warn(".env load failed", slog.String("error", envFileErr.Error()))
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Options{
		ServiceName: "moviestream",
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "moviestream"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("storageRoot", cfg.StorageRoot),
		slog.Bool("redisResolverCache", cfg.RedisURL != ""),
		slog.Duration("cacheRetention", cfg.CacheRetention),
		slog.Duration("sessionIdleTimeout", cfg.SessionIdleTimeout),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := mongorepo.NewCacheRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCacheCollection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	resolverCache, redisClient := newResolverCache(ctx, cfg, logger)

	root, err := layout.New(cfg.StorageRoot)
	if err != nil {
		logger.Error("storage root invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := root.EnsureDirs(); err != nil {
		logger.Error("storage dirs init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:    root.Tmp(),
		ListenPort: cfg.TorrentListenPort,
		NoDHT:      cfg.TorrentNoDHT,
		MaxConns:   cfg.TorrentMaxConns,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	prober := ffprobe.New(cfg.FFProbePath)
	transcoder := ffmpeg.New(ffmpeg.Options{
		FFmpegPath:   cfg.FFMPEGPath,
		Preset:       cfg.TranscodePreset,
		CRF:          cfg.TranscodeCRF,
		AudioBitrate: cfg.TranscodeAudioBitrate,
		Probe:        prober,
		Logger:       logger,
	})

	reg := registry.New()
	finalizer := manager.NewFinalizer(root, repo, transcoder, logger)
	sessions := manager.New(engine, reg, finalizer, root, manager.Config{
		ReadyTimeout: cfg.EngineReadyTimeout,
		IdleTimeout:  cfg.SessionIdleTimeout,
	}, logger)

	fetcher := source.NewFetcher(cfg.TorrentFetchTimeout, source.WithMaxBytes(cfg.TorrentFetchMaxBytes))
	resolver := source.NewResolver(fetcher, resolverCache, cfg.ResolverCacheTTL, logger)

	evictUC := usecase.EvictStale{
		Repo:          repo,
		Artifacts:     root,
		Retention:     cfg.CacheRetention,
		DeleteRecords: cfg.CacheEvictDeleteRecords,
		Now:           time.Now,
		Logger:        logger,
	}
	resolveUC := usecase.ResolveSource{Resolver: resolver, Sessions: reg, Logger: logger}
	streamUC := usecase.ServeStream{
		Repo:       repo,
		Artifacts:  root,
		Sessions:   sessions,
		Transcoder: transcoder,
		Sweeper:    evictUC,
		Now:        time.Now,
		Logger:     logger,
	}
	stateUC := usecase.GetSessionState{Sessions: reg, Repo: repo, Artifacts: root}

	handler := apihttp.NewServer(resolveUC,
		apihttp.WithServeStream(streamUC),
		apihttp.WithSessionState(stateUC),
		apihttp.WithSessionList(reg),
		apihttp.WithChunkSize(cfg.StreamChunkBytes),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithLogger(logger),
	)
	reg.Observe(handler.PublishSession)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	sessions.Close()
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", slog.String("error", err.Error()))
		}
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// newResolverCache prefers Redis when configured and reachable, falling back
// to the in-process LRU otherwise.
func newResolverCache(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.ResolverCache, *redis.Client) {
	memory := source.NewMemoryCache(cfg.ResolverCacheSize, cfg.ResolverCacheTTL)
	if cfg.RedisURL == "" {
		return memory, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url invalid, using memory resolver cache", slog.String("error", err.Error()))
		return memory, nil
	}
	client := redis.NewClient(opts)
	cache := source.NewRedisCache(client)
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using memory resolver cache", slog.String("error", err.Error()))
		_ = client.Close()
		return memory, nil
	}
	logger.Info("redis resolver cache enabled", slog.String("addr", opts.Addr))
	return cache, client
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
