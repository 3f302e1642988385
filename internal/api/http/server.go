package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"moviestream/internal/domain"
	"moviestream/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultChunkSize      int64 = 5 << 20
	defaultRateLimitRPS         = 100
	defaultRateLimitBurst       = 200
)

type ResolveSourceUseCase interface {
	Execute(ctx context.Context, input usecase.ResolveSourceInput) (domain.ResolvedSource, error)
}

type ServeStreamUseCase interface {
	Execute(ctx context.Context, hash domain.ContentHash) (*usecase.StreamResult, error)
	OpenCached(ctx context.Context, hash domain.ContentHash) (*usecase.StreamResult, bool, error)
}

type SessionStateUseCase interface {
	Execute(ctx context.Context, hash domain.ContentHash) (usecase.SessionState, error)
}

type SessionLister interface {
	List() []domain.SessionInfo
}

type Server struct {
	resolveSource  ResolveSourceUseCase
	serveStream    ServeStreamUseCase
	sessionState   SessionStateUseCase
	sessions       SessionLister
	chunkSize      int64
	rateLimitRPS   float64
	rateLimitBurst int
	allowedOrigins []string
	metricsHandler http.Handler
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithServeStream(uc ServeStreamUseCase) ServerOption {
	return func(s *Server) {
		s.serveStream = uc
	}
}

func WithSessionState(uc SessionStateUseCase) ServerOption {
	return func(s *Server) {
		s.sessionState = uc
	}
}

// WithSessionList lets new websocket clients receive a snapshot of all
// sessions on connect.
func WithSessionList(sessions SessionLister) ServerOption {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithChunkSize bounds the window answered for open-ended byte ranges.
func WithChunkSize(size int64) ServerOption {
	return func(s *Server) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimitRPS = rps
			s.rateLimitBurst = burst
		}
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(resolve ResolveSourceUseCase, opts ...ServerOption) *Server {
	s := &Server{
		resolveSource:  resolve,
		chunkSize:      defaultChunkSize,
		rateLimitRPS:   defaultRateLimitRPS,
		rateLimitBurst: defaultRateLimitBurst,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/stream/status", s.handleStreamStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler)
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "moviestream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && !strings.HasPrefix(p, "/ws")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if s.sessions != nil {
		if payload, err := encodeWSMessage("sessions", s.sessions.List()); err == nil {
			client.send <- payload
		}
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// PublishSession pushes a session status change to websocket clients. It
// matches the registry observer signature.
func (s *Server) PublishSession(info domain.SessionInfo) {
	if s.wsHub != nil {
		s.wsHub.Broadcast("session", info)
	}
}

// Close stops the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
