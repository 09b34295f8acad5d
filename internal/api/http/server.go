package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"liverec/internal/domain"
	"liverec/internal/usecase"
)

type RecordRoomUseCase interface {
	Execute(ctx context.Context, input usecase.RecordRoomInput) (usecase.RecordRoomOutput, error)
}

type StopRecordingUseCase interface {
	Execute(ctx context.Context, room domain.RoomID) error
}

type ListRecordingsUseCase interface {
	Execute(ctx context.Context) []usecase.RecordingStatus
}

type WatchEventsUseCase interface {
	Execute(room domain.RoomID) (<-chan domain.Event, func(), error)
}

type GetChunkUseCase interface {
	Execute(ctx context.Context, input usecase.GetChunkInput) ([]byte, error)
}

type GetChunksMetaUseCase interface {
	Execute(ctx context.Context, session domain.Session) ([]domain.ChunkMeta, error)
}

type Server struct {
	record   RecordRoomUseCase
	stop     StopRecordingUseCase
	list     ListRecordingsUseCase
	watch    WatchEventsUseCase
	getChunk GetChunkUseCase
	getMeta  GetChunksMetaUseCase

	allowedOrigins []string
	recordLimiter  *rate.Limiter
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub

	pumpMu sync.Mutex
	pumps  map[domain.RoomID]struct{}
}

type ServerOption func(*Server)

func WithStopRecording(uc StopRecordingUseCase) ServerOption {
	return func(s *Server) { s.stop = uc }
}

func WithListRecordings(uc ListRecordingsUseCase) ServerOption {
	return func(s *Server) { s.list = uc }
}

func WithWatchEvents(uc WatchEventsUseCase) ServerOption {
	return func(s *Server) { s.watch = uc }
}

func WithGetChunk(uc GetChunkUseCase) ServerOption {
	return func(s *Server) { s.getChunk = uc }
}

func WithGetChunksMeta(uc GetChunksMetaUseCase) ServerOption {
	return func(s *Server) { s.getMeta = uc }
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithRecordRateLimit caps how many record requests per minute are accepted.
// Zero disables the cap.
func WithRecordRateLimit(perMinute int) ServerOption {
	return func(s *Server) {
		if perMinute > 0 {
			s.recordLimiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
		}
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(record RecordRoomUseCase, opts ...ServerOption) *Server {
	s := &Server{
		record: record,
		pumps:  make(map[domain.RoomID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", s.handleRooms)
	mux.HandleFunc("/rooms/", s.handleRoomSubtree)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "liverec",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close shuts down the WebSocket hub, disconnecting all clients. Event
// pump goroutines exit when their recorder subscriptions close.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
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
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// startEventPump fans the room's recorder events into the WebSocket hub.
// At most one pump runs per room; it exits when the recorder is destroyed.
func (s *Server) startEventPump(room domain.RoomID) {
	if s.watch == nil {
		return
	}
	s.pumpMu.Lock()
	if _, running := s.pumps[room]; running {
		s.pumpMu.Unlock()
		return
	}
	events, cancel, err := s.watch.Execute(room)
	if err != nil {
		s.pumpMu.Unlock()
		s.logger.Debug("event pump not started",
			slog.Int64("roomId", int64(room)),
			slog.String("error", err.Error()))
		return
	}
	s.pumps[room] = struct{}{}
	s.pumpMu.Unlock()

	go func() {
		defer cancel()
		for e := range events {
			s.wsHub.BroadcastEvent(e)
		}
		s.pumpMu.Lock()
		delete(s.pumps, room)
		s.pumpMu.Unlock()
	}()
}

// recordTimeout bounds how long a record request waits for the live id
// before answering with an unresolved status.
const recordTimeout = 10 * time.Second
