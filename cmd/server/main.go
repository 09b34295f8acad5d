package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "liverec/internal/api/http"
	"liverec/internal/app"
	"liverec/internal/domain"
	"liverec/internal/metrics"
	"liverec/internal/probe"
	"liverec/internal/recorder"
	"liverec/internal/showroom"
	"liverec/internal/storage"
	"liverec/internal/telemetry"
	"liverec/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "liverec")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "liverec"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("cacheRoot", cfg.CacheRoot),
		slog.String("metadataBaseURL", cfg.MetadataBaseURL),
		slog.Int64("memBufSizeBytes", cfg.MemBufSizeBytes),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	membuf := storage.NewMemBuffer(cfg.MemBufSizeBytes)
	root := storage.NewRoot(cfg.CacheRoot, membuf)
	metadata := showroom.NewClient(cfg.MetadataBaseURL)
	prober := probe.New(cfg.FFProbePath)

	manager := recorder.NewManager(recorder.ManagerConfig{
		Metadata: metadata,
		Storage:  root,
		Logger:   logger,
	})

	cache := chunkCache{root: root, prober: prober, logger: logger}

	handler := apihttp.NewServer(
		usecase.RecordRoom{Recorders: manager},
		apihttp.WithStopRecording(usecase.StopRecording{Recorders: manager}),
		apihttp.WithListRecordings(usecase.ListRecordings{Recorders: manager}),
		apihttp.WithWatchEvents(usecase.WatchEvents{Recorders: manager}),
		apihttp.WithGetChunk(usecase.GetChunk{Cache: cache}),
		apihttp.WithGetChunksMeta(usecase.GetChunksMeta{Cache: cache}),
		apihttp.WithRecordRateLimit(cfg.RecordRatePerMin),
		apihttp.WithLogger(logger),
	)

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

	manager.DestroyAll()
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// chunkCache adapts the storage layer to the usecase cache port, attaching
// the ffprobe fallback for chunks recorded without playlist metadata.
type chunkCache struct {
	root   *storage.Root
	prober *probe.Prober
	logger *slog.Logger
}

func (c chunkCache) ReadChunk(session domain.Session, id int64) ([]byte, error) {
	return c.root.Live(session).ReadChunk(id)
}

func (c chunkCache) ChunksMeta(ctx context.Context, session domain.Session) (map[int64]domain.ChunkMeta, error) {
	return c.root.Live(session).ChunksMeta(ctx, c.prober, c.logger)
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	return slog.New(newLogHandler(levelRaw, formatRaw))
}

func newLogHandler(levelRaw, formatRaw string) slog.Handler {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.NewJSONHandler(os.Stdout, options)
	}
	return slog.NewTextHandler(os.Stdout, options)
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
