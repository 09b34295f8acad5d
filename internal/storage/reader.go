package storage

import (
	"context"
	"log/slog"

	"liverec/internal/domain"
)

// DurationProber reports the duration and start time of a media file.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (duration, start float64, err error)
}

// ChunksMeta returns the metadata of every persisted chunk of this
// session. Records cached under chunks-info are used as-is; chunk files
// without a cache record are probed, and the fresh records are written
// back. Probe and write-back failures are logged and skipped so that one
// damaged chunk never hides the rest.
func (l *Live) ChunksMeta(ctx context.Context, prober DurationProber, logger *slog.Logger) (map[int64]domain.ChunkMeta, error) {
	cached := l.CachedChunksMeta()

	files, err := l.ChunkFiles()
	if err != nil {
		return nil, err
	}

	out := make(map[int64]domain.ChunkMeta, len(cached)+len(files))
	domain.MergeChunkMeta(out, cached)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := cached[file.ID]; ok {
			continue
		}
		duration, start, err := prober.ProbeDuration(ctx, file.Path)
		if err != nil {
			logger.Warn("chunk probe failed",
				slog.Int64("chunkId", file.ID),
				slog.String("path", file.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		meta := domain.ChunkMeta{ID: file.ID, Duration: duration, StartedAt: start}
		out[file.ID] = meta
		if err := l.WriteChunkMeta(meta); err != nil {
			logger.Warn("chunk meta write failed",
				slog.Int64("chunkId", file.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return out, nil
}
