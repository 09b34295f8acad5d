package usecase

import (
	"context"
	"errors"
	"sort"

	"liverec/internal/domain"
)

// GetChunk serves the raw bytes of one cached media segment.
type GetChunk struct {
	Cache ChunkCache
}

type GetChunkInput struct {
	Session domain.Session
	ID      int64
}

func (uc GetChunk) Execute(ctx context.Context, input GetChunkInput) ([]byte, error) {
	if input.Session.Room <= 0 {
		return nil, ErrInvalidRoom
	}
	if input.ID < 0 {
		return nil, ErrInvalidChunk
	}
	data, err := uc.Cache.ReadChunk(input.Session, input.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, wrapCache(err)
	}
	return data, nil
}

// GetChunksMeta lists the metadata of every cached segment of a live
// session, sorted by chunk id. Segments with no persisted metadata are
// probed on demand.
type GetChunksMeta struct {
	Cache ChunkCache
}

func (uc GetChunksMeta) Execute(ctx context.Context, session domain.Session) ([]domain.ChunkMeta, error) {
	if session.Room <= 0 {
		return nil, ErrInvalidRoom
	}
	byID, err := uc.Cache.ChunksMeta(ctx, session)
	if err != nil {
		return nil, wrapCache(err)
	}
	out := make([]domain.ChunkMeta, 0, len(byID))
	for _, meta := range byID {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
