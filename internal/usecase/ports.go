package usecase

import (
	"context"

	"liverec/internal/domain"
)

// RoomRecorders is the recorder-manager surface the operations depend on.
type RoomRecorders interface {
	// AwaitLiveID starts recording the room (if not already) and waits for
	// the live session id, bounded by ctx. Zero with nil error means the id
	// was still unresolved when the wait expired.
	AwaitLiveID(ctx context.Context, room domain.RoomID) (domain.LiveID, error)
	LiveID(room domain.RoomID) (domain.LiveID, bool)
	Rooms() []domain.RoomID
	Destroy(room domain.RoomID) bool
	Subscribe(room domain.RoomID) (<-chan domain.Event, func(), bool)
}

// ChunkCache is the durable-cache surface the operations depend on.
type ChunkCache interface {
	ReadChunk(session domain.Session, id int64) ([]byte, error)
	ChunksMeta(ctx context.Context, session domain.Session) (map[int64]domain.ChunkMeta, error)
}
