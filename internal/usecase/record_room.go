package usecase

import (
	"context"
	"time"

	"liverec/internal/domain"
)

// RecordRoom starts (or joins) the recording of a room's current live and
// reports the live session id once the metadata service assigns one.
type RecordRoom struct {
	Recorders RoomRecorders

	// Timeout bounds how long to wait for the live id. Zero means the
	// caller's context is the only bound.
	Timeout time.Duration
}

type RecordRoomInput struct {
	Room domain.RoomID
}

type RecordRoomOutput struct {
	Room domain.RoomID `json:"roomId"`
	Live domain.LiveID `json:"liveId,omitempty"`

	// LiveResolved is false when recording started but the live session id
	// was still unknown when the wait expired. The recorder keeps polling
	// in the background either way.
	LiveResolved bool `json:"liveResolved"`
}

func (uc RecordRoom) Execute(ctx context.Context, input RecordRoomInput) (RecordRoomOutput, error) {
	if input.Room <= 0 {
		return RecordRoomOutput{}, ErrInvalidRoom
	}

	waitCtx := ctx
	if uc.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, uc.Timeout)
		defer cancel()
	}

	id, err := uc.Recorders.AwaitLiveID(waitCtx, input.Room)
	if err != nil {
		return RecordRoomOutput{}, wrapRecorder(err)
	}
	return RecordRoomOutput{
		Room:         input.Room,
		Live:         id,
		LiveResolved: id != 0,
	}, nil
}
