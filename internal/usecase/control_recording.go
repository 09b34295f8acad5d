package usecase

import (
	"context"

	"liverec/internal/domain"
)

// StopRecording tears down the room's recorder and closes its subscribers.
type StopRecording struct {
	Recorders RoomRecorders
}

func (uc StopRecording) Execute(ctx context.Context, room domain.RoomID) error {
	if room <= 0 {
		return ErrInvalidRoom
	}
	if !uc.Recorders.Destroy(room) {
		return ErrNotRecording
	}
	return nil
}

// RecordingStatus is one active recording as reported by ListRecordings.
type RecordingStatus struct {
	Room domain.RoomID `json:"roomId"`
	Live domain.LiveID `json:"liveId,omitempty"`

	LiveResolved bool `json:"liveResolved"`
}

// ListRecordings reports every active recording, sorted by room id.
type ListRecordings struct {
	Recorders RoomRecorders
}

func (uc ListRecordings) Execute(ctx context.Context) []RecordingStatus {
	rooms := uc.Recorders.Rooms()
	out := make([]RecordingStatus, 0, len(rooms))
	for _, room := range rooms {
		id, ok := uc.Recorders.LiveID(room)
		out = append(out, RecordingStatus{Room: room, Live: id, LiveResolved: ok && id != 0})
	}
	return out
}

// WatchEvents attaches to the live event stream of an active recording.
// The returned cancel func must be called when the subscriber goes away.
type WatchEvents struct {
	Recorders RoomRecorders
}

func (uc WatchEvents) Execute(room domain.RoomID) (<-chan domain.Event, func(), error) {
	if room <= 0 {
		return nil, nil, ErrInvalidRoom
	}
	ch, cancel, ok := uc.Recorders.Subscribe(room)
	if !ok {
		return nil, nil, ErrNotRecording
	}
	return ch, cancel, nil
}
