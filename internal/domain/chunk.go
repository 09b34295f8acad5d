package domain

import "fmt"

// RoomID identifies a broadcast room.
type RoomID int64

// LiveID identifies one live session within a room. Zero means the session
// id has not been assigned by the metadata service yet.
type LiveID int64

// Session is the (room, live) pair that addresses one durable cache directory.
type Session struct {
	Room RoomID
	Live LiveID
}

func (s Session) String() string {
	return fmt.Sprintf("%d/%d", s.Room, s.Live)
}

// ChunkMeta describes one media segment of a live session.
// Immutable once created.
type ChunkMeta struct {
	ID        int64   `json:"id"`
	Duration  float64 `json:"duration"`  // seconds
	StartedAt float64 `json:"startedAt"` // seconds since session start
}

// EndAt returns the timepoint at which the chunk ends.
func (c ChunkMeta) EndAt() float64 {
	return c.StartedAt + c.Duration
}

// PlaylistTrack is one segment reference inside a parsed playlist.
type PlaylistTrack struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

// PlaylistExtension holds the live-playlist header fields the engine cares about.
type PlaylistExtension struct {
	MediaSequence   *int64   `json:"mediaSequence,omitempty"`
	ProgramDateTime *float64 `json:"programDateTime,omitempty"` // unix seconds
}

// Playlist is the parsed form of one media playlist poll.
type Playlist struct {
	Tracks    []PlaylistTrack   `json:"tracks"`
	Extension PlaylistExtension `json:"extension"`
}

// PlaylistSnapshot pairs the raw playlist text with its parsed form, if
// parsing succeeded. Snapshots are persisted for diagnostics and cache
// warm-up, never re-read on the hot path.
type PlaylistSnapshot struct {
	Raw    string    `json:"raw"`
	Parsed *Playlist `json:"parsed,omitempty"`
}

// StreamingEntry is one candidate stream returned by the metadata service.
type StreamingEntry struct {
	URL       string
	Type      string
	IsDefault bool
	Quality   *int64
}
