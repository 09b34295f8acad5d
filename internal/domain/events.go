package domain

import "time"

// EventKind tags one entry in the recorder/poller event stream.
type EventKind string

const (
	// Poller log events.
	EventPollSlow         EventKind = "poll.slow"
	EventPlaylistNotFound EventKind = "playlist.not_found"
	EventChunkStart       EventKind = "chunk.start"
	EventChunkFinish      EventKind = "chunk.finish"
	EventChunkRetry       EventKind = "chunk.retry"

	// Poller error events.
	EventInitFailed            EventKind = "error.init"
	EventPlaylistParseFailed   EventKind = "error.playlist_parse"
	EventSnapshotWriteFailed   EventKind = "error.snapshot_write"
	EventProbeDispatchFailed   EventKind = "error.probe_dispatch"
	EventPlaylistRequestFailed EventKind = "error.playlist_request"
	EventChunkFetchFailed      EventKind = "error.chunk_fetch"
	EventChunkDownloadFailed   EventKind = "error.chunk_download"
	EventChunkWriteFailed      EventKind = "error.chunk_write"

	// Recorder lifecycle events.
	EventNotStarted             EventKind = "recorder.not_started"
	EventNoHLSFound             EventKind = "recorder.no_hls_found"
	EventStreamingURLFetchError EventKind = "recorder.streaming_url_failed"
	EventLiveInfoFetchError     EventKind = "recorder.live_info_failed"
)

// Event is one tagged entry of the subscribable event stream. Only the
// fields relevant to the kind are populated.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Room RoomID `json:"room,omitempty"`

	// Chunk download context.
	ChunkID   int64  `json:"chunkId,omitempty"`
	URL       string `json:"url,omitempty"`
	Confident bool   `json:"confident,omitempty"`
	Retries   int    `json:"retries,omitempty"`
	Status    int    `json:"status,omitempty"`

	// Slow-poll duration.
	DurationMs int64 `json:"durationMs,omitempty"`

	Error string `json:"error,omitempty"`
}

// IsError reports whether the event belongs to the error taxonomy rather
// than the log taxonomy.
func (e Event) IsError() bool {
	switch e.Kind {
	case EventInitFailed, EventPlaylistParseFailed, EventSnapshotWriteFailed,
		EventProbeDispatchFailed, EventPlaylistRequestFailed,
		EventChunkFetchFailed, EventChunkDownloadFailed, EventChunkWriteFailed,
		EventStreamingURLFetchError, EventLiveInfoFetchError:
		return true
	}
	return false
}
