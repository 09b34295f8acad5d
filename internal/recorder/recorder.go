package recorder

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"liverec/internal/domain"
	"liverec/internal/hls"
	"liverec/internal/storage"
)

const defaultPollInterval = 2 * time.Second

// MetadataClient resolves a room's live state.
type MetadataClient interface {
	StreamingEntries(ctx context.Context, room domain.RoomID) ([]domain.StreamingEntry, error)
	LiveID(ctx context.Context, room domain.RoomID) (domain.LiveID, error)
}

// Config wires one per-room Recorder.
type Config struct {
	Room         domain.RoomID
	Metadata     MetadataClient
	Storage      *storage.Root
	HTTPClient   *http.Client
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Recorder drives one room end to end: it polls the metadata service
// until the broadcast starts, picks an HLS stream, resolves the durable
// cache path from the live session id, and owns the playlist poller for
// the session. Every poller event is re-published, stamped with the room
// and a timestamp, through a single subscribable stream.
type Recorder struct {
	room     domain.RoomID
	meta     MetadataClient
	store    *storage.Root
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration

	runCtx context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	destroyed bool
	subs      map[chan domain.Event]struct{}
	poller    *hls.Poller

	liveReady chan struct{}
	live      *storage.Live
	liveID    domain.LiveID
}

func New(cfg Config) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		room:      cfg.Room,
		meta:      cfg.Metadata,
		store:     cfg.Storage,
		client:    client,
		logger:    logger.With(slog.Int64("roomId", int64(cfg.Room))),
		interval:  interval,
		runCtx:    runCtx,
		cancel:    cancel,
		subs:      make(map[chan domain.Event]struct{}),
		liveReady: make(chan struct{}),
	}
}

func (r *Recorder) Room() domain.RoomID { return r.room }

// Start begins recording. Idempotent; a destroyed recorder stays stopped.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.destroyed {
		return
	}
	r.started = true
	go r.run()
}

// Destroy stops the poller and drops every subscription.
func (r *Recorder) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	poller := r.poller
	subs := r.subs
	r.subs = make(map[chan domain.Event]struct{})
	r.mu.Unlock()

	r.cancel()
	if poller != nil {
		poller.Stop()
	}
	for ch := range subs {
		close(ch)
	}
}

// Subscribe returns a channel of recorder and poller events plus a cancel
// function. Slow subscribers lose events rather than stalling the
// recorder.
func (r *Recorder) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 64)
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
}

// LiveReady is closed once the live session id has been resolved.
func (r *Recorder) LiveReady() <-chan struct{} { return r.liveReady }

// LiveID returns the resolved live session id, if known yet.
func (r *Recorder) LiveID() (domain.LiveID, bool) {
	select {
	case <-r.liveReady:
		return r.liveID, true
	default:
		return 0, false
	}
}

func (r *Recorder) publish(e domain.Event) {
	e.Room = r.room
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if e.IsError() {
		r.logger.Warn(string(e.Kind),
			slog.Int64("chunkId", e.ChunkID),
			slog.String("error", e.Error),
		)
	} else {
		r.logger.Debug(string(e.Kind),
			slog.Int64("chunkId", e.ChunkID),
			slog.String("url", e.URL),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (r *Recorder) run() {
	playlistURL, ok := r.awaitStreamingURL()
	if !ok {
		return
	}

	poller := hls.NewPoller(hls.PollerConfig{
		PlaylistURL: playlistURL,
		Client:      r.client,
		ResolveLive: r.awaitLive,
		Emit:        r.publish,
	})
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.poller = poller
	r.mu.Unlock()

	// Cache path resolution runs concurrently with polling; the poller
	// blocks on it only where the path is actually needed.
	go r.resolveLive()

	poller.Start(r.runCtx)
}

// awaitStreamingURL polls until the broadcast is live and an
// HLS-compatible stream exists. "Not started" is expected and waits out
// the poll interval; request failures retry immediately.
func (r *Recorder) awaitStreamingURL() (string, bool) {
	for {
		if r.runCtx.Err() != nil {
			return "", false
		}
		started := time.Now()
		entries, err := r.meta.StreamingEntries(r.runCtx, r.room)
		if err != nil {
			if r.runCtx.Err() != nil {
				return "", false
			}
			r.publish(domain.Event{Kind: domain.EventStreamingURLFetchError, Error: err.Error()})
			continue
		}
		if len(entries) == 0 {
			r.publish(domain.Event{Kind: domain.EventNotStarted})
			if !r.waitRemainder(started) {
				return "", false
			}
			continue
		}
		entry, ok := SelectStream(entries)
		if !ok {
			r.publish(domain.Event{Kind: domain.EventNoHLSFound})
			if !r.waitRemainder(started) {
				return "", false
			}
			continue
		}
		return entry.URL, true
	}
}

// resolveLive polls the live-info endpoint until a session id is
// assigned, then pins the session's cache directory and pre-marks chunks
// already on disk so an interrupted recording is not re-fetched.
func (r *Recorder) resolveLive() {
	for {
		if r.runCtx.Err() != nil {
			return
		}
		started := time.Now()
		liveID, err := r.meta.LiveID(r.runCtx, r.room)
		if err != nil {
			if r.runCtx.Err() != nil {
				return
			}
			r.publish(domain.Event{Kind: domain.EventLiveInfoFetchError, Error: err.Error()})
			continue
		}
		if liveID == 0 {
			if !r.waitRemainder(started) {
				return
			}
			continue
		}

		live := r.store.Live(domain.Session{Room: r.room, Live: liveID})
		r.mu.Lock()
		r.live = live
		r.liveID = liveID
		poller := r.poller
		r.mu.Unlock()

		if poller != nil {
			if files, err := live.ChunkFiles(); err == nil {
				ids := make([]int64, 0, len(files))
				for _, f := range files {
					ids = append(ids, f.ID)
				}
				poller.Downloader().MarkExisting(ids...)
			}
		}
		close(r.liveReady)
		return
	}
}

// awaitLive blocks until the cache directory is known.
func (r *Recorder) awaitLive(ctx context.Context) (*storage.Live, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.liveReady:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live, nil
}

func (r *Recorder) waitRemainder(started time.Time) bool {
	remainder := r.interval - time.Since(started)
	if remainder <= 0 {
		return r.runCtx.Err() == nil
	}
	select {
	case <-r.runCtx.Done():
		return false
	case <-time.After(remainder):
		return true
	}
}

// SelectStream picks the stream to record from the candidates: any entry
// whose type mentions hls qualifies (lhls included); the default entry
// wins, else the highest reported quality, else the first candidate.
func SelectStream(entries []domain.StreamingEntry) (domain.StreamingEntry, bool) {
	var candidates []domain.StreamingEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Type), "hls") {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return domain.StreamingEntry{}, false
	}
	for _, e := range candidates {
		if e.IsDefault {
			return e, true
		}
	}
	best := candidates[0]
	for _, e := range candidates[1:] {
		if e.Quality != nil && (best.Quality == nil || *e.Quality > *best.Quality) {
			best = e
		}
	}
	return best, true
}
