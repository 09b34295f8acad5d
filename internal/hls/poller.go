package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"liverec/internal/domain"
	"liverec/internal/metrics"
	"liverec/internal/storage"
)

const (
	defaultPollInterval = 2 * time.Second
	heuristicBatchSize  = 100
)

type pollerState int32

const (
	pollerIdle pollerState = iota
	pollerStarted
	pollerDestroyed
)

// PollerConfig wires one Poller instance.
type PollerConfig struct {
	PlaylistURL string
	Client      *http.Client
	ResolveLive LiveResolver
	Emit        func(domain.Event)
	Interval    time.Duration // defaults to 2s
}

// Poller re-requests a live playlist at a fixed cadence and drives chunk
// acquisition from it: every parsed poll persists a snapshot, downloads
// the chunks the playlist names, and probes speculatively backward for
// chunks that predate the first observed playlist. Polls are strictly
// sequential; everything a poll triggers runs concurrently with the next
// poll's timer.
type Poller struct {
	playlistURL string
	client      *http.Client
	resolveLive LiveResolver
	emit        func(domain.Event)
	interval    time.Duration

	downloader *Downloader

	mu     sync.Mutex
	state  pollerState
	cancel context.CancelFunc

	initReady chan struct{}
	initLive  *storage.Live
	initErr   error

	// Chunk metadata folded from observed playlists. sessionStart anchors
	// startedAt to the first program-date-time seen in this session.
	metaMu       sync.Mutex
	known        map[int64]domain.ChunkMeta
	sessionStart *float64

	template ChunkURLTemplate
	probing  atomic.Bool
}

func NewPoller(cfg PollerConfig) *Poller {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	emit := cfg.Emit
	if emit == nil {
		emit = func(domain.Event) {}
	}
	p := &Poller{
		playlistURL: cfg.PlaylistURL,
		client:      client,
		resolveLive: cfg.ResolveLive,
		emit:        emit,
		interval:    interval,
		initReady:   make(chan struct{}),
		known:       make(map[int64]domain.ChunkMeta),
	}
	p.downloader = NewDownloader(client, cfg.ResolveLive, emit)
	return p
}

// Downloader exposes the poller's download map, shared with cache warm-up.
func (p *Poller) Downloader() *Downloader { return p.downloader }

// Start begins the poll loop. Idempotent; calls after Stop are no-ops.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != pollerIdle {
		return
	}
	p.state = pollerStarted

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.initialize(runCtx)
	go p.loop(runCtx)
}

// Stop destroys the poller. In-flight downloads are cancelled through the
// poll context; Stop does not wait for them.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == pollerDestroyed {
		return
	}
	p.state = pollerDestroyed
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == pollerDestroyed
}

// initialize resolves the session's cache directory and creates the tree.
// A failure here skips snapshot persistence for the whole session but does
// not stop polling or downloading.
func (p *Poller) initialize(ctx context.Context) {
	live, err := p.resolveLive(ctx)
	if err == nil {
		err = live.Init(ctx)
	}
	p.mu.Lock()
	p.initLive, p.initErr = live, err
	p.mu.Unlock()
	close(p.initReady)

	if err != nil && ctx.Err() == nil {
		p.emit(domain.Event{Kind: domain.EventInitFailed, Error: err.Error()})
	}
}

// initialized blocks until initialize has settled.
func (p *Poller) initialized(ctx context.Context) (*storage.Live, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.initReady:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLive, p.initErr
}

func (p *Poller) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil || p.destroyed() {
			return
		}
		started := time.Now()
		p.poll(ctx)
		elapsed := time.Since(started)
		if elapsed > 2*p.interval {
			p.emit(domain.Event{Kind: domain.EventPollSlow, DurationMs: elapsed.Milliseconds()})
		}

		remainder := p.interval - elapsed
		if remainder < 0 {
			remainder = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remainder):
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	metrics.PlaylistPollsTotal.Inc()

	raw, status, err := p.fetchPlaylist(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.emit(domain.Event{Kind: domain.EventPlaylistRequestFailed, URL: p.playlistURL, Error: err.Error()})
		}
		return
	}
	if status == http.StatusNotFound {
		// The broadcast has no playlist yet. Keep polling at cadence.
		metrics.PlaylistNotFoundTotal.Inc()
		p.emit(domain.Event{Kind: domain.EventPlaylistNotFound, URL: p.playlistURL, Status: status})
		return
	}
	if status != http.StatusOK {
		p.emit(domain.Event{Kind: domain.EventPlaylistRequestFailed, URL: p.playlistURL, Status: status,
			Error: fmt.Sprintf("unexpected status %d", status)})
		return
	}

	capturedAt := time.Now()
	pl, err := ParsePlaylist(raw)
	if err != nil {
		metrics.PlaylistParseFailuresTotal.Inc()
		p.emit(domain.Event{Kind: domain.EventPlaylistParseFailed, URL: p.playlistURL, Error: err.Error()})
		return
	}

	// Each poll fans out into three independent tasks. None is awaited;
	// each isolates its own failures, and all of them run concurrently
	// with the next poll's timer.
	go p.persistSnapshot(ctx, capturedAt, domain.PlaylistSnapshot{Raw: string(raw), Parsed: pl})
	go p.downloadListed(ctx, pl)
	go p.probeBackward(ctx, pl)
}

func (p *Poller) fetchPlaylist(ctx context.Context) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.playlistURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return raw, resp.StatusCode, nil
}

// persistSnapshot writes the poll's raw+parsed snapshot and folds the
// playlist into chunk metadata records. Skipped entirely when session
// initialization failed.
func (p *Poller) persistSnapshot(ctx context.Context, capturedAt time.Time, snap domain.PlaylistSnapshot) {
	live, err := p.initialized(ctx)
	if err != nil {
		return
	}
	if err := live.WritePlaylistSnapshot(capturedAt, snap); err != nil {
		p.emit(domain.Event{Kind: domain.EventSnapshotWriteFailed, Error: err.Error()})
	}
	for _, meta := range p.foldPlaylist(snap.Parsed) {
		if err := live.WriteChunkMeta(meta); err != nil {
			p.emit(domain.Event{Kind: domain.EventSnapshotWriteFailed, ChunkID: meta.ID, Error: err.Error()})
		}
	}
}

// foldPlaylist derives metadata for chunks not seen in earlier polls. The
// first program-date-time observed in the session becomes the startedAt
// origin for every later playlist.
func (p *Poller) foldPlaylist(pl *domain.Playlist) []domain.ChunkMeta {
	if pl == nil || pl.Extension.ProgramDateTime == nil {
		return nil
	}
	p.metaMu.Lock()
	defer p.metaMu.Unlock()
	if p.sessionStart == nil {
		anchor := *pl.Extension.ProgramDateTime
		p.sessionStart = &anchor
	}
	fresh := domain.ChunksFromPlaylist(pl, p.known, *p.sessionStart)
	for _, meta := range fresh {
		p.known[meta.ID] = meta
	}
	return fresh
}

// KnownChunks returns a copy of the metadata folded from playlists so far.
func (p *Poller) KnownChunks() map[int64]domain.ChunkMeta {
	p.metaMu.Lock()
	defer p.metaMu.Unlock()
	out := make(map[int64]domain.ChunkMeta, len(p.known))
	domain.MergeChunkMeta(out, p.known)
	return out
}

// downloadListed issues a confident download for every track the playlist
// names. Ids already downloaded or in flight are skipped by the download
// map.
func (p *Poller) downloadListed(ctx context.Context, pl *domain.Playlist) {
	if pl.Extension.MediaSequence == nil {
		return
	}
	base := *pl.Extension.MediaSequence
	for i, track := range pl.Tracks {
		if ctx.Err() != nil {
			return
		}
		resolved, err := ResolveURL(p.playlistURL, track.URL)
		if err != nil {
			p.emit(domain.Event{Kind: domain.EventChunkFetchFailed, ChunkID: base + int64(i), URL: track.URL, Error: err.Error()})
			continue
		}
		p.downloader.Download(ctx, base+int64(i), resolved, true)
	}
}

// probeBackward speculatively fetches chunks that predate the first
// playlist this poller observed, walking from the newest reported sequence
// number down to id 0. Within a batch downloads run concurrently; batches
// run sequentially oldest-ward so misses at the stream boundary stay
// cheap. Re-triggered on every poll with a fresh anchor; ids already in
// the download map make repeat walks no-ops.
func (p *Poller) probeBackward(ctx context.Context, pl *domain.Playlist) {
	if pl.Extension.MediaSequence == nil || len(pl.Tracks) == 0 {
		return
	}
	anchor := *pl.Extension.MediaSequence

	if !p.probing.CompareAndSwap(false, true) {
		return
	}
	defer p.probing.Store(false)

	template, err := p.chunkTemplate(anchor, pl.Tracks[0].URL)
	if err != nil {
		p.emit(domain.Event{Kind: domain.EventProbeDispatchFailed, Error: err.Error()})
		return
	}

	for hi := anchor - 1; hi >= 0; hi -= heuristicBatchSize {
		lo := hi - heuristicBatchSize + 1
		if lo < 0 {
			lo = 0
		}
		batch := make([]*ChunkDownload, 0, hi-lo+1)
		for id := hi; id >= lo; id-- {
			if ctx.Err() != nil {
				return
			}
			url, err := template(id)
			if err != nil {
				p.emit(domain.Event{Kind: domain.EventProbeDispatchFailed, ChunkID: id, Error: err.Error()})
				return
			}
			batch = append(batch, p.downloader.Download(ctx, id, url, false))
		}
		for _, dl := range batch {
			if _, err := dl.Wait(ctx); err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}

// chunkTemplate lazily derives the heuristic url template from the first
// usable playlist and keeps it for the session.
func (p *Poller) chunkTemplate(sampleID int64, sampleURL string) (ChunkURLTemplate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.template != nil {
		return p.template, nil
	}
	resolved, err := ResolveURL(p.playlistURL, sampleURL)
	if err != nil {
		return nil, err
	}
	template, err := DeriveChunkURLTemplate(sampleID, resolved)
	if err != nil {
		return nil, err
	}
	p.template = template
	return template, nil
}
