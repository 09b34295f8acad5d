package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"liverec/internal/domain"
	"liverec/internal/metrics"
)

// ChunkSource supplies persisted chunk bytes, live or cached.
type ChunkSource interface {
	Chunk(ctx context.Context, id int64) ([]byte, error)
}

// State is the player lifecycle. Play/pause and seeking are orthogonal
// flags on top of it.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateInitializingSink
	StateStarted
	StateDestroyed
)

const (
	// maxBufferDuration caps how far the fill loop may run ahead of the
	// playback position before sleeping out the overage.
	maxBufferDuration = 20.0

	// tailWait is how long the fill loop naps when the live tail has no
	// next chunk yet.
	tailWait = time.Second

	// playTimeout bounds the platform play call, which may never resolve
	// when the position sits at the advertised duration.
	playTimeout = 100 * time.Millisecond
)

// Config wires one Player.
type Config struct {
	Index         *domain.ChunkIndex
	Source        ChunkSource
	Sink          MediaSink
	Logger        *slog.Logger
	OnStateChange func(playing bool)
}

// Player drives seek/play/pause over a chunked live recording: a fill
// loop pulls chunk bytes through the demux pipeline into the sink, an
// evict loop trims consumed ranges behind the playback position. Each
// seek starts a new generation; loops of older generations abandon
// themselves at their next suspension point.
type Player struct {
	index   *domain.ChunkIndex
	source  ChunkSource
	sink    MediaSink
	adapter *SinkAdapter
	logger  *slog.Logger
	onState func(bool)

	queue *serialQueue

	runCtx context.Context
	cancel context.CancelFunc

	state      atomic.Int32
	generation atomic.Uint64

	mu      sync.Mutex
	playing bool
	pending *pendingSeek
	evictQ  *KeepLast[float64]
}

type pendingSeek struct {
	timepoint float64
	done      chan struct{}
	err       error
}

func New(cfg Config) *Player {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onState := cfg.OnStateChange
	if onState == nil {
		onState = func(bool) {}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Player{
		index:   cfg.Index,
		source:  cfg.Source,
		sink:    cfg.Sink,
		adapter: NewSinkAdapter(cfg.Sink, logger),
		logger:  logger,
		onState: onState,
		queue:   newSerialQueue(),
		runCtx:  runCtx,
		cancel:  cancel,
		evictQ:  NewKeepLast[float64](),
	}
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	return State(p.state.Load())
}

// Playing reports the play/pause flag.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Start initializes the sink pipeline and performs the initial seek.
func (p *Player) Start(ctx context.Context, timepoint float64) error {
	if !p.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarting)) {
		return errors.New("player already started")
	}
	p.state.Store(int32(StateInitializingSink))
	err := p.Seek(ctx, timepoint)
	if err != nil {
		return err
	}
	p.state.Store(int32(StateStarted))
	return nil
}

// Seek moves playback to timepoint. Repeated seeks to an already-pending
// timepoint share one result; distinct overlapping seeks queue and each
// newer one invalidates the older generation's loops.
func (p *Player) Seek(ctx context.Context, timepoint float64) error {
	if p.State() == StateDestroyed {
		return domain.ErrDestroyed
	}

	p.mu.Lock()
	if p.pending != nil && p.pending.timepoint == timepoint {
		pending := p.pending
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pending.done:
			return pending.err
		}
	}
	pending := &pendingSeek{timepoint: timepoint, done: make(chan struct{})}
	p.pending = pending
	p.mu.Unlock()

	err := p.queue.Do(ctx, func() error {
		defer func() {
			p.mu.Lock()
			if p.pending == pending {
				p.pending = nil
			}
			p.mu.Unlock()
			close(pending.done)
		}()
		pending.err = p.doSeek(timepoint)
		return pending.err
	})
	return err
}

func (p *Player) doSeek(timepoint float64) error {
	if p.State() == StateDestroyed {
		return domain.ErrDestroyed
	}
	metrics.PlayerSeeksTotal.Inc()

	if p.index.Len() == 0 {
		return nil
	}
	duration := p.index.Duration()
	if timepoint > duration-1 {
		timepoint = duration - 1
	}
	if timepoint < 0 {
		timepoint = 0
	}
	target, ok := p.index.SeekChunk(timepoint)
	if !ok {
		return nil
	}
	if timepoint < target.StartedAt {
		// Before the earliest known chunk; land at its start.
		timepoint = target.StartedAt
	}

	gen := p.generation.Add(1)

	p.mu.Lock()
	wasPlaying := p.playing
	p.playing = false
	oldQ := p.evictQ
	p.evictQ = NewKeepLast[float64]()
	evictQ := p.evictQ
	p.mu.Unlock()
	p.sink.Pause()
	oldQ.Close()

	if err := p.adapter.Reset(p.runCtx); err != nil {
		return err
	}
	if p.stale(gen) {
		return nil
	}

	go p.fillLoop(gen, target.ID)
	go p.evictLoop(gen, evictQ)

	if err := p.sink.WaitDurationChange(p.runCtx); err != nil {
		return err
	}
	if p.stale(gen) {
		return nil
	}
	p.sink.SetCurrentTime(timepoint - target.StartedAt)

	if wasPlaying {
		return p.doPlay()
	}
	return nil
}

func (p *Player) stale(gen uint64) bool {
	return p.generation.Load() != gen || p.runCtx.Err() != nil
}

// Play resumes playback. Queued behind any in-flight seek; no-op when
// already playing.
func (p *Player) Play(ctx context.Context) error {
	if p.State() == StateDestroyed {
		return domain.ErrDestroyed
	}
	return p.queue.Do(ctx, func() error {
		p.mu.Lock()
		if p.playing {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		return p.doPlay()
	})
}

func (p *Player) doPlay() error {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
	p.onState(true)

	// The platform may never resolve play when the position is at the
	// very edge of the advertised duration; racing a short timeout keeps
	// the queue moving.
	playCtx, cancel := context.WithTimeout(p.runCtx, playTimeout)
	defer cancel()
	if err := p.sink.Play(playCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		p.logger.Warn("sink play failed", slog.String("error", err.Error()))
	}
	return nil
}

// Pause suspends playback. Queued behind any in-flight seek; no-op when
// already paused.
func (p *Player) Pause(ctx context.Context) error {
	if p.State() == StateDestroyed {
		return domain.ErrDestroyed
	}
	return p.queue.Do(ctx, func() error {
		p.mu.Lock()
		if !p.playing {
			p.mu.Unlock()
			return nil
		}
		p.playing = false
		p.mu.Unlock()
		p.onState(false)
		p.sink.Pause()
		return nil
	})
}

// fillLoop pulls chunks from startID onward into the sink, sleeping when
// the live tail is not available yet and backing off when the buffered
// horizon runs too far ahead of the playback position. It also watches
// for buffered chunk ends falling behind the position and hands the
// newest such endpoint to the evict loop.
func (p *Player) fillLoop(gen uint64, startID int64) {
	// Appended chunk end times in the post-seek sink timeline.
	var appendedEnds []float64
	appended := 0.0
	id := startID

	for {
		if p.stale(gen) {
			return
		}
		if p.adapter.Fatal() != nil {
			p.teardownOnPipelineFailure(gen)
			return
		}

		last, ok := p.index.Last()
		if !ok || id > last.ID {
			if !p.sleep(gen, tailWait) {
				return
			}
			continue
		}
		meta, ok := p.index.ByID(id)
		if !ok {
			// Hole in the sequence; skip to the next known id.
			id++
			continue
		}

		data, err := p.source.Chunk(p.runCtx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				if !p.sleep(gen, tailWait) {
					return
				}
				continue
			}
			if p.runCtx.Err() != nil {
				return
			}
			p.logger.Warn("chunk read failed", slog.Int64("chunkId", id), slog.String("error", err.Error()))
			if !p.sleep(gen, tailWait) {
				return
			}
			continue
		}

		if p.stale(gen) {
			return
		}
		if err := p.adapter.Add(p.runCtx, data, meta.Duration); err != nil {
			p.teardownOnPipelineFailure(gen)
			return
		}
		appended += meta.Duration
		appendedEnds = append(appendedEnds, appended)
		id++

		// Eviction point: newest appended end now behind the position.
		position := p.sink.CurrentTime()
		evictAt := -1.0
		for _, end := range appendedEnds {
			if end <= position {
				evictAt = end
			}
		}
		if evictAt > 0 {
			p.mu.Lock()
			q := p.evictQ
			p.mu.Unlock()
			q.Put(evictAt)
		}

		// Backpressure: never run more than maxBufferDuration ahead.
		if ahead := appended - position; ahead > maxBufferDuration {
			overage := time.Duration((ahead - maxBufferDuration) * float64(time.Second))
			if !p.sleep(gen, overage) {
				return
			}
		}
	}
}

// evictLoop drains coalesced eviction endpoints and trims the sink.
func (p *Player) evictLoop(gen uint64, q *KeepLast[float64]) {
	for {
		endpoint, err := q.Take(p.runCtx)
		if err != nil {
			return
		}
		if p.stale(gen) {
			return
		}
		if err := p.adapter.RemoveBefore(p.runCtx, 0, endpoint); err != nil {
			if p.runCtx.Err() == nil {
				p.logger.Warn("buffer eviction failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// teardownOnPipelineFailure destroys the player after a fatal demux/sink
// error. The process keeps running; only this instance dies.
func (p *Player) teardownOnPipelineFailure(gen uint64) {
	if p.stale(gen) {
		return
	}
	if err := p.adapter.Fatal(); err != nil {
		p.logger.Error("playback pipeline failed", slog.String("error", err.Error()))
	}
	p.Destroy()
}

func (p *Player) sleep(gen uint64, d time.Duration) bool {
	select {
	case <-p.runCtx.Done():
		return false
	case <-time.After(d):
	}
	return !p.stale(gen)
}

// Destroy stops all loops, destroys the sink pipeline and marks the
// player terminal. Safe to call repeatedly.
func (p *Player) Destroy() {
	if State(p.state.Swap(int32(StateDestroyed))) == StateDestroyed {
		return
	}
	p.generation.Add(1)
	p.cancel()

	p.mu.Lock()
	p.playing = false
	q := p.evictQ
	p.mu.Unlock()
	q.Close()
	p.sink.Pause()

	destroyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.adapter.Destroy(destroyCtx); err != nil {
		p.logger.Warn("sink destroy failed", slog.String("error", err.Error()))
	}
	p.queue.Close()
}
