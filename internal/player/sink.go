package player

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MediaSink is the platform append-only media buffer boundary: a source
// buffer plus the playback surface it feeds. Append and Remove are valid
// only while the sink is idle; WaitIdle is the serialization point.
type MediaSink interface {
	WaitIdle(ctx context.Context) error
	Append(data []byte) error
	Remove(start, end float64) error
	Buffered() (start, end float64, ok bool)

	Duration() float64
	SetDuration(d float64) error
	WaitDurationChange(ctx context.Context) error
	EndOfStream() error

	CurrentTime() float64
	SetCurrentTime(t float64)
	Play(ctx context.Context) error
	Pause()
}

// SinkAdapter owns the Demuxer and pumps its output into the MediaSink,
// one append at a time. Each Reset retires the whole pipeline: the old
// Demuxer is closed, a fresh one takes its place and a new pump bound to
// the bumped generation starts. A pump that wakes up under a newer
// generation exits without touching the sink, so a chunk that was in
// flight when the seek landed can never reach the new timeline.
type SinkAdapter struct {
	sink   MediaSink
	logger *slog.Logger

	generation atomic.Uint64

	mu         sync.Mutex
	demux      *Demuxer
	pumpDone   chan struct{}
	advertised float64
	fatal      error
}

func NewSinkAdapter(sink MediaSink, logger *slog.Logger) *SinkAdapter {
	a := &SinkAdapter{
		sink:     sink,
		logger:   logger,
		demux:    NewDemuxer(),
		pumpDone: make(chan struct{}),
	}
	go a.pump(a.generation.Load(), a.demux, a.pumpDone)
	return a
}

// Add feeds one transport-stream chunk into the pipeline. Blocks while
// the previous chunk is still in flight. A chunk pushed into a pipeline
// that a concurrent Reset has already closed fails with the demuxer's
// close error.
func (a *SinkAdapter) Add(ctx context.Context, buffer []byte, duration float64) error {
	a.mu.Lock()
	demux := a.demux
	a.mu.Unlock()
	return demux.Push(ctx, DemuxInput{Buffer: buffer, Duration: duration})
}

// pump appends each demuxed fragment once the sink reports idle and
// advances the advertised duration by the chunk's duration. It serves
// exactly one generation: before every append and every duration advance
// it re-checks that the generation it was started for is still current,
// and stops if a Reset has moved on.
func (a *SinkAdapter) pump(gen uint64, demux *Demuxer, done chan struct{}) {
	defer close(done)
	for out := range demux.Output() {
		if a.generation.Load() != gen {
			return
		}
		if err := a.sink.WaitIdle(context.Background()); err != nil {
			a.setFatal(err)
			return
		}
		if a.generation.Load() != gen {
			return
		}
		if err := a.sink.Append(out.Buffer); err != nil {
			a.setFatal(err)
			return
		}
		a.mu.Lock()
		if a.generation.Load() != gen {
			a.mu.Unlock()
			return
		}
		a.advertised += out.Duration
		advertised := a.advertised
		a.mu.Unlock()
		if err := a.sink.SetDuration(advertised); err != nil {
			a.logger.Warn("sink duration update failed", slog.String("error", err.Error()))
		}
	}
	// Output closed: the demuxer died or was closed. A processing error,
	// if any, is fatal to the owning player; a plain close is not.
	if err := demux.Err(); err != nil {
		a.setFatal(err)
	}
}

func (a *SinkAdapter) setFatal(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatal == nil {
		a.fatal = err
	}
}

// Fatal reports the pipeline error that killed this adapter, if any.
func (a *SinkAdapter) Fatal() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// AdvertisedDuration is the total play time appended since the last reset.
func (a *SinkAdapter) AdvertisedDuration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertised
}

// Reset prepares the sink for a seek. The current Demuxer is torn down
// and its pump waited out, so nothing from the old timeline is left in
// flight; then a fresh pipeline starts, the advertised duration drops to
// zero and any buffered range is removed. A reset that is overtaken by a
// newer one abandons itself without touching the sink further.
func (a *SinkAdapter) Reset(ctx context.Context) error {
	gen := a.generation.Add(1)

	a.mu.Lock()
	old := a.demux
	oldDone := a.pumpDone
	a.mu.Unlock()

	old.Close()
	select {
	case <-oldDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if a.generation.Load() != gen {
		return nil
	}

	demux := NewDemuxer()
	done := make(chan struct{})
	a.mu.Lock()
	if a.generation.Load() != gen {
		a.mu.Unlock()
		demux.Close()
		close(done)
		return nil
	}
	a.demux = demux
	a.pumpDone = done
	a.advertised = 0
	a.mu.Unlock()
	go a.pump(gen, demux, done)

	if err := a.sink.WaitIdle(ctx); err != nil {
		return err
	}
	if a.generation.Load() != gen {
		return nil
	}
	if err := a.sink.SetDuration(0); err != nil {
		return err
	}

	start, end, ok := a.sink.Buffered()
	if !ok {
		return nil
	}
	if err := a.sink.WaitIdle(ctx); err != nil {
		return err
	}
	if a.generation.Load() != gen {
		return nil
	}
	return a.sink.Remove(start, end)
}

// RemoveBefore evicts the buffered range [start, end). Negative starts
// clip to zero; an empty range is a no-op.
func (a *SinkAdapter) RemoveBefore(ctx context.Context, start, end float64) error {
	if start < 0 {
		start = 0
	}
	if start >= end {
		return nil
	}
	gen := a.generation.Load()

	if err := a.sink.WaitIdle(ctx); err != nil {
		return err
	}
	if a.generation.Load() != gen {
		return nil
	}
	if _, _, ok := a.sink.Buffered(); !ok {
		return nil
	}
	return a.sink.Remove(start, end)
}

// Destroy drains the sink and signals end-of-stream. The current demux
// pipeline is closed first so its pump stops feeding.
func (a *SinkAdapter) Destroy(ctx context.Context) error {
	a.mu.Lock()
	demux := a.demux
	done := a.pumpDone
	a.mu.Unlock()

	demux.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := a.sink.WaitIdle(ctx); err != nil {
		return err
	}
	return a.sink.EndOfStream()
}
