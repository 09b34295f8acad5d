package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"liverec/internal/domain"
	"liverec/internal/metrics"
	"liverec/internal/storage"
)

const (
	downloadInterval  = 2 * time.Second
	downloadMaxRetry  = 6
	retryLogThreshold = 4 * time.Second
)

// LiveResolver returns the durable cache directory of the session being
// recorded, blocking until the live id is known. Downloads start before
// the live id has been resolved, so the resolver is consulted only at
// persist time.
type LiveResolver func(ctx context.Context) (*storage.Live, error)

// ChunkDownload is one in-flight or completed chunk fetch. The zero value
// is not usable; Downloader.Download is the only constructor.
type ChunkDownload struct {
	ID        int64
	URL       string
	Confident bool

	done   chan struct{}
	exists bool
	err    error
}

// Done is closed when the fetch has settled.
func (c *ChunkDownload) Done() <-chan struct{} { return c.done }

// Wait blocks until the fetch settles. exists is false when an unconfident
// fetch hit the start-of-stream boundary; err is the first fetch error when
// every attempt failed.
func (c *ChunkDownload) Wait(ctx context.Context) (exists bool, err error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.done:
		return c.exists, c.err
	}
}

// Downloader fetches chunk bytes and persists them. Its download map is
// the mutual-exclusion point preventing duplicate concurrent fetches of
// one id; entries stay for the lifetime of the Downloader, so each id is
// attempted at most once per process.
type Downloader struct {
	client      *http.Client
	resolveLive LiveResolver
	emit        func(domain.Event)

	mu        sync.Mutex
	downloads map[int64]*ChunkDownload
}

func NewDownloader(client *http.Client, resolveLive LiveResolver, emit func(domain.Event)) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		client:      client,
		resolveLive: resolveLive,
		emit:        emit,
		downloads:   make(map[int64]*ChunkDownload),
	}
}

// Known reports whether the id has a download record (in flight, finished,
// failed, or pre-marked from disk).
func (d *Downloader) Known(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.downloads[id]
	return ok
}

// MarkExisting records ids already present in the cache so the poller does
// not re-fetch them. Used for warm-up when a recording resumes.
func (d *Downloader) MarkExisting(ids ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if _, ok := d.downloads[id]; ok {
			continue
		}
		dl := &ChunkDownload{ID: id, Confident: true, done: make(chan struct{}), exists: true}
		close(dl.done)
		d.downloads[id] = dl
	}
}

// Download starts fetching one chunk unless a record for the id already
// exists, in which case the existing record is returned unchanged.
func (d *Downloader) Download(ctx context.Context, id int64, url string, confident bool) *ChunkDownload {
	d.mu.Lock()
	if existing, ok := d.downloads[id]; ok {
		d.mu.Unlock()
		return existing
	}
	dl := &ChunkDownload{ID: id, URL: url, Confident: confident, done: make(chan struct{})}
	d.downloads[id] = dl
	d.mu.Unlock()

	go d.run(ctx, dl)
	return dl
}

func (d *Downloader) run(ctx context.Context, dl *ChunkDownload) {
	defer close(dl.done)

	d.emit(domain.Event{Kind: domain.EventChunkStart, ChunkID: dl.ID, URL: dl.URL, Confident: dl.Confident})

	res, err := RunWithBackoff(ctx, d.attempt(dl), BackoffOptions{
		StartInterval: downloadInterval,
		MaxRetry:      downloadMaxRetry,
	})
	if err != nil {
		dl.err = err
		metrics.ChunkDownloadFailuresTotal.Inc()
		d.emit(domain.Event{Kind: domain.EventChunkDownloadFailed, ChunkID: dl.ID, URL: dl.URL, Confident: dl.Confident, Error: err.Error()})
		return
	}
	if !res.exists {
		// Start-of-stream boundary reached by heuristic probing. Not an
		// error; the map entry stops further probes of this id.
		metrics.HeuristicMissesTotal.Inc()
		return
	}

	dl.exists = true
	metrics.ChunksDownloadedTotal.WithLabelValues(strconv.FormatBool(dl.Confident)).Inc()
	d.emit(domain.Event{Kind: domain.EventChunkFinish, ChunkID: dl.ID, URL: dl.URL, Confident: dl.Confident})

	// Persistence is best effort: a failed write is reported but the
	// record stays settled, so the id is never fetched again in this
	// process.
	live, err := d.resolveLive(ctx)
	if err != nil {
		d.emit(domain.Event{Kind: domain.EventChunkWriteFailed, ChunkID: dl.ID, Error: err.Error()})
		return
	}
	if err := live.WriteChunk(dl.ID, chunkExt(dl.URL), res.data); err != nil {
		d.emit(domain.Event{Kind: domain.EventChunkWriteFailed, ChunkID: dl.ID, Error: err.Error()})
	}
}

type fetchResult struct {
	data   []byte
	exists bool
}

func (d *Downloader) attempt(dl *ChunkDownload) Attempt[fetchResult] {
	return func(ctx context.Context, elapsed time.Duration, retry int) (fetchResult, error) {
		if retry > 0 {
			metrics.ChunkRetriesTotal.Inc()
		}
		if elapsed > retryLogThreshold {
			d.emit(domain.Event{Kind: domain.EventChunkRetry, ChunkID: dl.ID, URL: dl.URL, Confident: dl.Confident, Retries: retry})
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.URL, nil)
		if err != nil {
			return fetchResult{}, fmt.Errorf("chunk %d: %w", dl.ID, err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			d.emit(domain.Event{Kind: domain.EventChunkFetchFailed, ChunkID: dl.ID, URL: dl.URL, Confident: dl.Confident, Retries: retry, Error: err.Error()})
			return fetchResult{}, fmt.Errorf("chunk %d: %w", dl.ID, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound && !dl.Confident {
			io.Copy(io.Discard, resp.Body)
			return fetchResult{exists: false}, nil
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			err := fmt.Errorf("chunk %d: unexpected status %d", dl.ID, resp.StatusCode)
			d.emit(domain.Event{Kind: domain.EventChunkFetchFailed, ChunkID: dl.ID, URL: dl.URL, Confident: dl.Confident, Retries: retry, Status: resp.StatusCode, Error: err.Error()})
			return fetchResult{}, err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			d.emit(domain.Event{Kind: domain.EventChunkFetchFailed, ChunkID: dl.ID, URL: dl.URL, Confident: dl.Confident, Retries: retry, Error: err.Error()})
			return fetchResult{}, fmt.Errorf("chunk %d: read body: %w", dl.ID, err)
		}
		return fetchResult{data: data, exists: true}, nil
	}
}

// chunkExt extracts the file extension from a chunk url, without the dot.
// Falls back to "ts" for extensionless urls.
func chunkExt(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	ext := strings.TrimPrefix(path.Ext(trimmed), ".")
	if ext == "" {
		return "ts"
	}
	return ext
}
