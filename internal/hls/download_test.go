package hls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"liverec/internal/domain"
	"liverec/internal/storage"
)

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func newHitCounter() *hitCounter {
	return &hitCounter{hits: make(map[string]int)}
}

func (h *hitCounter) inc(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[path]++
	return h.hits[path]
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func testLiveResolver(t *testing.T) (LiveResolver, *storage.Live) {
	t.Helper()
	live := storage.NewRoot(t.TempDir(), nil).Live(domain.Session{Room: 1, Live: 2})
	return func(ctx context.Context) (*storage.Live, error) {
		return live, nil
	}, live
}

func TestDownloadWritesChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	resolver, live := testLiveResolver(t)
	d := NewDownloader(srv.Client(), resolver, func(domain.Event) {})

	dl := d.Download(context.Background(), 7, srv.URL+"/7.ts", true)
	exists, err := dl.Wait(context.Background())
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !exists {
		t.Fatal("confident download reported absence")
	}

	data, err := live.ReadChunk(7)
	if err != nil {
		t.Fatalf("read chunk back: %v", err)
	}
	if string(data) != "segment-bytes" {
		t.Errorf("chunk bytes = %q, want %q", data, "segment-bytes")
	}
}

func TestDownloadIdempotent(t *testing.T) {
	hits := newHitCounter()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		<-release
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	resolver, _ := testLiveResolver(t)
	d := NewDownloader(srv.Client(), resolver, func(domain.Event) {})

	url := srv.URL + "/5.ts"
	first := d.Download(context.Background(), 5, url, true)
	second := d.Download(context.Background(), 5, url, true)
	if first != second {
		t.Error("concurrent downloads of one id produced distinct records")
	}
	close(release)

	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	// A settled record still blocks re-fetches of the same id.
	third := d.Download(context.Background(), 5, url, true)
	if _, err := third.Wait(context.Background()); err != nil {
		t.Fatalf("settled download returned error: %v", err)
	}
	if got := hits.get("/5.ts"); got != 1 {
		t.Errorf("fetch count = %d, want 1", got)
	}
}

func TestUnconfidentNotFoundIsAbsence(t *testing.T) {
	hits := newHitCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	resolver, live := testLiveResolver(t)
	var mu sync.Mutex
	var events []domain.Event
	d := NewDownloader(srv.Client(), resolver, func(e domain.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	dl := d.Download(context.Background(), 3, srv.URL+"/3.ts", false)
	exists, err := dl.Wait(context.Background())
	if err != nil {
		t.Fatalf("unconfident 404 surfaced as error: %v", err)
	}
	if exists {
		t.Error("unconfident 404 reported existence")
	}
	if got := hits.get("/3.ts"); got != 1 {
		t.Errorf("fetch count = %d, want 1 (absence must not be retried)", got)
	}
	if _, err := live.ReadChunk(3); err == nil {
		t.Error("absent chunk was written to storage")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, e := range events {
		if e.IsError() {
			t.Errorf("unexpected error event %s: %s", e.Kind, e.Error)
		}
	}
}

func TestConfidentNotFoundIsRetryable(t *testing.T) {
	hits := newHitCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.inc(r.URL.Path) == 1 {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	resolver, live := testLiveResolver(t)
	d := NewDownloader(srv.Client(), resolver, func(domain.Event) {})

	dl := d.Download(context.Background(), 9, srv.URL+"/9.ts", true)
	exists, err := dl.Wait(context.Background())
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !exists {
		t.Fatal("confident download reported absence")
	}
	if got := hits.get("/9.ts"); got < 2 {
		t.Errorf("fetch count = %d, want >= 2 (confident 404 must retry)", got)
	}
	if _, err := live.ReadChunk(9); err != nil {
		t.Errorf("chunk not persisted after retry: %v", err)
	}
}

func TestMarkExistingBlocksRefetch(t *testing.T) {
	hits := newHitCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	resolver, _ := testLiveResolver(t)
	d := NewDownloader(srv.Client(), resolver, func(domain.Event) {})
	d.MarkExisting(11, 12)

	dl := d.Download(context.Background(), 11, srv.URL+"/11.ts", true)
	exists, err := dl.Wait(context.Background())
	if err != nil || !exists {
		t.Fatalf("pre-marked record: exists=%v err=%v", exists, err)
	}
	if got := hits.get("/11.ts"); got != 0 {
		t.Errorf("fetch count = %d, want 0 for pre-marked id", got)
	}
	if !d.Known(12) || d.Known(13) {
		t.Error("Known does not reflect pre-marked ids")
	}
}

func TestWriteFailureKeepsMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	// A file where the cache root should be makes every chunk write fail.
	rootDir := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(rootDir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	live := storage.NewRoot(rootDir, nil).Live(domain.Session{Room: 1, Live: 2})

	var mu sync.Mutex
	var kinds []domain.EventKind
	d := NewDownloader(srv.Client(), func(ctx context.Context) (*storage.Live, error) {
		return live, nil
	}, func(e domain.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})

	dl := d.Download(context.Background(), 4, srv.URL+"/4.ts", true)
	exists, err := dl.Wait(context.Background())
	if err != nil {
		t.Fatalf("download settled with error: %v", err)
	}
	if !exists {
		t.Error("write failure cleared the downloaded marker")
	}

	mu.Lock()
	defer mu.Unlock()
	var sawWriteFailure bool
	for _, k := range kinds {
		if k == domain.EventChunkWriteFailed {
			sawWriteFailure = true
		}
	}
	if !sawWriteFailure {
		t.Error("no chunk write failure event emitted")
	}
}

func TestChunkExt(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://host/live/42.ts", "ts"},
		{"https://host/live/42.aac?token=abc", "aac"},
		{"https://host/live/42", "ts"},
		{"https://host/live/42.m4s#frag", "m4s"},
	}
	for _, tt := range tests {
		if got := chunkExt(tt.url); got != tt.want {
			t.Errorf("chunkExt(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestWaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	resolver, _ := testLiveResolver(t)
	d := NewDownloader(srv.Client(), resolver, func(domain.Event) {})
	dl := d.Download(context.Background(), 1, srv.URL+"/1.ts", true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := dl.Wait(ctx); err == nil {
		t.Fatal("Wait returned before the download settled")
	}
}
