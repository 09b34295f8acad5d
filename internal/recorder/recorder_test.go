package recorder

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"liverec/internal/domain"
	"liverec/internal/showroom"
	"liverec/internal/storage"
)

func int64p(v int64) *int64 { return &v }

func TestSelectStream(t *testing.T) {
	tests := []struct {
		name    string
		entries []domain.StreamingEntry
		wantURL string
		wantOK  bool
	}{
		{
			name: "no hls candidate",
			entries: []domain.StreamingEntry{
				{URL: "rtmp://a", Type: "rtmp"},
			},
		},
		{
			name: "default wins over quality",
			entries: []domain.StreamingEntry{
				{URL: "http://hq", Type: "hls", Quality: int64p(1000)},
				{URL: "http://def", Type: "hls", IsDefault: true, Quality: int64p(100)},
			},
			wantURL: "http://def",
			wantOK:  true,
		},
		{
			name: "highest quality without default",
			entries: []domain.StreamingEntry{
				{URL: "http://low", Type: "hls", Quality: int64p(100)},
				{URL: "http://high", Type: "hls", Quality: int64p(1000)},
				{URL: "http://none", Type: "hls"},
			},
			wantURL: "http://high",
			wantOK:  true,
		},
		{
			name: "first candidate as last resort",
			entries: []domain.StreamingEntry{
				{URL: "rtmp://a", Type: "rtmp"},
				{URL: "http://one", Type: "lhls"},
				{URL: "http://two", Type: "hls_all"},
			},
			wantURL: "http://one",
			wantOK:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := SelectStream(tt.entries)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && entry.URL != tt.wantURL {
				t.Errorf("url = %q, want %q", entry.URL, tt.wantURL)
			}
		})
	}
}

const testPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:3
#EXT-X-PROGRAM-DATE-TIME:2026-01-01T00:00:06.000Z
#EXTINF:2.000,
3.ts
#EXTINF:2.000,
4.ts
`

// liveServer fakes both the metadata service and the stream origin. The
// broadcast "starts" after notStartedPolls streaming-url requests, and
// the live id resolves one live-info request later.
type liveServer struct {
	srv             *httptest.Server
	notStartedPolls int32
	urlPolls        atomic.Int32
	infoPolls       atomic.Int32
}

func newLiveServer(t *testing.T, notStartedPolls int32) *liveServer {
	t.Helper()
	ls := &liveServer{notStartedPolls: notStartedPolls}
	mux := http.NewServeMux()
	mux.HandleFunc("/live/streaming_url", func(w http.ResponseWriter, r *http.Request) {
		if ls.urlPolls.Add(1) <= ls.notStartedPolls {
			w.Write([]byte(`{}`))
			return
		}
		fmt.Fprintf(w, `{"streaming_url_list":[
			{"url":"rtmp://ignored","type":"rtmp","is_default":true},
			{"url":"%s/live.m3u8","type":"hls","is_default":true,"quality":1000}
		]}`, ls.srv.URL)
	})
	mux.HandleFunc("/live/live_info", func(w http.ResponseWriter, r *http.Request) {
		if ls.infoPolls.Add(1) == 1 {
			w.Write([]byte(`{"live_id":0}`))
			return
		}
		w.Write([]byte(`{"live_id":7}`))
	})
	mux.HandleFunc("/live.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testPlaylist))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".ts")
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil || id < 3 {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "chunk-%d", id)
	})
	ls.srv = httptest.NewServer(mux)
	t.Cleanup(ls.srv.Close)
	return ls
}

func TestRecorderRecordsCurrentLive(t *testing.T) {
	ls := newLiveServer(t, 2)
	root := storage.NewRoot(t.TempDir(), nil)

	rec := New(Config{
		Room:         281737,
		Metadata:     showroom.NewClient(ls.srv.URL),
		Storage:      root,
		HTTPClient:   ls.srv.Client(),
		PollInterval: 20 * time.Millisecond,
	})
	events, cancel := rec.Subscribe()
	defer cancel()
	rec.Start()
	defer rec.Destroy()

	// The live id must resolve to 7 once the broadcast starts.
	select {
	case <-rec.LiveReady():
	case <-time.After(10 * time.Second):
		t.Fatal("live id never resolved")
	}
	id, ok := rec.LiveID()
	if !ok || id != 7 {
		t.Fatalf("live id = %d,%v, want 7", id, ok)
	}

	// Chunks land under <root>/<room>/<live>/chunks.
	chunkPath := filepath.Join(root.Dir(), "281737", "7", "chunks", "3.ts")
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(chunkPath); err == nil {
			if string(data) != "chunk-3" {
				t.Fatalf("chunk bytes = %q", data)
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(chunkPath); err != nil {
		t.Fatalf("chunk never persisted: %v", err)
	}

	// The event stream carries the broadcast-not-started phase, stamped
	// with the room.
	sawNotStarted := false
	drain := time.After(time.Second)
	for !sawNotStarted {
		select {
		case e := <-events:
			if e.Room != 281737 {
				t.Fatalf("event room = %d, want 281737", e.Room)
			}
			if e.Timestamp.IsZero() {
				t.Fatal("event carries no timestamp")
			}
			if e.Kind == domain.EventNotStarted {
				sawNotStarted = true
			}
		case <-drain:
			t.Fatal("no recorder.not_started event seen")
		}
	}
}

func TestRecorderDestroyClosesSubscribers(t *testing.T) {
	ls := newLiveServer(t, 1000) // never starts
	rec := New(Config{
		Room:         1,
		Metadata:     showroom.NewClient(ls.srv.URL),
		Storage:      storage.NewRoot(t.TempDir(), nil),
		HTTPClient:   ls.srv.Client(),
		PollInterval: 20 * time.Millisecond,
	})
	events, _ := rec.Subscribe()
	rec.Start()
	rec.Destroy()
	rec.Destroy()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-events:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed by Destroy")
		}
	}
}

func TestManagerOneRecorderPerRoom(t *testing.T) {
	ls := newLiveServer(t, 1000)
	m := NewManager(ManagerConfig{
		Metadata:     showroom.NewClient(ls.srv.URL),
		Storage:      storage.NewRoot(t.TempDir(), nil),
		HTTPClient:   ls.srv.Client(),
		PollInterval: 20 * time.Millisecond,
	})
	defer m.DestroyAll()

	a := m.Record(42)
	b := m.Record(42)
	if a != b {
		t.Error("second Record for one room created a new recorder")
	}
	if _, ok := m.Get(42); !ok {
		t.Error("running recorder not found")
	}
	m.Record(7)
	rooms := m.Rooms()
	if len(rooms) != 2 || rooms[0] != 7 || rooms[1] != 42 {
		t.Errorf("rooms = %v, want [7 42]", rooms)
	}

	if !m.Destroy(42) {
		t.Error("destroy of running recorder reported false")
	}
	if m.Destroy(42) {
		t.Error("second destroy reported true")
	}
	if _, ok := m.Get(42); ok {
		t.Error("destroyed recorder still registered")
	}
}
