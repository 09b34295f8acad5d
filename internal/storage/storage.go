package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"liverec/internal/domain"
	"liverec/internal/metrics"
)

// Root is the top of the durable cache tree. One live session occupies
// <root>/<roomId>/<liveId>/{playlists,chunks,chunks-info}.
type Root struct {
	dir    string
	membuf *MemBuffer
}

func NewRoot(dir string, membuf *MemBuffer) *Root {
	return &Root{dir: dir, membuf: membuf}
}

func (r *Root) Dir() string {
	return r.dir
}

// Live addresses the cache directory of one live session.
func (r *Root) Live(session domain.Session) *Live {
	dir := filepath.Join(r.dir,
		strconv.FormatInt(int64(session.Room), 10),
		strconv.FormatInt(int64(session.Live), 10),
	)
	return &Live{session: session, dir: dir, membuf: r.membuf}
}

type Live struct {
	session domain.Session
	dir     string
	membuf  *MemBuffer
}

func (l *Live) Dir() string           { return l.dir }
func (l *Live) chunksDir() string     { return filepath.Join(l.dir, "chunks") }
func (l *Live) playlistsDir() string  { return filepath.Join(l.dir, "playlists") }
func (l *Live) chunksInfoDir() string { return filepath.Join(l.dir, "chunks-info") }

// Init creates the session's directory tree.
func (l *Live) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, dir := range []string{l.dir, l.playlistsDir(), l.chunksDir(), l.chunksInfoDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("init cache dir %s: %w", dir, err)
		}
	}
	return nil
}

// WriteChunk persists one chunk's bytes, named <id>.<ext>. It creates the
// chunks directory itself so downloads do not depend on Init having
// succeeded.
func (l *Live) WriteChunk(id int64, ext string, data []byte) error {
	if err := os.MkdirAll(l.chunksDir(), 0o755); err != nil {
		metrics.ChunkWriteFailuresTotal.Inc()
		return fmt.Errorf("write chunk %d: %w", id, err)
	}
	name := strconv.FormatInt(id, 10)
	if ext != "" {
		name += "." + ext
	}
	path := filepath.Join(l.chunksDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		metrics.ChunkWriteFailuresTotal.Inc()
		return fmt.Errorf("write chunk %d: %w", id, err)
	}
	metrics.ChunkBytesWrittenTotal.Add(float64(len(data)))
	if l.membuf != nil {
		l.membuf.Put(path, data)
	}
	return nil
}

// ReadChunk returns one chunk's bytes, served from the in-memory buffer
// when possible. Returns domain.ErrNotFound when no file exists for the id.
func (l *Live) ReadChunk(id int64) ([]byte, error) {
	path := filepath.Join(l.chunksDir(), strconv.FormatInt(id, 10)+".ts")
	if l.membuf != nil {
		if data, ok := l.membuf.Get(path); ok {
			return data, nil
		}
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// The extension follows the source url; fall back to a scan.
		matches, _ := filepath.Glob(filepath.Join(l.chunksDir(), strconv.FormatInt(id, 10)+".*"))
		for _, match := range matches {
			if data, err = os.ReadFile(match); err == nil {
				path = match
				break
			}
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if l.membuf != nil {
		l.membuf.Put(path, data)
	}
	return data, nil
}

// WritePlaylistSnapshot persists one poll's raw+parsed playlist, named by
// capture timestamp.
func (l *Live) WritePlaylistSnapshot(capturedAt time.Time, snap domain.PlaylistSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal playlist snapshot: %w", err)
	}
	name := strconv.FormatInt(capturedAt.UnixMilli(), 10) + ".json"
	if err := os.WriteFile(filepath.Join(l.playlistsDir(), name), data, 0o644); err != nil {
		return fmt.Errorf("write playlist snapshot: %w", err)
	}
	return nil
}

// WriteChunkMeta caches one chunk's probed metadata as chunks-info/<id>.json.
func (l *Live) WriteChunkMeta(meta domain.ChunkMeta) error {
	if err := os.MkdirAll(l.chunksInfoDir(), 0o755); err != nil {
		return fmt.Errorf("write chunk meta %d: %w", meta.ID, err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chunk meta %d: %w", meta.ID, err)
	}
	name := strconv.FormatInt(meta.ID, 10) + ".json"
	if err := os.WriteFile(filepath.Join(l.chunksInfoDir(), name), data, 0o644); err != nil {
		return fmt.Errorf("write chunk meta %d: %w", meta.ID, err)
	}
	return nil
}

var chunkFileRe = regexp.MustCompile(`^([0-9]+)\.ts$`)

// ChunkFile is one persisted chunk discovered on disk.
type ChunkFile struct {
	ID   int64
	Path string
}

// ChunkFiles lists the persisted chunks of this session. A missing chunks
// directory yields an empty list, not an error.
func (l *Live) ChunkFiles() ([]ChunkFile, error) {
	entries, err := os.ReadDir(l.chunksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []ChunkFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := chunkFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, ChunkFile{ID: id, Path: filepath.Join(l.chunksDir(), entry.Name())})
	}
	return files, nil
}

// CachedChunksMeta reads every chunks-info record. Corrupt or unreadable
// records are skipped.
func (l *Live) CachedChunksMeta() map[int64]domain.ChunkMeta {
	out := make(map[int64]domain.ChunkMeta)
	entries, err := os.ReadDir(l.chunksInfoDir())
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.chunksInfoDir(), entry.Name()))
		if err != nil {
			continue
		}
		var meta domain.ChunkMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out[meta.ID] = meta
	}
	return out
}
