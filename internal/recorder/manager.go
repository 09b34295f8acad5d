package recorder

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"liverec/internal/domain"
	"liverec/internal/metrics"
	"liverec/internal/storage"
)

// ManagerConfig wires the recorder factory.
type ManagerConfig struct {
	Metadata     MetadataClient
	Storage      *storage.Root
	HTTPClient   *http.Client
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Manager keeps at most one Recorder per room.
type Manager struct {
	cfg ManagerConfig

	mu        sync.Mutex
	recorders map[domain.RoomID]*Recorder
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:       cfg,
		recorders: make(map[domain.RoomID]*Recorder),
	}
}

// Record returns the room's recorder, creating and starting one if none
// is running yet.
func (m *Manager) Record(room domain.RoomID) *Recorder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recorders[room]; ok {
		return rec
	}
	rec := New(Config{
		Room:         room,
		Metadata:     m.cfg.Metadata,
		Storage:      m.cfg.Storage,
		HTTPClient:   m.cfg.HTTPClient,
		Logger:       m.cfg.Logger,
		PollInterval: m.cfg.PollInterval,
	})
	m.recorders[room] = rec
	metrics.ActiveRecorders.Inc()
	rec.Start()
	return rec
}

// AwaitLiveID starts recording the room's current live and waits for its
// session id, bounded by ctx. Zero with nil error means the id was still
// unresolved when ctx expired.
func (m *Manager) AwaitLiveID(ctx context.Context, room domain.RoomID) (domain.LiveID, error) {
	rec := m.Record(room)
	select {
	case <-rec.LiveReady():
		id, _ := rec.LiveID()
		return id, nil
	case <-ctx.Done():
		if id, ok := rec.LiveID(); ok {
			return id, nil
		}
		return 0, nil
	}
}

// Get returns the room's recorder, if one is running.
func (m *Manager) Get(room domain.RoomID) (*Recorder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recorders[room]
	return rec, ok
}

// LiveID reports the room's resolved live session id, if a recorder is
// running and the metadata service has assigned one.
func (m *Manager) LiveID(room domain.RoomID) (domain.LiveID, bool) {
	rec, ok := m.Get(room)
	if !ok {
		return 0, false
	}
	return rec.LiveID()
}

// Subscribe attaches to the room's event stream. The third return is false
// when no recorder is running for the room.
func (m *Manager) Subscribe(room domain.RoomID) (<-chan domain.Event, func(), bool) {
	rec, ok := m.Get(room)
	if !ok {
		return nil, nil, false
	}
	ch, cancel := rec.Subscribe()
	return ch, cancel, true
}

// Rooms lists the rooms currently being recorded, sorted.
func (m *Manager) Rooms() []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]domain.RoomID, 0, len(m.recorders))
	for room := range m.recorders {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// Destroy stops and forgets the room's recorder.
func (m *Manager) Destroy(room domain.RoomID) bool {
	m.mu.Lock()
	rec, ok := m.recorders[room]
	delete(m.recorders, room)
	m.mu.Unlock()
	if !ok {
		return false
	}
	metrics.ActiveRecorders.Dec()
	rec.Destroy()
	return true
}

// DestroyAll stops every recorder. Used on shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	recorders := m.recorders
	m.recorders = make(map[domain.RoomID]*Recorder)
	m.mu.Unlock()
	for _, rec := range recorders {
		metrics.ActiveRecorders.Dec()
		rec.Destroy()
	}
}
