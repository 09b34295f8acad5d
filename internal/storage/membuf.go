package storage

import (
	"container/list"
	"strings"
	"sync"

	"liverec/internal/metrics"
)

// MemBuffer is an LRU in-memory buffer over persisted chunks. It keeps the
// most recently touched chunk files in RAM so that playback near the live
// edge is served without disk I/O.
type MemBuffer struct {
	mu       sync.Mutex
	maxBytes int64
	used     int64
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type memBufEntry struct {
	key  string
	data []byte
}

// NewMemBuffer returns a buffer with the given byte budget, or nil (a
// valid, inert buffer) when the budget is zero.
func NewMemBuffer(maxBytes int64) *MemBuffer {
	if maxBytes <= 0 {
		return nil
	}
	return &MemBuffer{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Put stores chunk data under the given path key, evicting least recently
// used entries while over budget.
func (b *MemBuffer) Put(path string, data []byte) {
	if b == nil || len(data) == 0 {
		return
	}
	size := int64(len(data))
	if size > b.maxBytes {
		return // single chunk exceeds the entire budget
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.items[path]; ok {
		old := el.Value.(*memBufEntry)
		b.used -= int64(len(old.data))
		old.data = data
		b.used += size
		b.order.MoveToFront(el)
		b.evictLocked()
		b.updateMetrics()
		return
	}

	for b.used+size > b.maxBytes && b.order.Len() > 0 {
		b.evictOldestLocked()
	}

	el := b.order.PushFront(&memBufEntry{key: path, data: data})
	b.items[path] = el
	b.used += size
	b.updateMetrics()
}

// Get retrieves chunk data and promotes it in the LRU.
func (b *MemBuffer) Get(path string) ([]byte, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.items[path]
	if !ok {
		metrics.MemBufMissesTotal.Inc()
		return nil, false
	}
	b.order.MoveToFront(el)
	metrics.MemBufHitsTotal.Inc()
	return el.Value.(*memBufEntry).data, true
}

// PurgePrefix drops every entry whose key starts with prefix. Used when a
// session's cache directory is deleted.
func (b *MemBuffer) PurgePrefix(prefix string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, el := range b.items {
		if strings.HasPrefix(key, prefix) {
			b.used -= int64(len(el.Value.(*memBufEntry).data))
			b.order.Remove(el)
			delete(b.items, key)
		}
	}
	b.updateMetrics()
}

// TotalSize returns the current memory usage in bytes.
func (b *MemBuffer) TotalSize() int64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Len returns the number of buffered chunks.
func (b *MemBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *MemBuffer) evictLocked() {
	for b.used > b.maxBytes && b.order.Len() > 0 {
		b.evictOldestLocked()
	}
}

func (b *MemBuffer) evictOldestLocked() {
	el := b.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*memBufEntry)
	b.used -= int64(len(entry.data))
	b.order.Remove(el)
	delete(b.items, entry.key)
	metrics.MemBufEvictionsTotal.Inc()
}

func (b *MemBuffer) updateMetrics() {
	metrics.MemBufSizeBytes.Set(float64(b.used))
}
