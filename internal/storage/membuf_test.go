package storage

import (
	"bytes"
	"fmt"
	"testing"
)

func TestMemBufferPutGet(t *testing.T) {
	buf := NewMemBuffer(1024)
	buf.Put("/c/1.ts", []byte("one"))
	buf.Put("/c/2.ts", []byte("two"))

	data, ok := buf.Get("/c/1.ts")
	if !ok || !bytes.Equal(data, []byte("one")) {
		t.Errorf("Get(1) = %q,%v", data, ok)
	}
	if _, ok := buf.Get("/c/3.ts"); ok {
		t.Error("Get returned a value for a missing key")
	}
	if buf.Len() != 2 || buf.TotalSize() != 6 {
		t.Errorf("len=%d size=%d, want 2/6", buf.Len(), buf.TotalSize())
	}
}

func TestMemBufferEvictsLRU(t *testing.T) {
	buf := NewMemBuffer(30)
	for i := 0; i < 3; i++ {
		buf.Put(fmt.Sprintf("/c/%d.ts", i), make([]byte, 10))
	}
	// Touch 0 so 1 becomes the eviction candidate.
	buf.Get("/c/0.ts")
	buf.Put("/c/3.ts", make([]byte, 10))

	if _, ok := buf.Get("/c/1.ts"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := buf.Get("/c/0.ts"); !ok {
		t.Error("recently touched entry was evicted")
	}
	if buf.TotalSize() != 30 {
		t.Errorf("size = %d, want 30", buf.TotalSize())
	}
}

func TestMemBufferOversizedChunkIgnored(t *testing.T) {
	buf := NewMemBuffer(8)
	buf.Put("/c/big.ts", make([]byte, 16))
	if buf.Len() != 0 {
		t.Error("chunk larger than the budget was stored")
	}
}

func TestMemBufferPurgePrefix(t *testing.T) {
	buf := NewMemBuffer(1024)
	buf.Put("/cache/1/7/chunks/0.ts", []byte("a"))
	buf.Put("/cache/1/7/chunks/1.ts", []byte("b"))
	buf.Put("/cache/1/8/chunks/0.ts", []byte("c"))

	buf.PurgePrefix("/cache/1/7/")
	if buf.Len() != 1 {
		t.Errorf("len = %d after purge, want 1", buf.Len())
	}
	if _, ok := buf.Get("/cache/1/8/chunks/0.ts"); !ok {
		t.Error("purge removed an entry outside the prefix")
	}
}

func TestMemBufferNilReceiver(t *testing.T) {
	var buf *MemBuffer
	buf.Put("/x", []byte("x"))
	if _, ok := buf.Get("/x"); ok {
		t.Error("nil buffer returned data")
	}
	if buf.Len() != 0 || buf.TotalSize() != 0 {
		t.Error("nil buffer reports non-zero size")
	}
	buf.PurgePrefix("/")
}
