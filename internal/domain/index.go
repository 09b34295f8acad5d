package domain

import "sort"

// ChunkIndex is an ordered collection of ChunkMeta sorted by id.
// It is owned by exactly one player instance (or shared read-only with a
// cache loader at construction time); methods are not safe for concurrent
// mutation.
type ChunkIndex struct {
	list []ChunkMeta
	byID map[int64]ChunkMeta
}

// NewChunkIndex builds an index from the given initial metadata.
// Duplicate ids are dropped.
func NewChunkIndex(initial []ChunkMeta) *ChunkIndex {
	idx := &ChunkIndex{byID: make(map[int64]ChunkMeta, len(initial))}
	for _, meta := range initial {
		idx.Insert(meta)
	}
	return idx
}

// Len returns the number of chunks in the index.
func (idx *ChunkIndex) Len() int {
	return len(idx.list)
}

// Insert adds meta at its sorted position. Inserting an id that is already
// present is a no-op; it reports whether the chunk was added.
func (idx *ChunkIndex) Insert(meta ChunkMeta) bool {
	if _, ok := idx.byID[meta.ID]; ok {
		return false
	}
	pos := sort.Search(len(idx.list), func(i int) bool {
		return idx.list[i].ID >= meta.ID
	})
	idx.list = append(idx.list, ChunkMeta{})
	copy(idx.list[pos+1:], idx.list[pos:])
	idx.list[pos] = meta
	idx.byID[meta.ID] = meta
	return true
}

// ByID returns the chunk with the given id.
func (idx *ChunkIndex) ByID(id int64) (ChunkMeta, bool) {
	meta, ok := idx.byID[id]
	return meta, ok
}

// At returns the chunk at position i in id order.
func (idx *ChunkIndex) At(i int) ChunkMeta {
	return idx.list[i]
}

// First returns the chunk with the smallest id.
func (idx *ChunkIndex) First() (ChunkMeta, bool) {
	if len(idx.list) == 0 {
		return ChunkMeta{}, false
	}
	return idx.list[0], true
}

// Last returns the chunk with the largest id.
func (idx *ChunkIndex) Last() (ChunkMeta, bool) {
	if len(idx.list) == 0 {
		return ChunkMeta{}, false
	}
	return idx.list[len(idx.list)-1], true
}

// SeekChunk resolves the chunk a seek to timepoint lands in: the last
// chunk whose start is <= timepoint. A timepoint past every known start
// lands in the last chunk; one before every known start lands in the
// first. Returns false only when the index is empty.
func (idx *ChunkIndex) SeekChunk(timepoint float64) (ChunkMeta, bool) {
	n := len(idx.list)
	if n == 0 {
		return ChunkMeta{}, false
	}
	for i := n - 1; i >= 0; i-- {
		if timepoint >= idx.list[i].StartedAt {
			return idx.list[i], true
		}
	}
	return idx.list[0], true
}

// Duration returns the end timepoint of the last chunk, or 0 for an empty index.
func (idx *ChunkIndex) Duration() float64 {
	if last, ok := idx.Last(); ok {
		return last.EndAt()
	}
	return 0
}
