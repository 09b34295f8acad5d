package domain

// ChunksFromPlaylist folds a parsed playlist into chunk metadata. Ids are
// mediaSequence + track position; start times accumulate track durations on
// top of the playlist's program-date-time anchor minus sessionStart. Ids
// already present in known are skipped. Returns nil when the playlist lacks
// either header field.
func ChunksFromPlaylist(pl *Playlist, known map[int64]ChunkMeta, sessionStart float64) []ChunkMeta {
	if pl == nil || pl.Extension.MediaSequence == nil || pl.Extension.ProgramDateTime == nil {
		return nil
	}
	base := *pl.Extension.MediaSequence
	anchor := *pl.Extension.ProgramDateTime - sessionStart

	var out []ChunkMeta
	accumulated := 0.0
	for i, track := range pl.Tracks {
		id := base + int64(i)
		startedAt := anchor + accumulated
		accumulated += track.Duration
		if _, ok := known[id]; ok {
			continue
		}
		out = append(out, ChunkMeta{ID: id, Duration: track.Duration, StartedAt: startedAt})
	}
	return out
}

// MergeChunkMeta copies every entry of src into dst.
func MergeChunkMeta(dst map[int64]ChunkMeta, src map[int64]ChunkMeta) {
	for id, meta := range src {
		dst[id] = meta
	}
}
