package domain

import "testing"

func int64p(v int64) *int64       { return &v }
func float64p(v float64) *float64 { return &v }

func TestChunksFromPlaylist(t *testing.T) {
	pl := &Playlist{
		Tracks: []PlaylistTrack{
			{URL: "10.ts", Duration: 2},
			{URL: "11.ts", Duration: 1.5},
			{URL: "12.ts", Duration: 2},
		},
		Extension: PlaylistExtension{
			MediaSequence:   int64p(10),
			ProgramDateTime: float64p(1000),
		},
	}

	got := ChunksFromPlaylist(pl, nil, 980)
	want := []ChunkMeta{
		{ID: 10, Duration: 2, StartedAt: 20},
		{ID: 11, Duration: 1.5, StartedAt: 22},
		{ID: 12, Duration: 2, StartedAt: 23.5},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestChunksFromPlaylistSkipsKnown(t *testing.T) {
	pl := &Playlist{
		Tracks: []PlaylistTrack{
			{URL: "10.ts", Duration: 2},
			{URL: "11.ts", Duration: 2},
		},
		Extension: PlaylistExtension{
			MediaSequence:   int64p(10),
			ProgramDateTime: float64p(0),
		},
	}
	known := map[int64]ChunkMeta{10: {ID: 10, Duration: 2}}

	got := ChunksFromPlaylist(pl, known, 0)
	if len(got) != 1 || got[0].ID != 11 {
		t.Fatalf("got %+v, want only chunk 11", got)
	}
	// Start time still accounts for the skipped track's duration.
	if got[0].StartedAt != 2 {
		t.Fatalf("chunk 11 startedAt = %f, want 2", got[0].StartedAt)
	}
}

func TestChunksFromPlaylistRequiresHeaders(t *testing.T) {
	cases := map[string]*Playlist{
		"nil playlist": nil,
		"no media sequence": {
			Tracks:    []PlaylistTrack{{URL: "0.ts", Duration: 2}},
			Extension: PlaylistExtension{ProgramDateTime: float64p(0)},
		},
		"no program date time": {
			Tracks:    []PlaylistTrack{{URL: "0.ts", Duration: 2}},
			Extension: PlaylistExtension{MediaSequence: int64p(0)},
		},
	}
	for name, pl := range cases {
		if got := ChunksFromPlaylist(pl, nil, 0); got != nil {
			t.Fatalf("%s: got %+v, want nil", name, got)
		}
	}
}

func TestMergeChunkMeta(t *testing.T) {
	dst := map[int64]ChunkMeta{1: {ID: 1, Duration: 2}}
	MergeChunkMeta(dst, map[int64]ChunkMeta{
		1: {ID: 1, Duration: 3},
		2: {ID: 2, Duration: 2},
	})
	if len(dst) != 2 {
		t.Fatalf("got %d entries", len(dst))
	}
	if dst[1].Duration != 3 {
		t.Fatalf("entry 1 not overwritten: %+v", dst[1])
	}
}
