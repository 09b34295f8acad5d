package hls

import (
	"bytes"
	"fmt"

	"github.com/grafov/m3u8"

	"liverec/internal/domain"
)

// ParsePlaylist decodes a live media playlist into the engine's playlist
// shape: segment tracks plus the media-sequence and program-date-time
// header fields. Master playlists are rejected; this engine only consumes
// live media playlists.
func ParsePlaylist(raw []byte) (*domain.Playlist, error) {
	parsed, listType, err := m3u8.DecodeFrom(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("unexpected playlist type %d", listType)
	}
	media, ok := parsed.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist value %T", parsed)
	}

	pl := &domain.Playlist{}
	seq := int64(media.SeqNo)
	pl.Extension.MediaSequence = &seq

	for _, seg := range media.GetAllSegments() {
		if seg == nil {
			continue
		}
		if pl.Extension.ProgramDateTime == nil && !seg.ProgramDateTime.IsZero() {
			anchor := float64(seg.ProgramDateTime.UnixMilli()) / 1000
			pl.Extension.ProgramDateTime = &anchor
		}
		pl.Tracks = append(pl.Tracks, domain.PlaylistTrack{
			URL:      seg.URI,
			Duration: seg.Duration,
		})
	}
	return pl, nil
}
