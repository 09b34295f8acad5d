package hls

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// ChunkURLTemplate maps a chunk id to its expected URL, derived from one
// known chunk.
type ChunkURLTemplate func(id int64) (string, error)

// DeriveChunkURLTemplate builds a URL template from a sample chunk: the
// sample id is assumed to appear in the file name of the sample URL, and
// earlier (or later) chunks are reached by substituting the id. Fails per
// call when the substitution does not change the name, since that means the
// naming scheme carries no sequence number.
func DeriveChunkURLTemplate(sampleID int64, sampleURL string) (ChunkURLTemplate, error) {
	parsed, err := url.Parse(sampleURL)
	if err != nil {
		return nil, fmt.Errorf("parse sample chunk url: %w", err)
	}
	dir, file := path.Split(parsed.Path)
	sample := strconv.FormatInt(sampleID, 10)

	return func(id int64) (string, error) {
		if id == sampleID {
			return sampleURL, nil
		}
		name := strings.Replace(file, sample, strconv.FormatInt(id, 10), 1)
		if name == file {
			return "", fmt.Errorf("no heuristic url for chunk %d: sample %d (%s) has no sequence number in its name", id, sampleID, sampleURL)
		}
		derived := *parsed
		derived.Path = dir + name
		return derived.String(), nil
	}, nil
}

// ResolveURL resolves a possibly relative playlist reference against the
// playlist's own URL.
func ResolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
