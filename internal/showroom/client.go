package showroom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"liverec/internal/domain"
)

// Client talks to the live metadata service (streaming urls, live info).
type Client struct {
	baseURL string
	http    *http.Client
}

// streamingURLResponse mirrors the service JSON. streaming_url_list is
// absent while the room is not live.
type streamingURLResponse struct {
	StreamingURLList []streamingURLEntry `json:"streaming_url_list"`
}

type streamingURLEntry struct {
	IsDefault bool            `json:"is_default"`
	URL       string          `json:"url"`
	Label     string          `json:"label"`
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Quality   json.RawMessage `json:"quality"`
}

type liveInfoResponse struct {
	LiveID domain.LiveID `json:"live_id"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// StreamingEntries returns the candidate streams for a room. A nil slice
// with nil error means the broadcast has not started.
func (c *Client) StreamingEntries(ctx context.Context, room domain.RoomID) ([]domain.StreamingEntry, error) {
	query := url.Values{"room_id": {strconv.FormatInt(int64(room), 10)}}
	var payload streamingURLResponse
	if err := c.getJSON(ctx, "/live/streaming_url", query, &payload); err != nil {
		return nil, err
	}
	if payload.StreamingURLList == nil {
		return nil, nil
	}
	entries := make([]domain.StreamingEntry, 0, len(payload.StreamingURLList))
	for _, raw := range payload.StreamingURLList {
		entry := domain.StreamingEntry{
			URL:       raw.URL,
			Type:      raw.Type,
			IsDefault: raw.IsDefault,
		}
		// quality is only comparable when the service sent a number.
		if q, err := strconv.ParseInt(strings.TrimSpace(string(raw.Quality)), 10, 64); err == nil {
			quality := q
			entry.Quality = &quality
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LiveID returns the current live session id for a room; zero while the
// service has not assigned one.
func (c *Client) LiveID(ctx context.Context, room domain.RoomID) (domain.LiveID, error) {
	query := url.Values{"room_id": {strconv.FormatInt(int64(room), 10)}}
	var payload liveInfoResponse
	if err := c.getJSON(ctx, "/live/live_info", query, &payload); err != nil {
		return 0, err
	}
	return payload.LiveID, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", path, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
