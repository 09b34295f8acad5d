package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "liverec",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveRecorders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "liverec",
		Name:      "active_recorders",
		Help:      "Number of rooms currently being recorded.",
	})

	PlaylistPollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "playlist_polls_total",
		Help:      "Total playlist poll cycles across all recorders.",
	})

	PlaylistNotFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "playlist_not_found_total",
		Help:      "Total playlist requests answered with 404 (broadcast not yet available).",
	})

	PlaylistParseFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "playlist_parse_failures_total",
		Help:      "Total playlist bodies that failed to parse.",
	})

	ChunksDownloadedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "chunks_downloaded_total",
		Help:      "Total chunks downloaded, by fetch confidence.",
	}, []string{"confident"})

	ChunkDownloadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "chunk_download_failures_total",
		Help:      "Total chunk downloads that exhausted all retries.",
	})

	ChunkRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "chunk_retries_total",
		Help:      "Total additional chunk fetch attempts beyond the first.",
	})

	HeuristicMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "heuristic_misses_total",
		Help:      "Total speculative chunk fetches answered with 404 (segment does not exist).",
	})

	ChunkBytesWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "chunk_bytes_written_total",
		Help:      "Total chunk bytes persisted to durable storage.",
	})

	ChunkWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "chunk_write_failures_total",
		Help:      "Total chunk persistence failures.",
	})

	DemuxSegmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "demux_segments_total",
		Help:      "Total transport-stream segments remuxed into fragments.",
	})

	DemuxFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "demux_failures_total",
		Help:      "Total demux pipeline failures (fatal to the owning player).",
	})

	PlayerSeeksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "player_seeks_total",
		Help:      "Total player seek requests.",
	})

	MemBufHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "membuf_hits_total",
		Help:      "Chunk reads served from the in-memory buffer.",
	})

	MemBufMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "membuf_misses_total",
		Help:      "Chunk reads that fell through to disk.",
	})

	MemBufEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liverec",
		Name:      "membuf_evictions_total",
		Help:      "Chunks evicted from the in-memory buffer.",
	})

	MemBufSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "liverec",
		Name:      "membuf_size_bytes",
		Help:      "Current size of the in-memory chunk buffer.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveRecorders,
		PlaylistPollsTotal,
		PlaylistNotFoundTotal,
		PlaylistParseFailuresTotal,
		ChunksDownloadedTotal,
		ChunkDownloadFailuresTotal,
		ChunkRetriesTotal,
		HeuristicMissesTotal,
		ChunkBytesWrittenTotal,
		ChunkWriteFailuresTotal,
		DemuxSegmentsTotal,
		DemuxFailuresTotal,
		PlayerSeeksTotal,
		MemBufHitsTotal,
		MemBufMissesTotal,
		MemBufEvictionsTotal,
		MemBufSizeBytes,
	)
}
