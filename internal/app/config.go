package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	CacheRoot        string
	MetadataBaseURL  string
	FFProbePath      string
	MemBufSizeBytes  int64
	RecordRatePerMin int // record-room requests allowed per minute; 0 = unlimited
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		CacheRoot:        getEnv("CACHE_ROOT", "data"),
		MetadataBaseURL:  getEnv("METADATA_BASE_URL", "https://www.showroom-live.com/api"),
		FFProbePath:      getEnv("FFPROBE_PATH", "ffprobe"),
		MemBufSizeBytes:  getEnvInt64("MEMBUF_SIZE_BYTES", 256<<20),
		RecordRatePerMin: int(getEnvInt64("RECORD_RATE_PER_MIN", 0)),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
