package app

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("CACHE_ROOT", "")
	t.Setenv("MEMBUF_SIZE_BYTES", "")

	cfg := LoadConfig()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.CacheRoot != "data" {
		t.Fatalf("expected default cache root, got %q", cfg.CacheRoot)
	}
	if cfg.MemBufSizeBytes != 256<<20 {
		t.Fatalf("expected default membuf size, got %d", cfg.MemBufSizeBytes)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MEMBUF_SIZE_BYTES", "1024")
	t.Setenv("RECORD_RATE_PER_MIN", "10")

	cfg := LoadConfig()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level should be lowercased, got %q", cfg.LogLevel)
	}
	if cfg.MemBufSizeBytes != 1024 {
		t.Fatalf("expected 1024, got %d", cfg.MemBufSizeBytes)
	}
	if cfg.RecordRatePerMin != 10 {
		t.Fatalf("expected 10, got %d", cfg.RecordRatePerMin)
	}
}

func TestGetEnvInt64Invalid(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  int64
	}{
		{"empty", "", 42},
		{"garbage", "abc", 42},
		{"negative", "-5", 42},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LIVEREC_TEST_INT", tc.value)
			if got := getEnvInt64("LIVEREC_TEST_INT", 42); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
