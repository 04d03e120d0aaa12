package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/levkk/rwf/internal/config"
)

func compressibleHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

func TestNegotiateEncoding(t *testing.T) {
	c := NewCompressor(config.CompressionConfig{})

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"gzip only", "gzip, deflate", "gzip"},
		{"server prefers brotli", "br, gzip", "br"},
		{"client quality wins", "gzip;q=1.0, br;q=0.5", "gzip"},
		{"wildcard", "*", "br"},
		{"zstd", "zstd", "zstd"},
		{"unsupported", "identity", ""},
		{"empty", "", ""},
		{"rejected", "gzip;q=0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Accept-Encoding", tt.header)
			}
			if got := c.NegotiateEncoding(r); got != tt.want {
				t.Errorf("NegotiateEncoding() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompressionGzipRoundTrip(t *testing.T) {
	c := NewCompressor(config.CompressionConfig{MinSize: 10})
	body := strings.Repeat(`{"key":"value"}`, 100)
	h := c.Middleware()(compressibleHandler(body))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	if got := rec.Header().Get("Vary"); got != "Accept-Encoding" {
		t.Errorf("Vary = %q, want Accept-Encoding", got)
	}

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()
	decompressed, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(decompressed) != body {
		t.Error("decompressed body does not match original")
	}
}

func TestCompressionBrotliRoundTrip(t *testing.T) {
	c := NewCompressor(config.CompressionConfig{MinSize: 10})
	body := strings.Repeat("abcdefgh", 200)
	h := c.Middleware()(compressibleHandler(body))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("Content-Encoding = %q, want br", got)
	}
	decompressed, err := io.ReadAll(brotli.NewReader(rec.Body))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(decompressed) != body {
		t.Error("decompressed body does not match original")
	}
}

func TestCompressionZstdRoundTrip(t *testing.T) {
	c := NewCompressor(config.CompressionConfig{MinSize: 10})
	body := strings.Repeat("0123456789", 150)
	h := c.Middleware()(compressibleHandler(body))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "zstd")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "zstd" {
		t.Fatalf("Content-Encoding = %q, want zstd", got)
	}
	zr, err := zstd.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer zr.Close()
	decompressed, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(decompressed) != body {
		t.Error("decompressed body does not match original")
	}
}

func TestCompressionSmallBodyPassthrough(t *testing.T) {
	c := NewCompressor(config.CompressionConfig{MinSize: 1024})
	h := c.Middleware()(compressibleHandler(`{"ok":true}`))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want none for small body", got)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q, want passthrough", rec.Body.String())
	}
}

func TestCompressionSkipsNonCompressibleType(t *testing.T) {
	c := NewCompressor(config.CompressionConfig{MinSize: 10})
	body := strings.Repeat("binarybytes", 100)
	h := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte(body))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want none for image/png", got)
	}
	if rec.Body.String() != body {
		t.Error("body altered for non-compressible type")
	}
}

func TestCompressionStats(t *testing.T) {
	c := NewCompressor(config.CompressionConfig{MinSize: 10})
	body := strings.Repeat("repetitive ", 200)
	h := c.Middleware()(compressibleHandler(body))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	h.ServeHTTP(httptest.NewRecorder(), req)

	stats := c.Stats()
	gz := stats["gzip"]
	if gz.Count != 1 {
		t.Fatalf("gzip count = %d, want 1", gz.Count)
	}
	if gz.BytesIn != int64(len(body)) {
		t.Errorf("bytes in = %d, want %d", gz.BytesIn, len(body))
	}
	if gz.BytesOut <= 0 || gz.BytesOut >= gz.BytesIn {
		t.Errorf("bytes out = %d, want 0 < out < %d for repetitive input", gz.BytesOut, gz.BytesIn)
	}
}
