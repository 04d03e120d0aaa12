package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/levkk/rwf/internal/config"
)

// encodingWriter is an io.Writer that can be closed.
type encodingWriter interface {
	io.Writer
	Close() error
}

// countWriter wraps an io.Writer and counts bytes written.
type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// pooledZstdWriter returns its encoder to the pool on Close.
type pooledZstdWriter struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (pw *pooledZstdWriter) Write(p []byte) (int, error) {
	return pw.enc.Write(p)
}

func (pw *pooledZstdWriter) Close() error {
	err := pw.enc.Close()
	pw.pool.Put(pw.enc)
	return err
}

// AlgorithmMetrics tracks compression totals for one algorithm.
type AlgorithmMetrics struct {
	BytesIn  atomic.Int64
	BytesOut atomic.Int64
	Count    atomic.Int64
}

// AlgorithmSnapshot is the JSON form of AlgorithmMetrics.
type AlgorithmSnapshot struct {
	BytesIn  int64 `json:"bytes_in"`
	BytesOut int64 `json:"bytes_out"`
	Count    int64 `json:"count"`
}

// encodingPref is a parsed Accept-Encoding entry.
type encodingPref struct {
	encoding string
	quality  float64
}

// algoOrder is the server-preferred algorithm order.
var algoOrder = []string{"br", "zstd", "gzip"}

// Compressor negotiates and applies response compression.
type Compressor struct {
	level        int
	minSize      int
	contentTypes map[string]bool
	metrics      map[string]*AlgorithmMetrics
	zstdPool     sync.Pool
}

// NewCompressor creates a compressor from config. A zero level means
// the encoder default; responses under MinSize stay uncompressed.
func NewCompressor(cfg config.CompressionConfig) *Compressor {
	c := &Compressor{
		level:        cfg.Level,
		minSize:      cfg.MinSize,
		contentTypes: make(map[string]bool),
		metrics:      make(map[string]*AlgorithmMetrics),
	}

	if c.level <= 0 || c.level > 11 {
		c.level = 6
	}
	if c.minSize <= 0 {
		c.minSize = 1024
	}

	for _, algo := range algoOrder {
		c.metrics[algo] = &AlgorithmMetrics{}
	}

	if len(cfg.Types) > 0 {
		for _, ct := range cfg.Types {
			c.contentTypes[strings.ToLower(ct)] = true
		}
	} else {
		for _, ct := range []string{
			"text/html", "text/css", "text/plain", "text/javascript",
			"application/javascript", "application/json",
			"application/xml", "text/xml", "image/svg+xml",
		} {
			c.contentTypes[ct] = true
		}
	}

	zstdLevel := zstd.EncoderLevelFromZstd(c.level)
	c.zstdPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
			return enc
		},
	}

	return c
}

// Middleware returns a middleware that compresses responses the client
// accepts. Small responses and non-compressible content types pass
// through untouched.
func (c *Compressor) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			algo := c.NegotiateEncoding(r)
			if algo == "" {
				next.ServeHTTP(w, r)
				return
			}
			cw := newCompressingWriter(w, c, algo)
			next.ServeHTTP(cw, r)
			cw.Close()
		})
	}
}

// parseAcceptEncoding parses the Accept-Encoding header per
// RFC 7231 section 5.3.4.
func parseAcceptEncoding(header string) []encodingPref {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	prefs := make([]encodingPref, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		enc := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			enc = strings.TrimSpace(part[:idx])
			params := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(params, "q=") {
				if v, err := strconv.ParseFloat(params[2:], 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, encodingPref{encoding: enc, quality: q})
	}
	return prefs
}

// NegotiateEncoding selects the compression algorithm for the request,
// or "" when the client accepts none.
func (c *Compressor) NegotiateEncoding(r *http.Request) string {
	prefs := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))
	if len(prefs) == 0 {
		return ""
	}

	clientPrefs := make(map[string]float64, len(prefs))
	hasWildcard := false
	wildcardQ := 0.0
	for _, p := range prefs {
		if p.encoding == "*" {
			hasWildcard = true
			wildcardQ = p.quality
		} else {
			clientPrefs[p.encoding] = p.quality
		}
	}

	bestAlgo := ""
	bestQ := -1.0
	for _, algo := range algoOrder {
		q, explicit := clientPrefs[algo]
		if !explicit {
			if !hasWildcard {
				continue
			}
			q = wildcardQ
		}
		if q <= 0 {
			continue
		}
		// Higher quality wins; ties go to server preference order.
		if q > bestQ {
			bestQ = q
			bestAlgo = algo
		}
	}
	return bestAlgo
}

func (c *Compressor) newEncodingWriter(w io.Writer, algo string) encodingWriter {
	switch algo {
	case "br":
		return brotli.NewWriterLevel(w, c.level)
	case "zstd":
		enc := c.zstdPool.Get().(*zstd.Encoder)
		enc.Reset(w)
		return &pooledZstdWriter{enc: enc, pool: &c.zstdPool}
	default:
		level := c.level
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}
		gz, _ := gzip.NewWriterLevel(w, level)
		return gz
	}
}

// Stats returns per-algorithm compression totals.
func (c *Compressor) Stats() map[string]AlgorithmSnapshot {
	snap := make(map[string]AlgorithmSnapshot, len(c.metrics))
	for algo, m := range c.metrics {
		snap[algo] = AlgorithmSnapshot{
			BytesIn:  m.BytesIn.Load(),
			BytesOut: m.BytesOut.Load(),
			Count:    m.Count.Load(),
		}
	}
	return snap
}

func (c *Compressor) isCompressibleType(contentType string) bool {
	ct := contentType
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return c.contentTypes[strings.ToLower(ct)]
}

// compressingWriter buffers the response until it knows whether to
// compress: the content type must be compressible and the body must
// reach the minimum size.
type compressingWriter struct {
	http.ResponseWriter
	compressor    *Compressor
	algorithm     string
	encWriter     encodingWriter
	countWriter   *countWriter
	headerWritten bool
	statusCode    int
	buf           []byte
	decided       bool
	compressing   bool
	bytesIn       int64
}

func newCompressingWriter(w http.ResponseWriter, c *Compressor, algo string) *compressingWriter {
	return &compressingWriter{
		ResponseWriter: w,
		compressor:     c,
		algorithm:      algo,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader records the status. The header goes out once the
// compression decision is made; Write and Close decide.
func (w *compressingWriter) WriteHeader(code int) {
	if w.headerWritten {
		return
	}
	w.statusCode = code

	if w.decided {
		w.headerWritten = true
		if w.compressing {
			w.setCompressionHeaders()
		}
		w.ResponseWriter.WriteHeader(code)
		return
	}

	ct := w.ResponseWriter.Header().Get("Content-Type")
	if ct != "" && !w.compressor.isCompressibleType(ct) {
		w.decided = true
		w.compressing = false
		w.headerWritten = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *compressingWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.buf = append(w.buf, b...)

		ct := w.ResponseWriter.Header().Get("Content-Type")
		if ct != "" && !w.compressor.isCompressibleType(ct) {
			w.decided = true
			w.compressing = false
			w.flushBuffer()
			return len(b), nil
		}

		if len(w.buf) >= w.compressor.minSize {
			w.decided = true
			w.compressing = true
			w.flushBuffer()
			return len(b), nil
		}
		return len(b), nil
	}

	if w.compressing && w.encWriter != nil {
		w.bytesIn += int64(len(b))
		return w.encWriter.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *compressingWriter) setCompressionHeaders() {
	w.ResponseWriter.Header().Del("Content-Length")
	w.ResponseWriter.Header().Set("Content-Encoding", w.algorithm)
	w.ResponseWriter.Header().Add("Vary", "Accept-Encoding")
}

func (w *compressingWriter) flushBuffer() {
	if !w.headerWritten {
		w.headerWritten = true
		if w.compressing {
			w.setCompressionHeaders()
			cw := &countWriter{w: w.ResponseWriter}
			w.countWriter = cw
			w.encWriter = w.compressor.newEncodingWriter(cw, w.algorithm)
		}
		w.ResponseWriter.WriteHeader(w.statusCode)
	}

	if len(w.buf) > 0 {
		if w.compressing && w.encWriter != nil {
			w.bytesIn += int64(len(w.buf))
			w.encWriter.Write(w.buf)
		} else {
			w.ResponseWriter.Write(w.buf)
		}
		w.buf = nil
	}
}

// Close finishes the response. Must be called after the handler
// returns; an undecided buffer goes out uncompressed.
func (w *compressingWriter) Close() {
	if !w.decided {
		w.decided = true
		w.compressing = false
		w.flushBuffer()
		return
	}
	if w.compressing && w.encWriter != nil {
		w.encWriter.Close()
		if m, ok := w.compressor.metrics[w.algorithm]; ok {
			m.BytesIn.Add(w.bytesIn)
			if w.countWriter != nil {
				m.BytesOut.Add(w.countWriter.n)
			}
			m.Count.Add(1)
		}
	}
}

// Flush implements http.Flusher. Flushing forces the compression
// decision on whatever is buffered.
func (w *compressingWriter) Flush() {
	if !w.decided {
		w.decided = true
		w.compressing = len(w.buf) >= w.compressor.minSize
		w.flushBuffer()
	}
	if w.compressing && w.encWriter != nil {
		if f, ok := w.encWriter.(interface{ Flush() error }); ok {
			f.Flush()
		}
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
