package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/levkk/rwf/internal/logging"
	"github.com/levkk/rwf/internal/metrics"
	"github.com/levkk/rwf/rack"
)

// statusRecorder captures the status code so request metrics see the
// final status, including the one http.ServeFile picks for file
// responses.
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler adapts HTTP requests to guest calls. It flattens the request
// into environment pairs, submits the call, and writes the decoded
// response back: inline bodies verbatim, file responses via
// http.ServeFile.
type Handler struct {
	app       App
	collector *metrics.Collector
}

// NewHandler builds a handler serving app.
func NewHandler(app App, collector *metrics.Collector) *Handler {
	return &Handler{app: app, collector: collector}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rec, "bad request", http.StatusBadRequest)
		h.collector.RecordRequest(r.Method, rec.code, time.Since(start))
		return
	}

	req := &rack.Request{Env: buildEnv(r, len(body)), Body: body}

	h.collector.RecordActiveCall(1)
	resp, err := h.app.Call(req)
	h.collector.RecordActiveCall(-1)
	h.collector.RecordGuestCall(h.app.Name(), time.Since(start))

	if err != nil {
		h.writeError(rec, err)
		h.collector.RecordRequest(r.Method, rec.code, time.Since(start))
		return
	}
	defer resp.Release()

	for _, kv := range resp.Headers {
		rec.Header().Add(kv.Key, kv.Value)
	}
	if resp.IsFile {
		h.collector.RecordFileBody()
		// ServeFile owns the status line: 200, 206, 304, or 404 when
		// the path has gone away between the guest and here.
		http.ServeFile(rec, r, resp.Path())
	} else {
		rec.WriteHeader(resp.Code)
		if len(resp.Body) > 0 {
			rec.Write(resp.Body)
		}
	}
	h.collector.RecordRequest(r.Method, rec.code, time.Since(start))
}

// writeError converts a guest failure into a plain 500. The rendered
// message and backtrace go to the log, never to the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := errorKind(err)
	h.collector.RecordGuestError(kind)

	fields := []zap.Field{
		zap.String("app", h.app.Name()),
		zap.String("kind", kind),
		zap.Error(err),
	}
	var callErr *rack.CallError
	if errors.As(err, &callErr) && callErr.Guest != nil && callErr.Guest.Backtrace != "" {
		fields = append(fields, zap.String("backtrace", callErr.Guest.Backtrace))
	}
	logging.Error("Guest call failed", fields...)

	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// errorKind labels a guest failure for the error counter.
func errorKind(err error) string {
	var callErr *rack.CallError
	var loadErr *rack.LoadError
	var protoErr *rack.ProtocolError
	switch {
	case errors.As(err, &callErr):
		return callErr.Kind.String()
	case errors.As(err, &loadErr):
		return "load"
	case errors.As(err, &protoErr):
		return "protocol"
	}
	return "internal"
}

// buildEnv flattens the request into CGI-style environment pairs. The
// key set follows the Rack convention: client headers become HTTP_*
// with dashes replaced by underscores and multiple values joined with
// ", ", CONTENT_LENGTH reflects the bytes actually read, and
// CONTENT_TYPE falls back to the form encoding when the client sent
// none.
func buildEnv(r *http.Request, bodyLen int) []rack.KeyValue {
	remoteAddr, remotePort, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteAddr, remotePort = r.RemoteAddr, ""
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-www-form-urlencoded"
	}

	env := []rack.KeyValue{
		{Key: "REQUEST_METHOD", Value: r.Method},
		{Key: "PATH_INFO", Value: r.URL.Path},
		{Key: "REQUEST_PATH", Value: r.URL.Path},
		{Key: "REQUEST_URI", Value: r.URL.RequestURI()},
		{Key: "QUERY_STRING", Value: r.URL.RawQuery},
		{Key: "SERVER_PROTOCOL", Value: r.Proto},
		{Key: "REMOTE_ADDR", Value: remoteAddr},
		{Key: "REMOTE_PORT", Value: remotePort},
		{Key: "CONTENT_LENGTH", Value: strconv.Itoa(bodyLen)},
		{Key: "CONTENT_TYPE", Value: contentType},
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := "HTTP_" + strings.ReplaceAll(strings.ToUpper(name), "-", "_")
		env = append(env, rack.KeyValue{Key: key, Value: strings.Join(r.Header[name], ", ")})
	}

	// Go keeps Host on the request, not in Header.
	env = append(env, rack.KeyValue{Key: "HTTP_HOST", Value: r.Host})

	return env
}
