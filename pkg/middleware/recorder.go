package middleware

import (
	"bytes"
	"net/http"
)

// trackingWriter records the status code and applies stamps to the headers right
// before the status line goes out, so pipeline headers win over handler headers.
type trackingWriter struct {
	http.ResponseWriter
	status int
	stamps []func(http.Header)
}

func newTrackingWriter(w http.ResponseWriter) *trackingWriter {
	return &trackingWriter{ResponseWriter: w}
}

func (t *trackingWriter) stamp(fn func(http.Header)) {
	t.stamps = append(t.stamps, fn)
}

func (t *trackingWriter) WriteHeader(status int) {
	if t.status != 0 {
		return
	}
	t.status = status
	for _, fn := range t.stamps {
		fn(t.Header())
	}
	t.ResponseWriter.WriteHeader(status)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(p)
}

// Flush implements http.Flusher for streaming handlers on the bypass path.
func (t *trackingWriter) Flush() {
	if t.status == 0 {
		t.WriteHeader(http.StatusOK)
	}
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// Status returns the written status code, 200 if the handler wrote nothing.
func (t *trackingWriter) Status() int {
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

// responseRecorder captures a response so it can be cached, or so invalidation
// can run, before anything reaches the client. Bodies larger than maxBytes
// switch the recorder to passthrough: what was buffered is flushed and the rest
// is streamed, and the response is no longer eligible for caching.
type responseRecorder struct {
	underlying  http.ResponseWriter
	header      http.Header
	status      int
	body        bytes.Buffer
	maxBytes    int64
	passthrough bool
	flushed     bool
}

func newResponseRecorder(w http.ResponseWriter, maxBytes int64) *responseRecorder {
	return &responseRecorder{
		underlying: w,
		header:     make(http.Header),
		maxBytes:   maxBytes,
	}
}

// Header implements http.ResponseWriter
func (r *responseRecorder) Header() http.Header {
	if r.passthrough {
		return r.underlying.Header()
	}
	return r.header
}

// WriteHeader implements http.ResponseWriter
func (r *responseRecorder) WriteHeader(status int) {
	if r.status != 0 {
		return
	}
	r.status = status
}

// Write implements http.ResponseWriter
func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.passthrough {
		return r.underlying.Write(p)
	}
	if int64(r.body.Len()+len(p)) <= r.maxBytes {
		return r.body.Write(p)
	}

	// Too large to buffer: hand the response over to the client as is.
	r.flush()
	r.passthrough = true
	return r.underlying.Write(p)
}

// StatusCode returns the recorded status, 200 if none was written.
func (r *responseRecorder) StatusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Body returns the buffered body.
func (r *responseRecorder) Body() []byte {
	return r.body.Bytes()
}

// Complete reports whether the whole response was buffered.
func (r *responseRecorder) Complete() bool {
	return !r.passthrough
}

// flush writes the recorded headers, status and body to the underlying writer.
// Safe to call more than once; only the first call writes.
func (r *responseRecorder) flush() {
	if r.flushed {
		return
	}
	r.flushed = true

	dest := r.underlying.Header()
	for k, vv := range r.header {
		dest[k] = append([]string(nil), vv...)
	}
	r.underlying.WriteHeader(r.StatusCode())
	if r.body.Len() > 0 {
		_, _ = r.underlying.Write(r.body.Bytes())
	}
}
