package http

import (
	"bytes"
	"net/http"
)

// responseRecorder buffers a handler's response so the middleware can
// decide, after the handler returns, whether to settle and what headers
// to attach before anything reaches the wire. It intentionally does not
// implement http.Flusher: streaming handlers are unsupported, because
// settlement must complete before the first byte is sent.
type responseRecorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

// flush writes the recorded response through to the real writer. This is
// the single point where anything reaches the client.
func (r *responseRecorder) flush(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range r.header {
		dst[key] = values
	}
	w.WriteHeader(r.status)
	if r.body.Len() > 0 {
		w.Write(r.body.Bytes())
	}
}
