package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPResponseWriter implements ResponseWriter on top of net/http. Each
// chunk is flushed, so HTTP/1.1 clients see chunked transfer encoding and
// HTTP/2 clients see one DATA frame per chunk.
type HTTPResponseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	sendTimeout time.Duration

	status    int
	committed bool
	finished  bool
	failed    bool
	bytes     int64
}

func NewResponseWriter(w http.ResponseWriter) *HTTPResponseWriter {
	return &HTTPResponseWriter{w: w, rc: http.NewResponseController(w)}
}

// SetSendTimeout bounds every body write and flush. A peer that stops
// reading makes the write fail with ErrSendFailed once d elapses. Zero
// leaves writes unbounded apart from the server's WriteTimeout.
func (r *HTTPResponseWriter) SetSendTimeout(d time.Duration) { r.sendTimeout = d }

func (r *HTTPResponseWriter) SetStatus(code int) {
	if !r.committed {
		r.status = code
	}
}

func (r *HTTPResponseWriter) SetType(contentType string) {
	r.SetHeader("Content-Type", contentType)
}

func (r *HTTPResponseWriter) SetHeader(name, value string) {
	if !r.committed {
		r.w.Header().Set(name, value)
	}
}

func (r *HTTPResponseWriter) commit() {
	if r.committed {
		return
	}
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.w.Header().Get("Content-Type") == "" {
		// Stop net/http from sniffing; handlers that care set a type.
		r.w.Header().Set("Content-Type", "text/html")
	}
	r.w.WriteHeader(r.status)
	r.committed = true
}

func (r *HTTPResponseWriter) SendChunk(p []byte) error {
	if r.finished {
		return ErrResponseFinished
	}
	r.commit()
	if len(p) == 0 {
		r.finished = true
		return r.flush()
	}
	if err := r.write(p); err != nil {
		return err
	}
	return r.flush()
}

// armDeadline pushes the connection write deadline one send timeout ahead.
// After a failed send nothing more is written.
func (r *HTTPResponseWriter) armDeadline() error {
	if r.failed {
		return fmt.Errorf("%w: connection already failed", ErrSendFailed)
	}
	if r.sendTimeout > 0 {
		if err := r.rc.SetWriteDeadline(time.Now().Add(r.sendTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			r.failed = true
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
	}
	return nil
}

func (r *HTTPResponseWriter) write(p []byte) error {
	if err := r.armDeadline(); err != nil {
		return err
	}
	n, err := r.w.Write(p)
	r.bytes += int64(n)
	if err != nil {
		r.failed = true
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (r *HTTPResponseWriter) flush() error {
	if err := r.armDeadline(); err != nil {
		return err
	}
	if err := r.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		r.failed = true
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (r *HTTPResponseWriter) Send(body []byte) error {
	if r.finished {
		return ErrResponseFinished
	}
	if !r.committed {
		r.w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	r.commit()
	r.finished = true
	if len(body) == 0 {
		return nil
	}
	return r.write(body)
}

func (r *HTTPResponseWriter) Committed() bool { return r.committed }

// Status returns the status sent, or the one that will be sent.
func (r *HTTPResponseWriter) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *HTTPResponseWriter) BytesWritten() int64 { return r.bytes }

// SetReadDeadline bounds the remaining request body reads. It returns
// http.ErrNotSupported when the underlying writer has no connection.
func (r *HTTPResponseWriter) SetReadDeadline(t time.Time) error {
	return r.rc.SetReadDeadline(t)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *HTTPResponseWriter) Unwrap() http.ResponseWriter { return r.w }
