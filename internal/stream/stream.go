// Package stream writes a live text response to an HTTP client.
//
// A Sink sits between the chat relay and the http.ResponseWriter. On the
// happy path it passes chunks through unchanged and flushes each one. It
// also remembers whether the status line has gone out, and it ends the
// response in exactly one of two ways: Close (clean end of body) or Fail
// (connection torn down so the client sees a truncated response). Neither
// terminal action touches headers or status.
package stream

import (
	"errors"
	"io"
	"net/http"
	"time"
)

// State is where a Sink is in its lifecycle.
type State int

const (
	// StatePending: nothing sent yet, a normal error response is still possible.
	StatePending State = iota
	// StateOpen: status 200 and headers are on the wire, chunks may follow.
	StateOpen
	// StateClosed: the body ended cleanly.
	StateClosed
	// StateFailed: the response was aborted mid-body.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotOpen is returned by Write outside StateOpen.
var ErrNotOpen = errors.New("stream: sink is not open")

// AbortHandler is the default Fail action. Panicking with
// http.ErrAbortHandler makes net/http drop the connection without writing
// the terminating chunk, and without logging a stack trace.
func AbortHandler() {
	panic(http.ErrAbortHandler)
}

// Sink is a one-shot streaming response. It is used by the single goroutine
// serving the request.
type Sink struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	abort func()

	state   State
	written int64
	err     error
}

// Option configures a Sink.
type Option func(*Sink)

// WithAbort replaces the action Fail takes after recording the failure.
// Tests use it to observe a failure without a panic.
func WithAbort(fn func()) Option {
	return func(s *Sink) { s.abort = fn }
}

// NewSink wraps w. Nothing is written until Open.
func NewSink(w http.ResponseWriter, opts ...Option) *Sink {
	s := &Sink{
		w:     w,
		rc:    http.NewResponseController(w),
		abort: AbortHandler,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open commits the response: headers, status 200 and an immediate flush,
// before any chunk is available. A second call is a no-op.
//
// The server-wide write timeout is lifted for this response since a model
// answer can legitimately take longer than any fixed deadline; cancellation
// comes from the client going away instead.
func (s *Sink) Open(contentType string) error {
	if s.state != StatePending {
		return nil
	}

	h := s.w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	// Stops nginx-style proxies from buffering the whole answer.
	h.Set("X-Accel-Buffering", "no")

	// Not every ResponseWriter supports deadlines (httptest doesn't).
	_ = s.rc.SetWriteDeadline(time.Time{})

	s.w.WriteHeader(http.StatusOK)
	s.state = StateOpen

	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Write sends one chunk verbatim and flushes it. The error, if any, is the
// transport's: the caller decides whether it means "client left".
func (s *Sink) Write(chunk string) error {
	if s.state != StateOpen {
		return ErrNotOpen
	}
	if chunk == "" {
		return nil
	}

	n, err := io.WriteString(s.w, chunk)
	s.written += int64(n)
	if err != nil {
		return err
	}

	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Close ends the body cleanly. Returning from the handler afterwards lets
// net/http finish the chunked encoding. Close only acts on an open Sink.
func (s *Sink) Close() {
	if s.state == StateOpen {
		s.state = StateClosed
	}
}

// Fail records err and aborts the response. With the default abort action
// this call does not return.
func (s *Sink) Fail(err error) {
	if s.state == StateClosed || s.state == StateFailed {
		return
	}
	s.state = StateFailed
	s.err = err
	s.abort()
}

// State reports the current lifecycle state.
func (s *Sink) State() State { return s.state }

// Committed reports whether the status line has been sent. Once true, the
// only way left to signal a problem is Fail.
func (s *Sink) Committed() bool { return s.state != StatePending }

// Err is the cause passed to Fail.
func (s *Sink) Err() error { return s.err }

// BytesWritten counts body bytes accepted by the transport.
func (s *Sink) BytesWritten() int64 { return s.written }
