package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// DoneSentinel terminates every stream.
const DoneSentinel = "[DONE]"

// ErrNoFlusher is returned when the ResponseWriter cannot stream.
var ErrNoFlusher = errors.New("stream: response writer does not support flushing")

// ErrClosed is returned by Send after the sentinel was written.
var ErrClosed = errors.New("stream: sink closed")

// Sink receives the events of one run.
//
// Contract:
//   - Send is called in event order from a single goroutine.
//   - Done is called exactly once, after the last Send.
type Sink interface {
	Send(Event) error
	Done() error
}

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SSEWriter writes events as "data: <json>\n\n" frames and terminates the
// stream with "data: [DONE]\n\n".
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

var _ Sink = (*SSEWriter)(nil)

// NewSSEWriter wraps w. The caller sets headers with SetSSEHeaders.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it.
func (s *SSEWriter) Send(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.frame(data)
}

// Done writes the sentinel. Calls after the first are no-ops.
func (s *SSEWriter) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.frame([]byte(DoneSentinel))
}

// KeepAlive writes an SSE comment so idle proxies keep the connection.
func (s *SSEWriter) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("stream: write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *SSEWriter) frame(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("stream: write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
