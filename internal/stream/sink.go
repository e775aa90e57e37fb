package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by emitter methods after the terminal event.
var ErrStreamClosed = fmt.Errorf("stream already closed")

// SSESink writes events as server-sent events and flushes after each one so
// tokens reach the client as they are produced.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink prepares the response for server-sent events. Returns an error
// if the writer cannot flush incrementally.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &SSESink{w: w, flusher: flusher}, nil
}

func (s *SSESink) Write(event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Kind, raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// BufferSink collects events in memory for non-streaming responses and tests.
type BufferSink struct {
	mu     sync.Mutex
	events []Event
}

func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

func (b *BufferSink) Write(event Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
	return nil
}

// Events returns a copy of everything written so far.
func (b *BufferSink) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
