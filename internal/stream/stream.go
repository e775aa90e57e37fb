// Package stream delivers the orchestrator's answer as an ordered event
// sequence. The Emitter enforces the ordering contract: sequence numbers
// strictly increase, nothing follows the done event, and every event reaches
// the sink in emission order.
package stream

import (
	"encoding/json"
	"sync"
)

// Kind discriminates stream events.
type Kind string

const (
	KindToken     Kind = "token"
	KindDataBlock Kind = "data_block"
	KindError     Kind = "error"
	KindDone      Kind = "done"
)

// Event is one unit of the response stream.
type Event struct {
	Sequence int             `json:"sequence"`
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Sink receives events in order. Write returning an error stops the stream;
// the emitter treats the client as gone.
type Sink interface {
	Write(event Event) error
}

// Emitter serializes event emission from concurrent producers onto one sink.
type Emitter struct {
	mu     sync.Mutex
	sink   Sink
	seq    int
	closed bool
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Token emits one generated answer token.
func (e *Emitter) Token(text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return e.emit(KindToken, payload)
}

// DataBlock emits one structured finding from a backend source.
func (e *Emitter) DataBlock(source string, payload json.RawMessage) error {
	wrapped, err := json.Marshal(struct {
		Source string          `json:"source"`
		Data   json.RawMessage `json:"data"`
	}{Source: source, Data: payload})
	if err != nil {
		return err
	}
	return e.emit(KindDataBlock, wrapped)
}

// Error emits a terminal error event and closes the stream. No done event
// follows; the error is the last thing the client sees.
func (e *Emitter) Error(message string) error {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	writeErr := e.write(KindError, payload)
	e.closed = true
	return writeErr
}

// Done emits the terminal done event and closes the stream.
func (e *Emitter) Done() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	err := e.write(KindDone, nil)
	e.closed = true
	return err
}

// Sequence returns the number of events emitted so far.
func (e *Emitter) Sequence() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

func (e *Emitter) emit(kind Kind, payload json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	return e.write(kind, payload)
}

// write assumes e.mu is held.
func (e *Emitter) write(kind Kind, payload json.RawMessage) error {
	e.seq++
	return e.sink.Write(Event{
		Sequence: e.seq,
		Kind:     kind,
		Payload:  payload,
	})
}
