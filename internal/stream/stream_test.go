package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterSequencesStrictlyIncrease(t *testing.T) {
	sink := NewBufferSink()
	e := NewEmitter(sink)

	require.NoError(t, e.DataBlock("dividend_history_curated", json.RawMessage(`{"rows":[]}`)))
	require.NoError(t, e.Token("KO "))
	require.NoError(t, e.Token("pays quarterly."))
	require.NoError(t, e.Done())

	events := sink.Events()
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Sequence)
	}
	assert.Equal(t, KindDataBlock, events[0].Kind)
	assert.Equal(t, KindDone, events[3].Kind)
}

func TestEmitterRejectsEventsAfterDone(t *testing.T) {
	e := NewEmitter(NewBufferSink())

	require.NoError(t, e.Done())
	assert.ErrorIs(t, e.Token("late"), ErrStreamClosed)
	assert.ErrorIs(t, e.Done(), ErrStreamClosed)
}

func TestEmitterErrorIsTerminal(t *testing.T) {
	sink := NewBufferSink()
	e := NewEmitter(sink)

	require.NoError(t, e.Error("analysis failed"))
	assert.ErrorIs(t, e.Done(), ErrStreamClosed)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, KindError, events[0].Kind)
}

func TestEmitterConcurrentProducers(t *testing.T) {
	sink := NewBufferSink()
	e := NewEmitter(sink)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = e.Token("x")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, e.Done())

	events := sink.Events()
	require.Len(t, events, 201)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Sequence, "sequence gap at index %d", i)
	}
}

func TestSSESinkFramesAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	require.NoError(t, err)

	e := NewEmitter(sink)
	require.NoError(t, e.Token("hello"))
	require.NoError(t, e.Done())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: token\ndata: "))
	assert.Contains(t, body, `"kind":"token"`)
	assert.Contains(t, body, "event: done\n")
	assert.True(t, rec.Flushed)
}
