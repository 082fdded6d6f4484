package sse

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	frame, err := Encode(EventTextDelta, map[string]string{"text": "line\nbreak"})
	require.NoError(t, err)
	assert.Equal(t, "event: text-delta\ndata: {\"text\":\"line\\nbreak\"}\n\n", string(frame))

	_, err = Encode(EventData, make(chan int))
	assert.Error(t, err)
}

func TestWriterNumbersFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	e := NewEmitter(w)
	require.NoError(t, e.Emit(EventStartStep, map[string]string{"messageId": "m1"}))
	require.NoError(t, e.Emit(EventFinish, map[string]string{"finishReason": "stop"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"id: 0\nevent: start-step\ndata: {\"messageId\":\"m1\"}\n\n"+
			"id: 1\nevent: finish\ndata: {\"finishReason\":\"stop\"}\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}
