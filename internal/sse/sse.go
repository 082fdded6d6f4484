package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// Event names written to the data stream.
const (
	EventStartStep     = "start-step"
	EventTextDelta     = "text-delta"
	EventReasoning     = "reasoning"
	EventToolCall      = "tool-call"
	EventToolResult    = "tool-result"
	EventData          = "data"
	EventFinish        = "finish"
	EventError         = "error"
	EventAppendMessage = "append-message"
)

// Encode renders one event frame without an id line.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	frame := make([]byte, 0, len(event)+len(payload)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, event...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// Appender receives encoded frames in order.
type Appender interface {
	Append(frame []byte) error
}

// Emitter encodes events onto an Appender. It is safe for concurrent use.
type Emitter struct {
	mu  sync.Mutex
	out Appender
}

func NewEmitter(out Appender) *Emitter {
	return &Emitter{out: out}
}

func (e *Emitter) Emit(event string, data any) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out.Append(frame)
}

// Writer streams frames to an HTTP response, prefixing each with its id.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	next    int64
}

var ErrStreamingUnsupported = errors.New("streaming not supported")

// NewWriter sets the event-stream headers. It does not write the status.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// Append writes frame with the next sequential id.
func (w *Writer) Append(frame []byte) error {
	err := w.WriteFrame(w.next, frame)
	w.next++
	return err
}

// WriteFrame writes frame under an explicit id.
func (w *Writer) WriteFrame(seq int64, frame []byte) error {
	if _, err := w.w.Write([]byte("id: " + strconv.FormatInt(seq, 10) + "\n")); err != nil {
		return err
	}
	if _, err := w.w.Write(frame); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
