package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/capitalize-ai/streamchat/internal/model"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer emits frames on an HTTP response. Headers are sent with the first
// frame so a handler can still answer with a JSON error before that.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu      sync.Mutex
	started bool
}

// NewWriter wraps a response writer.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Started reports whether any frame has been written.
func (w *Writer) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Delta writes one content fragment.
func (w *Writer) Delta(text string) error {
	return w.data(model.NewStreamChunk(text))
}

// Error writes a mid-stream failure frame.
func (w *Writer) Error(message string) error {
	return w.data(model.StreamError{Error: model.ErrorBody{Message: message}})
}

// Done writes the termination sentinel.
func (w *Writer) Done() error {
	return w.write(dataPrefix + doneSentinel + "\n\n")
}

// Comment writes a heartbeat line. It is a no-op before the stream started.
func (w *Writer) Comment(text string) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return nil
	}
	return w.write(": " + text + "\n\n")
}

func (w *Writer) data(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(fmt.Sprintf("%s%s\n\n", dataPrefix, payload))
}

func (w *Writer) write(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		h := w.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
		w.w.WriteHeader(http.StatusOK)
		w.started = true
	}

	if _, err := w.w.Write([]byte(s)); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
