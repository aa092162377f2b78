package sse

import (
	"errors"
	"io"
)

const readChunkSize = 4096

// Reader yields decoded events from a streamed response body.
type Reader struct {
	src     io.Reader
	framer  *Framer
	decoder *Decoder
	chunk   []byte
	queue   []Event
	err     error
}

// NewReader wraps a response body.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:     src,
		framer:  NewFramer(),
		decoder: NewDecoder(),
		chunk:   make([]byte, readChunkSize),
	}
}

// Next returns the next event. After the body closes and every buffered line
// has been drained it returns io.EOF; any other read error is returned as is.
func (r *Reader) Next() (Event, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return Event{}, r.err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.decode(r.framer.Push(r.chunk[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.decode(r.framer.Flush())
				if ev, ok := r.decoder.Flush(); ok {
					r.queue = append(r.queue, ev)
				}
				err = io.EOF
			}
			r.err = err
		}
	}

	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

// Anomalies returns the number of unrecoverable payloads seen so far.
func (r *Reader) Anomalies() int {
	return r.decoder.Anomalies()
}

func (r *Reader) decode(lines []string) {
	for _, line := range lines {
		if ev, ok := r.decoder.Decode(line); ok {
			r.queue = append(r.queue, ev)
		}
	}
}
