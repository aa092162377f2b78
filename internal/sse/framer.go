// Package sse implements the text/event-stream subset spoken between the chat
// client and the edge service: line framing, delta decoding and frame writing.
package sse

import (
	"bytes"
)

// Framer splits an unbounded byte stream into complete text lines.
//
// Lines are cut on '\n' with a single trailing '\r' removed. No other
// filtering happens here; blank and comment lines are the decoder's concern.
// A Framer serves exactly one stream and cannot be reused after Flush.
type Framer struct {
	buf     []byte
	flushed bool
}

// NewFramer creates a framer for one stream.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends a chunk and returns every line it completed, in order.
func (f *Framer) Push(chunk []byte) []string {
	if f.flushed {
		return nil
	}
	f.buf = append(f.buf, chunk...)
	return f.cut()
}

// Flush returns the remaining lines, including a final partial line for
// upstreams that omit the trailing newline on their last frame.
func (f *Framer) Flush() []string {
	if f.flushed {
		return nil
	}
	f.flushed = true
	lines := f.cut()
	if len(f.buf) > 0 {
		lines = append(lines, trimCR(f.buf))
	}
	f.buf = nil
	return lines
}

// Buffered returns the number of bytes waiting for a line boundary.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

func (f *Framer) cut() []string {
	var lines []string
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, trimCR(f.buf[:i]))
		f.buf = f.buf[i+1:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

func trimCR(line []byte) string {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line)
}
