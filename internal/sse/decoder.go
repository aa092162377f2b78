package sse

import (
	"encoding/json"
	"strings"

	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	// MaxPendingBytes caps a payload held for reassembly across lines.
	MaxPendingBytes = 1 << 20
)

// EventKind tags a decoded event.
type EventKind int

const (
	// EventDelta carries an incremental text fragment.
	EventDelta EventKind = iota + 1
	// EventDone signals normal stream termination.
	EventDone
	// EventError reports a failure the server sent inside the stream.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded stream event. Text is the fragment for EventDelta and
// the message for EventError.
type Event struct {
	Kind EventKind
	Text string
}

// Decoder turns framed lines into events.
//
// A data payload that is not valid JSON is held and retried with the lines
// that follow, since providers occasionally wrap one payload across what looks
// like a line boundary. A new data line drops whatever could not be
// reassembled. None of this is reported to the caller.
type Decoder struct {
	pending   string
	anomalies int
}

// NewDecoder creates a decoder for one stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode interprets one line. The boolean is false for ignored lines.
func (d *Decoder) Decode(line string) (Event, bool) {
	if strings.HasPrefix(line, dataPrefix) {
		d.dropPending()
		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == doneSentinel {
			return Event{Kind: EventDone}, true
		}
		return d.parse(payload, true)
	}

	if d.pending == "" {
		return Event{}, false
	}

	if candidate := d.pending + line; json.Valid([]byte(candidate)) {
		d.pending = ""
		return d.parse(candidate, false)
	}

	// Heartbeats and blank separators are not continuations.
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return Event{}, false
	}
	d.hold(d.pending + line)
	return Event{}, false
}

// Flush retries a held payload once more at stream end.
func (d *Decoder) Flush() (Event, bool) {
	if d.pending == "" {
		return Event{}, false
	}
	payload := d.pending
	d.pending = ""
	return d.parse(payload, false)
}

// Pending reports whether a partial payload is waiting for more lines.
func (d *Decoder) Pending() bool {
	return d.pending != ""
}

// Anomalies returns the number of payloads that could not be recovered.
func (d *Decoder) Anomalies() int {
	return d.anomalies
}

type frame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

func (d *Decoder) parse(payload string, holdOnFailure bool) (Event, bool) {
	if !json.Valid([]byte(payload)) {
		if holdOnFailure {
			d.hold(payload)
		} else {
			d.anomaly()
		}
		return Event{}, false
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		d.anomaly()
		return Event{}, false
	}

	if len(f.Error) > 0 && string(f.Error) != "null" {
		return Event{Kind: EventError, Text: errorMessage(f.Error)}, true
	}
	if len(f.Choices) == 0 || f.Choices[0].Delta.Content == "" {
		return Event{}, false
	}
	return Event{Kind: EventDelta, Text: f.Choices[0].Delta.Content}, true
}

func (d *Decoder) hold(payload string) {
	if len(payload) > MaxPendingBytes {
		d.pending = ""
		d.anomaly()
		return
	}
	d.pending = payload
}

func (d *Decoder) dropPending() {
	if d.pending != "" {
		d.pending = ""
		d.anomaly()
	}
}

func (d *Decoder) anomaly() {
	d.anomalies++
	metrics.DecodeAnomaliesTotal.Inc()
}

func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return "upstream stream failed"
}
