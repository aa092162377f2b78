package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/sse"
)

// RemoteError is a failure the server reported inside the stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "stream error: " + e.Message
}

// Run drives one streamed response body into the thread on behalf of s.
//
// Every delta is appended to the session buffer as it arrives; pushes to the
// thread go through sched at the throttled rate. The stream end always forces
// one final synchronous reconciliation. On any failure the speculative turn
// is removed and the error returned.
func Run(ctx context.Context, body io.Reader, thread *Thread, s *Session, sched Scheduler) (*model.Turn, error) {
	if sched == nil {
		sched = Immediate
	}
	reader := sse.NewReader(body)

	push := func() { thread.Push(s) }

loop:
	for {
		if err := ctx.Err(); err != nil {
			thread.Abort(s)
			return nil, err
		}

		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			thread.Abort(s)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		switch ev.Kind {
		case sse.EventDelta:
			if s.Append(ev.Text) {
				sched.Schedule(push)
			}
		case sse.EventDone:
			break loop
		case sse.EventError:
			thread.Abort(s)
			return nil, &RemoteError{Message: ev.Text}
		}
	}

	return thread.Finalize(s)
}
