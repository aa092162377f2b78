package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/streamchat/internal/model"
)

type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.chunks) > 0 && r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	return n, nil
}

func frames(t *testing.T, deltas ...string) string {
	t.Helper()
	var sb strings.Builder
	for _, d := range deltas {
		payload, err := json.Marshal(model.NewStreamChunk(d))
		require.NoError(t, err)
		sb.WriteString("data: ")
		sb.Write(payload)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// splitEvery cuts s into pieces of n bytes.
func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return base }
}

func userTurn(id, content string) model.Turn {
	return model.Turn{ID: id, Role: model.RoleUser, Content: content, CreatedAt: time.Now()}
}

func assistantTurns(turns []model.Turn) []model.Turn {
	var out []model.Turn
	for _, turn := range turns {
		if turn.Role == model.RoleAssistant {
			out = append(out, turn)
		}
	}
	return out
}

func TestThrottler_GatesOnPendingAndInterval(t *testing.T) {
	th := NewThrottler(50 * time.Millisecond)
	t0 := time.Now()

	require.True(t, th.Ready(t0))
	require.True(t, th.Pending())
	require.False(t, th.Ready(t0.Add(80*time.Millisecond)), "pending push blocks")

	th.Release()
	require.False(t, th.Ready(t0.Add(10*time.Millisecond)), "interval not elapsed")
	require.True(t, th.Ready(t0.Add(50*time.Millisecond)))
}

func TestThrottler_DefaultInterval(t *testing.T) {
	th := NewThrottler(0)
	t0 := time.Now()
	require.True(t, th.Ready(t0))
	th.Release()
	require.False(t, th.Ready(t0.Add(DefaultInterval-time.Millisecond)))
	require.True(t, th.Ready(t0.Add(DefaultInterval)))
}

func TestRun_IdempotentInsertionAcrossChunkings(t *testing.T) {
	deltas := []string{"The ", "quick ", "brown ", "fox ", "jumps ", "over ", "the ", "lazy ", "dog."}
	body := frames(t, deltas...) + "data: [DONE]\n"

	for size := 1; size <= len(body); size += 7 {
		thread := NewThread("conv-1", []model.Turn{userTurn("u1", "go")}, WithInterval(time.Nanosecond))
		s := thread.Begin()

		final, err := Run(context.Background(), &chunkReader{chunks: splitEvery(body, size)}, thread, s, Immediate)
		require.NoError(t, err)
		require.NotNil(t, final)

		got := assistantTurns(thread.Turns())
		require.Len(t, got, 1, "chunk size %d", size)
		require.Equal(t, strings.Join(deltas, ""), got[0].Content)
		require.Equal(t, s.TurnID(), got[0].ID)
		require.Equal(t, "conv-1", got[0].ConversationID)
		require.Equal(t, StateFinalized, s.State())
	}
}

func TestRun_ThrottleNeverLosesData(t *testing.T) {
	deltas := make([]string, 200)
	for i := range deltas {
		deltas[i] = "x"
	}
	body := frames(t, deltas...) + "data: [DONE]\n"

	var pushes int
	thread := NewThread("c", []model.Turn{userTurn("u1", "burst")},
		WithClock(fixedClock()),
		WithObserver(func([]model.Turn) { pushes++ }),
	)
	s := thread.Begin()

	final, err := Run(context.Background(), strings.NewReader(body), thread, s, Immediate)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("x", 200), final.Content)
	require.Equal(t, 200, s.Deltas())

	// The clock never advances, so only the first delta and the terminal
	// flush reach the thread.
	require.Equal(t, 2, pushes)
}

func TestRun_TerminalFlushWithoutScheduledPushes(t *testing.T) {
	body := frames(t, "never ", "shown ", "early") + "data: [DONE]\n"
	dropAll := SchedulerFunc(func(func()) {})

	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")})
	s := thread.Begin()

	final, err := Run(context.Background(), strings.NewReader(body), thread, s, dropAll)
	require.NoError(t, err)
	require.Equal(t, "never shown early", final.Content)
	require.Len(t, thread.Turns(), 2)
}

func TestRun_EmptyStreamIsNoOp(t *testing.T) {
	thread := NewThread("c", []model.Turn{userTurn("u1", "hello")})
	s := thread.Begin()

	final, err := Run(context.Background(), strings.NewReader("data: [DONE]\n"), thread, s, Immediate)
	require.NoError(t, err)
	require.Nil(t, final)
	require.Len(t, thread.Turns(), 1)
	require.Equal(t, StateFinalized, s.State())
	require.Nil(t, thread.Current())
}

func TestRun_ErrorRollsBackSpeculativeTurn(t *testing.T) {
	var sawInsert bool
	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")},
		WithObserver(func(turns []model.Turn) {
			if len(turns) == 2 && turns[1].Content == "Hel" {
				sawInsert = true
			}
		}),
	)
	s := thread.Begin()

	body := &chunkReader{chunks: []string{frames(t, "Hel")}, err: errors.New("connection reset")}
	final, err := Run(context.Background(), body, thread, s, Immediate)
	require.Error(t, err)
	require.Nil(t, final)
	require.True(t, sawInsert)

	turns := thread.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, "u1", turns[0].ID)
	require.Equal(t, StateAborted, s.State())
}

func TestRun_RemoteErrorFrame(t *testing.T) {
	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")})
	s := thread.Begin()

	body := frames(t, "partial") + `data: {"error":{"message":"upstream failed"}}` + "\n\n"
	_, err := Run(context.Background(), strings.NewReader(body), thread, s, Immediate)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "upstream failed", remote.Message)
	require.Len(t, thread.Turns(), 1)
}

func TestRun_CancelledContext(t *testing.T) {
	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")})
	s := thread.Begin()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, strings.NewReader(frames(t, "x")), thread, s, Immediate)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, thread.Turns(), 1)
}

func TestRun_StopsReadingAtDone(t *testing.T) {
	thread := NewThread("c", nil)
	s := thread.Begin()

	body := frames(t, "kept") + "data: [DONE]\n" + frames(t, " ignored")
	final, err := Run(context.Background(), strings.NewReader(body), thread, s, Immediate)
	require.NoError(t, err)
	require.Equal(t, "kept", final.Content)
}

func TestThread_PushUpdatesInPlace(t *testing.T) {
	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")}, WithInterval(time.Nanosecond))
	s := thread.Begin()

	require.False(t, thread.Push(s), "empty buffer inserts nothing")
	require.Equal(t, StateIdle, s.State())

	s.Append("a")
	require.True(t, thread.Push(s))
	require.Equal(t, StateStarted, s.State())

	s.Append("b")
	require.True(t, thread.Push(s))
	require.False(t, thread.Push(s), "unchanged buffer")

	turns := thread.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "ab", turns[1].Content)
}

func TestThread_SupersededSessionIsIgnored(t *testing.T) {
	thread := NewThread("c", []model.Turn{userTurn("u1", "first")})

	old := thread.Begin()
	old.Append("stale")
	require.True(t, thread.Push(old))
	require.Len(t, thread.Turns(), 2)

	fresh := thread.Begin()
	require.Equal(t, StateAborted, old.State())
	require.Len(t, thread.Turns(), 1, "superseded speculative turn removed")

	old.Append(" more")
	require.False(t, thread.Push(old))
	_, err := thread.Finalize(old)
	require.ErrorIs(t, err, ErrSuperseded)
	thread.Abort(old)

	fresh.Append("new")
	final, err := thread.Finalize(fresh)
	require.NoError(t, err)
	require.Equal(t, "new", final.Content)

	turns := thread.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, fresh.TurnID(), turns[1].ID)
}

func TestThread_AppendAbortsInFlightSession(t *testing.T) {
	thread := NewThread("c", []model.Turn{userTurn("u1", "a")})
	s := thread.Begin()
	s.Append("partial")
	thread.Push(s)

	thread.Append(userTurn("u2", "b"))

	turns := thread.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "u2", turns[1].ID)
	require.Equal(t, "c", turns[1].ConversationID)
	require.Nil(t, thread.Current())
}

func TestThread_PushAfterFinalizeIsIgnored(t *testing.T) {
	thread := NewThread("c", nil)
	s := thread.Begin()
	s.Append("done")
	_, err := thread.Finalize(s)
	require.NoError(t, err)

	require.False(t, s.Append("late"))
	require.False(t, thread.Push(s))
	require.Equal(t, "done", thread.Turns()[0].Content)
}

func TestThread_RewindScopesToLastUserTurn(t *testing.T) {
	thread := NewThread("c", []model.Turn{
		userTurn("a", "A"),
		{ID: "b", Role: model.RoleAssistant, Content: "B"},
		userTurn("c", "C"),
		{ID: "d", Role: model.RoleAssistant, Content: "D"},
	})

	history, dropped, err := thread.Rewind()
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, dropped)

	ids := make([]string, 0, len(history))
	for _, turn := range history {
		ids = append(ids, turn.ID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
	require.Equal(t, "A", history[0].Content)
	require.Equal(t, "B", history[1].Content)
	require.Equal(t, history, thread.Turns())
}

func TestThread_RewindWithoutUserTurn(t *testing.T) {
	thread := NewThread("c", []model.Turn{{ID: "x", Role: model.RoleAssistant, Content: "hi"}})
	_, _, err := thread.Rewind()
	require.ErrorIs(t, err, ErrNoUserTurn)
}

func TestThread_SetPinned(t *testing.T) {
	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")})

	turn, err := thread.SetPinned("u1", true)
	require.NoError(t, err)
	require.True(t, turn.Pinned)
	require.True(t, thread.Turns()[0].Pinned)

	_, err = thread.SetPinned("missing", true)
	require.ErrorIs(t, err, ErrTurnNotFound)
}

func TestFrameScheduler_DrainsOnClose(t *testing.T) {
	sched := NewFrameScheduler(time.Hour)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 3; i++ {
		sched.Schedule(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	sched.Close()

	mu.Lock()
	require.Equal(t, 3, ran)
	mu.Unlock()

	sched.Schedule(func() { ran++ })
	require.Equal(t, 4, ran)
}

func TestRun_WithFrameScheduler(t *testing.T) {
	sched := NewFrameScheduler(time.Millisecond)
	defer sched.Close()

	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")}, WithInterval(time.Nanosecond))
	s := thread.Begin()

	body := frames(t, "one ", "two ", "three") + "data: [DONE]\n"
	final, err := Run(context.Background(), &chunkReader{chunks: splitEvery(body, 5)}, thread, s, sched)
	require.NoError(t, err)
	require.Equal(t, "one two three", final.Content)
	require.Len(t, assistantTurns(thread.Turns()), 1)
}

func TestThread_LateSnapshotDroppedAfterFinal(t *testing.T) {
	var seen []string
	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")},
		WithObserver(func(turns []model.Turn) {
			seen = append(seen, turns[len(turns)-1].Content)
		}),
	)
	s := thread.Begin()
	s.Append("Hel")

	// A push that took its snapshot but was preempted before delivering it.
	thread.mu.Lock()
	thread.reconcileLocked(s)
	late := thread.notifyLocked(true)
	thread.mu.Unlock()

	s.Append("lo")
	final, err := thread.Finalize(s)
	require.NoError(t, err)
	require.Equal(t, "Hello", final.Content)

	thread.notify(late)
	require.Equal(t, []string{"Hello"}, seen)
}

func TestThread_ObserverEndsOnFinalContentWithGoroutinePushes(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  []string
		calls int
	)
	thread := NewThread("c", []model.Turn{userTurn("u1", "hi")},
		WithObserver(func(turns []model.Turn) {
			mu.Lock()
			calls++
			slow := calls == 1
			mu.Unlock()
			if slow {
				time.Sleep(100 * time.Millisecond)
			}
			mu.Lock()
			seen = append(seen, turns[len(turns)-1].Content)
			mu.Unlock()
		}),
	)
	s := thread.Begin()

	var wg sync.WaitGroup
	async := SchedulerFunc(func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	})

	s.Append("Hel")
	async.Schedule(func() { thread.Push(s) })
	time.Sleep(10 * time.Millisecond)

	s.Append("lo")
	_, err := thread.Finalize(s)
	require.NoError(t, err)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	require.Equal(t, "Hello", seen[len(seen)-1])
}
