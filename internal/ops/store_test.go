package ops

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operon-dev/operon/internal/streaming"
	"github.com/operon-dev/operon/pkg/schema"
)

func quietStore(opts ...StoreOption) *Store {
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewStore(opts...)
}

func TestAddCreatesPendingOperation(t *testing.T) {
	s := quietStore()
	id := s.Add(Metadata{Name: "import pages", Category: "import"})

	op := s.Get(id)
	require.NotNil(t, op)
	assert.Equal(t, schema.StatusPending, op.Status)
	assert.Equal(t, 0, op.Progress)
	assert.Equal(t, "import pages", op.Name)
	require.Len(t, op.Logs, 1)
	assert.Equal(t, "operation created: import pages", op.Logs[0].Message)
	assert.False(t, op.StartedAt.IsZero())
	assert.Nil(t, op.CompletedAt)
}

func TestListIsMostRecentFirst(t *testing.T) {
	s := quietStore()
	first := s.Add(Metadata{Name: "first"})
	second := s.Add(Metadata{Name: "second"})

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestSetProgressClampsAndMarksRunning(t *testing.T) {
	s := quietStore()
	id := s.Add(Metadata{Name: "op"})

	s.SetProgress(id, -5)
	op := s.Get(id)
	assert.Equal(t, 0, op.Progress)
	assert.Equal(t, schema.StatusRunning, op.Status)

	s.SetProgress(id, 150)
	assert.Equal(t, 100, s.Get(id).Progress)

	s.SetProgress(id, 42)
	assert.Equal(t, 42, s.Get(id).Progress)
}

func TestCompleteIsIdempotent(t *testing.T) {
	s := quietStore()
	id := s.Add(Metadata{Name: "op"})

	s.Complete(id, map[string]any{"url": "https://example.test"})
	op := s.Get(id)
	require.Equal(t, schema.StatusCompleted, op.Status)
	assert.Equal(t, 100, op.Progress)
	require.NotNil(t, op.CompletedAt)
	logCount := len(op.Logs)

	// Second completion must leave the same observable state.
	s.Complete(id, map[string]any{"url": "https://other.test"})
	again := s.Get(id)
	assert.Equal(t, op.Result, again.Result)
	assert.Equal(t, logCount, len(again.Logs))
	assert.Equal(t, *op.CompletedAt, *again.CompletedAt)
}

func TestTerminalOperationsIgnoreMutations(t *testing.T) {
	s := quietStore()
	id := s.Add(Metadata{Name: "op"})
	s.Fail(id, "disk full")

	op := s.Get(id)
	require.Equal(t, schema.StatusFailed, op.Status)
	assert.Equal(t, "disk full", op.Error)

	s.SetProgress(id, 50)
	s.Cancel(id)
	s.Complete(id, "late")

	after := s.Get(id)
	assert.Equal(t, schema.StatusFailed, after.Status)
	assert.Equal(t, 0, after.Progress, "progress frozen at its pre-failure value")
	assert.Nil(t, after.Result)
}

func TestFailFreezesProgress(t *testing.T) {
	s := quietStore()
	id := s.Add(Metadata{Name: "op"})
	s.SetProgress(id, 60)
	s.Fail(id, "boom")

	op := s.Get(id)
	assert.Equal(t, 60, op.Progress)
	assert.Equal(t, schema.StatusFailed, op.Status)
}

func TestUnknownIDIsSilentNoop(t *testing.T) {
	s := quietStore()
	s.SetProgress("nope", 10)
	s.AppendLog("nope", "hello")
	s.Complete("nope", nil)
	s.Fail("nope", "x")
	s.Cancel("nope")
	s.Remove("nope")
	assert.Nil(t, s.Get("nope"))
	assert.Empty(t, s.List())
}

func TestAppendLogAccumulates(t *testing.T) {
	s := quietStore()
	id := s.Add(Metadata{Name: "op"})
	s.AppendLog(id, "step one")
	s.AppendLog(id, "step two")

	op := s.Get(id)
	require.Len(t, op.Logs, 3)
	assert.Equal(t, "step one", op.Logs[1].Message)
	assert.Equal(t, "step two", op.Logs[2].Message)
}

func TestOverallProgress(t *testing.T) {
	s := quietStore()
	assert.Equal(t, 100, s.OverallProgress(), "no operations means nothing pending")

	a := s.Add(Metadata{Name: "a"})
	b := s.Add(Metadata{Name: "b"})
	s.SetProgress(a, 20)
	s.SetProgress(b, 60)
	assert.Equal(t, 40, s.OverallProgress())

	// Terminal operations drop out of the mean.
	s.Complete(b, nil)
	assert.Equal(t, 20, s.OverallProgress())

	s.Complete(a, nil)
	assert.Equal(t, 100, s.OverallProgress())
}

func TestClearTerminalKeepsActive(t *testing.T) {
	s := quietStore()
	done := s.Add(Metadata{Name: "done"})
	failed := s.Add(Metadata{Name: "failed"})
	active := s.Add(Metadata{Name: "active"})
	s.Complete(done, nil)
	s.Fail(failed, "x")
	s.SetProgress(active, 10)

	s.ClearTerminal()

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, active, list[0].ID)
	assert.Nil(t, s.Get(done))
	assert.Nil(t, s.Get(failed))
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	s := quietStore()

	var calls int
	var last []*Operation
	unsub := s.Subscribe(func(operations []*Operation) {
		calls++
		last = operations
	})

	id := s.Add(Metadata{Name: "op"})
	s.SetProgress(id, 30)
	require.Equal(t, 2, calls)
	require.Len(t, last, 1)
	assert.Equal(t, 30, last[0].Progress)

	unsub()
	s.SetProgress(id, 60)
	assert.Equal(t, 2, calls, "no deliveries after unsubscribe")
}

func TestListenerPanicIsIsolated(t *testing.T) {
	s := quietStore()

	var healthyCalls int
	s.Subscribe(func([]*Operation) { panic("bad listener") })
	s.Subscribe(func([]*Operation) { healthyCalls++ })

	id := s.Add(Metadata{Name: "op"})
	s.Complete(id, nil)

	assert.Equal(t, 2, healthyCalls, "healthy listener still runs after a sibling panics")
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := quietStore()
	id := s.Add(Metadata{Name: "op"})

	op := s.Get(id)
	op.Name = "mutated"
	op.Logs[0].Message = "mutated"

	fresh := s.Get(id)
	assert.Equal(t, "op", fresh.Name)
	assert.Equal(t, "operation created: op", fresh.Logs[0].Message)
}

func TestMutationsPublishToHub(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := quietStore(WithHub(hub))

	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{})
	require.NoError(t, err)
	defer cancel()

	id := s.Add(Metadata{Name: "op"})
	s.Complete(id, nil)

	expect := []string{schema.EventOperationAdded, schema.EventOperationCompleted}
	for _, want := range expect {
		select {
		case evt := <-ch:
			assert.Equal(t, want, evt.EventType)
			assert.Equal(t, id, evt.OperationID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
