package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSourceEmitChains(t *testing.T) {
	src := NewSource(1)
	require.Nil(t, src.CurrentEventNow())

	e1 := src.Emit("a")
	e2 := src.Emit("b")
	e3 := src.Emit("c")

	require.Equal(t, e3, src.CurrentEventNow())

	ctx := context.Background()
	next, err := e1.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, e2, next)

	next2, err := e2.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, e3, next2)
}

func TestSourceRetention(t *testing.T) {
	src := NewSource(2)
	for i := 0; i < 10; i++ {
		src.Emit(i)
	}
	// keepCount=2 retains the last 3 events.
	earliest := src.EarliestEvent()
	require.Equal(t, 7, earliest.Payload)
}

func TestSourceCurrentEventBlocksUntilFirstEmit(t *testing.T) {
	src := NewSource(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan *Event, 1)
	go func() {
		e, err := src.CurrentEvent(ctx)
		require.NoError(t, err)
		resultCh <- e
	}()

	time.Sleep(10 * time.Millisecond)
	evt := src.Emit("first")

	select {
	case got := <-resultCh:
		require.Equal(t, evt, got)
	case <-time.After(time.Second):
		t.Fatal("CurrentEvent never unblocked")
	}
}

func TestSinkConsumesInOrder(t *testing.T) {
	src := NewSource(0)
	first := src.Emit("seed")

	var got []any
	sink := NewSink(func(e *Event) { got = append(got, e.Payload) }, first)

	done := make(chan error, 1)
	go func() { done <- sink.Run(context.Background()) }()

	src.Emit("a")
	src.Emit("b")
	src.Emit("c")

	time.Sleep(20 * time.Millisecond)
	sink.DrainAndStop()
	require.NoError(t, <-done)

	require.Equal(t, []any{"a", "b", "c"}, got)
}

func TestTrackerAdvanceUntil(t *testing.T) {
	src := NewSource(0)
	first := src.Emit("seed")
	tracker := NewTracker(first)

	go func() {
		time.Sleep(5 * time.Millisecond)
		src.Emit("noise")
		src.Emit("target:x")
		src.Emit("noise2")
	}()

	e, err := tracker.AdvanceUntil(context.Background(), func(e *Event) bool {
		s, ok := e.Payload.(string)
		return ok && s == "target:x"
	})
	require.NoError(t, err)
	require.Equal(t, "target:x", e.Payload)
}
