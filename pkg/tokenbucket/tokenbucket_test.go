package tokenbucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTakeNowGrantsUpToAvailable(t *testing.T) {
	b := New(Config{BurstSize: 10, InitialAvailable: 10, FlowRate: 1, PartialTokens: true})

	r := b.TakeNow(Range{MinInclusive: 1, MaxInclusive: 5})
	require.True(t, r.Done)
	require.Equal(t, 5.0, r.Grant)

	snap := b.SnapshotNow()
	require.InDelta(t, 5.0, snap.AvailableBurst, 0.01)
}

func TestTakeNowBelowMinimumGrantsZero(t *testing.T) {
	b := New(Config{BurstSize: 10, InitialAvailable: 1, FlowRate: 0, PartialTokens: true})

	r := b.TakeNow(Range{MinInclusive: 5, MaxInclusive: 5})
	require.True(t, r.Done)
	require.Equal(t, 0.0, r.Grant)
}

func TestTakeNowRoundsDownWhenNotPartial(t *testing.T) {
	b := New(Config{BurstSize: 10, InitialAvailable: 3.7, FlowRate: 0, PartialTokens: false})

	r := b.TakeNow(Range{MinInclusive: 1, MaxInclusive: 10})
	require.Equal(t, 3.0, r.Grant)
}

func TestRequestGrantSatisfiesImmediatelyWhenAvailable(t *testing.T) {
	b := New(Config{BurstSize: 10, InitialAvailable: 10, FlowRate: 1, PartialTokens: true, MaxWaiters: -1})

	ch := b.RequestGrant(Range{MinInclusive: 1, MaxInclusive: 2})
	select {
	case r := <-ch:
		require.True(t, r.Done)
		require.Equal(t, 2.0, r.Grant)
	case <-time.After(time.Second):
		t.Fatal("grant never arrived")
	}
}

func TestRequestGrantQueuesAndSatisfiesOnRefill(t *testing.T) {
	b := New(Config{BurstSize: 10, InitialAvailable: 0, FlowRate: 100, PartialTokens: true, MaxWaiters: -1})

	ch := b.RequestGrant(Range{MinInclusive: 1, MaxInclusive: 1})
	select {
	case r := <-ch:
		require.True(t, r.Done)
		require.GreaterOrEqual(t, r.Grant, 1.0)
		require.Greater(t, r.WaitTime, time.Duration(0))
	case <-time.After(2 * time.Second):
		t.Fatal("queued grant never satisfied")
	}
}

func TestRequestGrantFIFOOrder(t *testing.T) {
	b := New(Config{BurstSize: 10, InitialAvailable: 0, FlowRate: 1000, PartialTokens: true, MaxWaiters: -1})

	var chans []<-chan GrantResult
	for i := 0; i < 3; i++ {
		chans = append(chans, b.RequestGrant(Range{MinInclusive: 1, MaxInclusive: 1}))
	}

	for i, ch := range chans {
		select {
		case r := <-ch:
			require.True(t, r.Done, "waiter %d should have been granted", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never satisfied", i)
		}
	}
}

func TestRequestGrantTooManyWaiters(t *testing.T) {
	b := New(Config{BurstSize: 1, InitialAvailable: 0, FlowRate: 0, PartialTokens: true, MaxWaiters: 1})

	first := b.RequestGrant(Range{MinInclusive: 1, MaxInclusive: 1})
	second := b.RequestGrant(Range{MinInclusive: 1, MaxInclusive: 1})

	select {
	case r := <-second:
		require.False(t, r.Done)
		require.Equal(t, ReasonTooManyWaiters, r.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected immediate too-many-waiters response")
	}

	b.DenyAllRequests(ReasonShutdown)
	select {
	case r := <-first:
		require.False(t, r.Done)
		require.Equal(t, ReasonShutdown, r.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected shutdown denial")
	}
}

func TestSnapshotNowBounds(t *testing.T) {
	b := New(Config{BurstSize: 5, InitialAvailable: 5, FlowRate: 1000, PartialTokens: true})
	time.Sleep(10 * time.Millisecond)
	snap := b.SnapshotNow()
	require.GreaterOrEqual(t, snap.AvailableBurst, 0.0)
	require.LessOrEqual(t, snap.AvailableBurst, 5.0)
}
