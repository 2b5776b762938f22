package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadletStartStop(t *testing.T) {
	started := false
	stopped := false

	th := New(
		func(ctx context.Context) error {
			started = true
			return nil
		},
		func(ctx context.Context, access *Access) error {
			<-access.WhenStopRequested()
			stopped = true
			return nil
		},
	)

	require.NoError(t, th.Start(context.Background()))
	require.True(t, started)
	require.True(t, th.Running())

	require.NoError(t, th.Stop())
	require.True(t, stopped)
	require.False(t, th.Running())
}

func TestThreadletDoubleStartFails(t *testing.T) {
	th := New(nil, func(ctx context.Context, access *Access) error {
		<-access.WhenStopRequested()
		return nil
	})

	require.NoError(t, th.Start(context.Background()))
	err := th.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.NoError(t, th.Stop())
}

func TestThreadletStopIsNoopWhenNotRunning(t *testing.T) {
	th := New(nil, nil)
	require.NoError(t, th.Stop())
}

func TestThreadletRunErrorPropagates(t *testing.T) {
	sentinel := errors.New("boom")
	th := New(nil, func(ctx context.Context, access *Access) error {
		<-access.WhenStopRequested()
		return sentinel
	})

	require.NoError(t, th.Start(context.Background()))
	err := th.Stop()
	require.ErrorIs(t, err, sentinel)
}

func TestAccessRaceWhenStopRequested(t *testing.T) {
	extra := make(chan struct{})
	th := New(nil, func(ctx context.Context, access *Access) error {
		select {
		case <-access.RaceWhenStopRequested(extra):
			return nil
		case <-time.After(time.Second):
			return errors.New("never raced")
		}
	})

	require.NoError(t, th.Start(context.Background()))
	close(extra)
	require.NoError(t, th.Stop())
}
