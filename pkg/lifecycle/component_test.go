package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

type recordingImpl struct {
	NopImpl
	name   string
	events *[]string
}

func (r *recordingImpl) Start(ctx context.Context, self *Component) error {
	*r.events = append(*r.events, "start:"+r.name)
	return nil
}

func (r *recordingImpl) Stop(ctx context.Context, self *Component, willReload bool) error {
	*r.events = append(*r.events, "stop:"+r.name)
	return nil
}

func newTestRoot(t *testing.T) *Component {
	t.Helper()
	root, err := NewRoot("root", nil, NopImpl{}, telemetry.New(nil))
	require.NoError(t, err)
	return root
}

func TestComponentStartStopOrder(t *testing.T) {
	root := newTestRoot(t)
	var events []string

	a, err := NewComponent("a", nil, &recordingImpl{name: "a", events: &events})
	require.NoError(t, err)
	b, err := NewComponent("b", nil, &recordingImpl{name: "b", events: &events})
	require.NoError(t, err)

	require.NoError(t, root.AddChild(a))
	require.NoError(t, root.AddChild(b))

	require.NoError(t, root.Start(context.Background()))
	require.Equal(t, StateRunning, root.State())
	require.Equal(t, []string{"start:a", "start:b"}, events)

	require.NoError(t, root.Stop(context.Background(), false))
	require.Equal(t, StateStopped, root.State())
	require.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)

	select {
	case <-root.WhenStopped():
	default:
		t.Fatal("WhenStopped did not resolve")
	}
}

func TestComponentDuplicateChildName(t *testing.T) {
	root := newTestRoot(t)
	a, _ := NewComponent("dup", nil, NopImpl{})
	b, _ := NewComponent("dup", nil, NopImpl{})

	require.NoError(t, root.AddChild(a))
	err := root.AddChild(b)
	require.ErrorIs(t, err, ErrDuplicateBinding)
}

func TestComponentInvalidName(t *testing.T) {
	_, err := NewComponent("has a space", nil, NopImpl{})
	require.ErrorIs(t, err, ErrConfigInvalid)
}

type failingImpl struct {
	NopImpl
	failStart bool
}

func (f *failingImpl) Start(ctx context.Context, self *Component) error {
	if f.failStart {
		return errors.New("deliberate failure")
	}
	return nil
}

func TestComponentUnwindsOnChildStartFailure(t *testing.T) {
	root := newTestRoot(t)
	var events []string

	ok1, _ := NewComponent("ok1", nil, &recordingImpl{name: "ok1", events: &events})
	bad, _ := NewComponent("bad", nil, &failingImpl{failStart: true})
	ok2, _ := NewComponent("ok2", nil, &recordingImpl{name: "ok2", events: &events})

	require.NoError(t, root.AddChild(ok1))
	require.NoError(t, root.AddChild(bad))
	require.NoError(t, root.AddChild(ok2))

	err := root.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"start:ok1", "stop:ok1"}, events)
	// ok2 was never reached since bad failed before it.
}

func TestComponentStopOnNonRunningIsNoop(t *testing.T) {
	c, _ := NewComponent("idle", nil, NopImpl{})
	c.ctrl = &ControlContext{Root: c}
	c.logger = telemetry.New(nil)
	require.NoError(t, c.Stop(context.Background(), false))
	require.Equal(t, StateNew, c.State())
}

func TestComponentStartOnStoppedFails(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.Start(context.Background()))
	require.NoError(t, root.Stop(context.Background(), false))

	err := root.Start(context.Background())
	require.ErrorIs(t, err, ErrWrongState)
}

func TestWrappedHierarchyReload(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.Start(context.Background()))

	owner := &testHierarchyOwner{shouldFail: false}
	wrapped := NewWrappedHierarchy(owner, root, telemetry.New(nil))

	require.NoError(t, wrapped.PrepareToRestart(context.Background()))
	require.NoError(t, wrapped.Restart(context.Background()))

	require.NotEqual(t, root, wrapped.Current())
	require.Equal(t, StateStopped, root.State())
	require.Equal(t, StateRunning, wrapped.Current().State())
}

func TestWrappedHierarchyKeepsOldOnMakeFailure(t *testing.T) {
	root := newTestRoot(t)
	require.NoError(t, root.Start(context.Background()))

	owner := &testHierarchyOwner{shouldFail: true}
	wrapped := NewWrappedHierarchy(owner, root, telemetry.New(nil))

	err := wrapped.PrepareToRestart(context.Background())
	require.Error(t, err)
	require.Equal(t, root, wrapped.Current())
	require.Equal(t, StateRunning, root.State())
}

type testHierarchyOwner struct {
	shouldFail bool
}

func (o *testHierarchyOwner) MakeHierarchy(ctx context.Context, old *Component) (*Component, error) {
	if o.shouldFail {
		return nil, errors.New("bad config")
	}
	return NewRoot("root2", nil, NopImpl{}, telemetry.New(nil))
}
