package lifecycle

import (
	"context"
	"sync"
)

// StartFunc runs once at the start of a Threadlet's life, before RunFunc
// is scheduled. A non-nil error aborts the start.
type StartFunc func(ctx context.Context) error

// RunFunc is the Threadlet's body. It must cooperate with cancellation by
// consulting access.ShouldStop() or racing against
// access.WhenStopRequested() / access.RaceWhenStopRequested().
type RunFunc func(ctx context.Context, access *Access) error

// Access is what a running Threadlet's RunFunc uses to observe
// cancellation. Stop requests never forcibly abort an in-flight
// RunFunc; they set a flag and let the current iteration finish.
type Access struct {
	stopCh chan struct{}
}

// ShouldStop reports whether Stop has been called, without blocking.
func (a *Access) ShouldStop() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

// WhenStopRequested returns a channel that closes when Stop is called.
func (a *Access) WhenStopRequested() <-chan struct{} {
	return a.stopCh
}

// RaceWhenStopRequested returns a channel that closes as soon as either
// the stop signal fires or any of the given futures does -- "select over
// the cancellation channel and the provided futures".
func (a *Access) RaceWhenStopRequested(extra ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(out) }) }

	go func() {
		select {
		case <-a.stopCh:
			fire()
		case <-out:
		}
	}()
	for _, ch := range extra {
		ch := ch
		go func() {
			select {
			case <-ch:
				fire()
			case <-out:
			}
		}()
	}
	return out
}

// Threadlet is a single-shot cooperative worker: Start runs StartFunc
// once and schedules RunFunc; Stop signals cancellation and awaits
// RunFunc's completion. Re-entering Start before a matching Stop fails
// with ErrAlreadyRunning.
type Threadlet struct {
	startFn StartFunc
	runFn   RunFunc

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan error
}

// New builds a Threadlet around the given callbacks. Either may be nil.
func New(startFn StartFunc, runFn RunFunc) *Threadlet {
	return &Threadlet{startFn: startFn, runFn: runFn}
}

// Start runs StartFunc synchronously, then schedules RunFunc on a new
// goroutine.
func (t *Threadlet) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	stopCh := make(chan struct{})
	done := make(chan error, 1)
	t.stopCh = stopCh
	t.doneCh = done
	t.mu.Unlock()

	if t.startFn != nil {
		if err := t.startFn(ctx); err != nil {
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			return err
		}
	}

	access := &Access{stopCh: stopCh}
	go func() {
		var err error
		if t.runFn != nil {
			err = t.runFn(ctx, access)
		}
		done <- err
	}()
	return nil
}

// Stop signals cancellation and blocks until RunFunc has returned. It is
// a no-op if the Threadlet isn't running.
func (t *Threadlet) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	stopCh := t.stopCh
	done := t.doneCh
	t.mu.Unlock()

	close(stopCh)
	err := <-done

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	return err
}

// Running reports whether the Threadlet is currently between Start and
// Stop.
func (t *Threadlet) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
