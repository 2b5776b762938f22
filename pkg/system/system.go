/*
Package system supplies the process-level root component: a
KeepRunning child that holds the process open, and the
reload/stop thread loop that serializes signal-driven requests against
a lifecycle.WrappedHierarchy so at most one rebuild is ever in flight.

It also holds the Builder, which turns a configuration file into the
component hierarchy the System supervises: one Impl at the root of the
whole tree, started once by cmd/lactoserv and stopped once on
shutdown.
*/
package system

import (
	"context"
	"sync"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/lifecycle"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
)

// KeepRunning holds a background goroutine alive for the lifetime of
// the process, emitting an occasional heartbeat event. It anchors the
// stop ordering (it is the last thing stopped) and doubles as a
// liveness signal a metrics scraper or procinfo reader can correlate
// against.
type KeepRunning struct {
	interval time.Duration
	thread   *lifecycle.Threadlet
	logger   telemetry.Logger
}

// NewKeepRunning builds a KeepRunning with the given heartbeat
// interval (zero means 30s).
func NewKeepRunning(interval time.Duration, logger telemetry.Logger) *KeepRunning {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	k := &KeepRunning{interval: interval, logger: logger.Sub("component", "keepRunning")}
	k.thread = lifecycle.New(nil, k.run)
	return k
}

// Start begins the heartbeat loop.
func (k *KeepRunning) Start(ctx context.Context) error {
	return k.thread.Start(ctx)
}

// Stop ends the heartbeat loop, blocking until it has exited.
func (k *KeepRunning) Stop() error {
	return k.thread.Stop()
}

func (k *KeepRunning) run(ctx context.Context, access *lifecycle.Access) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-access.WhenStopRequested():
			return nil
		case <-ticker.C:
			k.logger.EmitAt(telemetry.DebugLevel, "heartbeat", nil)
		}
	}
}

// System is the root Impl: it owns the KeepRunning
// child and the wrapped hierarchy, and serializes reload/stop requests
// through a single thread loop so a reload can never race a shutdown.
//
// System is itself meant to be wrapped in a lifecycle.Component via
// lifecycle.NewRoot, so it composes with the same Init/Start/Stop
// machinery every other component uses; its own children (if any)
// are whatever cmd/lactoserv attaches via AddChild before Start.
type System struct {
	lifecycle.NopImpl

	keepRunning *KeepRunning
	wrapped     *lifecycle.WrappedHierarchy
	thread      *lifecycle.Threadlet
	logger      telemetry.Logger

	mu       sync.Mutex
	reloadCh chan struct{}
}

// New builds a System wrapping an already-started initial hierarchy.
// owner rebuilds the hierarchy from current configuration on reload.
func New(owner lifecycle.HierarchyOwner, initial *lifecycle.Component, logger telemetry.Logger) *System {
	logger = logger.Sub("component", "system")
	s := &System{
		keepRunning: NewKeepRunning(0, logger),
		wrapped:     lifecycle.NewWrappedHierarchy(owner, initial, logger),
		logger:      logger,
		reloadCh:    make(chan struct{}, 1),
	}
	s.thread = lifecycle.New(nil, s.runLoop)
	return s
}

// RequestReload enqueues a reload request. A request already pending
// absorbs a second one, matching "a reload flag, not a reload queue".
func (s *System) RequestReload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Current returns the hierarchy presently serving traffic.
func (s *System) Current() *lifecycle.Component {
	return s.wrapped.Current()
}

// Start launches KeepRunning and the reload/stop thread loop. The
// wrapped hierarchy's initial root is assumed to already be running.
func (s *System) Start(ctx context.Context, self *lifecycle.Component) error {
	if err := s.keepRunning.Start(ctx); err != nil {
		return err
	}
	return s.thread.Start(ctx)
}

// Stop stops the thread loop, then the currently-serving hierarchy,
// then KeepRunning -- the reverse of Start. Errors along the way are
// logged rather than
// aborting the rest of the sequence, so a single misbehaving
// sub-component never strands the process.
func (s *System) Stop(ctx context.Context, self *lifecycle.Component, willReload bool) error {
	var firstErr error
	note := func(eventType string, err error) {
		if err == nil {
			return
		}
		s.logger.EmitError(eventType, err, nil)
		if firstErr == nil {
			firstErr = err
		}
	}

	note("errorDuringSystemStop", s.thread.Stop())
	if cur := s.wrapped.Current(); cur != nil {
		note("errorDuringHierarchyStop", cur.Stop(ctx, willReload))
	}
	note("errorDuringKeepRunningStop", s.keepRunning.Stop())
	return firstErr
}

// runLoop is the System's own thread: it awaits either a stop request
// or a reload request and, on reload, rebuilds and swaps the
// hierarchy. A failure to rebuild is logged and the currently-running
// hierarchy keeps serving traffic untouched; a failure during the
// initial Start (before runLoop
// is even scheduled) propagates normally through Component.Start.
func (s *System) runLoop(ctx context.Context, access *lifecycle.Access) error {
	for {
		select {
		case <-access.WhenStopRequested():
			return nil
		case <-s.reloadCh:
			s.reload(ctx)
		}
	}
}

func (s *System) reload(ctx context.Context) {
	if err := s.wrapped.PrepareToRestart(ctx); err != nil {
		return
	}
	if err := s.wrapped.Restart(ctx); err != nil {
		return
	}
	s.logger.Emit("reloadComplete", nil)
}
