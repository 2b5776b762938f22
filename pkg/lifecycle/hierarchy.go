package lifecycle

import (
	"context"
	"sync"

	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
)

// HierarchyOwner builds a replacement subtree for a WrappedHierarchy. old
// is the currently-running root, handed over so the owner can reuse
// anything from it that survives the rebuild (e.g. a still-valid
// listener). Returning an error leaves old running untouched.
type HierarchyOwner interface {
	MakeHierarchy(ctx context.Context, old *Component) (*Component, error)
}

// WrappedHierarchy supports a component that owns a mutable inner
// root: PrepareToRestart builds a replacement
// subtree without disturbing the one currently serving traffic;
// Restart starts the replacement and only then stops the old one, so
// the old hierarchy keeps serving until the new one is up; for that
// short overlap both hierarchies are running.
type WrappedHierarchy struct {
	mu      sync.Mutex
	owner   HierarchyOwner
	logger  telemetry.Logger
	current *Component
	pending *Component
}

// NewWrappedHierarchy wraps an already-running initial hierarchy.
func NewWrappedHierarchy(owner HierarchyOwner, initial *Component, logger telemetry.Logger) *WrappedHierarchy {
	return &WrappedHierarchy{owner: owner, current: initial, logger: logger}
}

// Current returns the hierarchy presently serving traffic.
func (w *WrappedHierarchy) Current() *Component {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// PrepareToRestart builds a replacement subtree via the owner's
// MakeHierarchy. On failure it logs errorDuringReload and leaves the
// current hierarchy running untouched -- the caller should treat this as
// "reload declined", not as a fatal error.
func (w *WrappedHierarchy) PrepareToRestart(ctx context.Context) error {
	w.mu.Lock()
	old := w.current
	w.mu.Unlock()

	next, err := w.owner.MakeHierarchy(ctx, old)
	if err != nil {
		w.logger.EmitError("errorDuringReload", err, nil)
		return err
	}

	w.mu.Lock()
	w.pending = next
	w.mu.Unlock()
	return nil
}

// Restart starts the prepared replacement and, once it is running,
// stops the old hierarchy (with willReload=true). It is a no-op if
// PrepareToRestart hasn't produced a pending hierarchy.
func (w *WrappedHierarchy) Restart(ctx context.Context) error {
	w.mu.Lock()
	next := w.pending
	old := w.current
	w.mu.Unlock()

	if next == nil {
		return nil
	}

	if err := next.Start(ctx); err != nil {
		w.logger.EmitError("errorDuringReload", err, nil)
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.current = next
	w.pending = nil
	w.mu.Unlock()

	if old != nil {
		return old.Stop(ctx, true)
	}
	return nil
}
