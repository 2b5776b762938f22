package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"unicode"

	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
)

// State is a Component's position in the new -> initialized -> running ->
// stopped lifecycle.
type State int

const (
	StateNew State = iota
	StateInitialized
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Impl supplies the per-component lifecycle hooks. self is handed
// back so a hook can call self.AddChild
// during Init, or inspect self.Config() during Start.
type Impl interface {
	// Init runs once, moving the component from new to initialized. It
	// may register children via self.AddChild.
	Init(ctx context.Context, self *Component) error

	// Start runs after every child has fully started.
	Start(ctx context.Context, self *Component) error

	// Stop runs before children are stopped, in reverse insertion
	// order. willReload distinguishes a reload from a shutdown.
	Stop(ctx context.Context, self *Component, willReload bool) error
}

// NopImpl is an Impl whose hooks all succeed and do nothing; components
// that only exist to group children (e.g. a services container) embed
// this instead of writing three empty methods.
type NopImpl struct{}

func (NopImpl) Init(context.Context, *Component) error                 { return nil }
func (NopImpl) Start(context.Context, *Component) error                { return nil }
func (NopImpl) Stop(context.Context, *Component, bool) error           { return nil }

// ControlContext is the per-hierarchy record threaded down from the
// root: the logger lineage and a back-pointer to the root component
// itself. It is shared (by pointer) by every component in one
// hierarchy; the root's ControlContext is the one with Root == itself.
type ControlContext struct {
	Root *Component
}

// Component is the uniform lifecycle/supervision node: every endpoint,
// application, and service in this module is one. Name is unique among
// siblings; Parent is a weak back-reference used only for lookup (Root,
// logging); children are owned exclusively, in insertion order, by this
// struct's children slice.
type Component struct {
	mu       sync.Mutex
	name     string
	parent   *Component
	children []*Component
	state    State
	config   any
	logger   telemetry.Logger
	ctrl     *ControlContext
	impl     Impl

	stoppedCh chan struct{}
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			continue
		}
		return false
	}
	return true
}

// NewComponent builds a non-root component. Attach it to a parent with
// Component.AddChild before starting the hierarchy.
func NewComponent(name string, config any, impl Impl) (*Component, error) {
	if !isValidName(name) {
		return nil, fmt.Errorf("%w: invalid component name %q", ErrConfigInvalid, name)
	}
	if impl == nil {
		impl = NopImpl{}
	}
	return &Component{
		name:      name,
		config:    config,
		impl:      impl,
		state:     StateNew,
		stoppedCh: make(chan struct{}),
	}, nil
}

// NewRoot builds a root component: its ControlContext.Root points back
// at itself, and logger is the base of the whole hierarchy's tag chain.
func NewRoot(name string, config any, impl Impl, logger telemetry.Logger) (*Component, error) {
	c, err := NewComponent(name, config, impl)
	if err != nil {
		return nil, err
	}
	c.logger = logger.Sub("component", name)
	c.ctrl = &ControlContext{}
	c.ctrl.Root = c
	return c, nil
}

// AddChild attaches child to c, in insertion order. It fails with
// ErrDuplicateBinding if a sibling already uses child's name, and with
// ErrWrongState if c has already started.
func (c *Component) AddChild(child *Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning || c.state == StateStopped {
		return fmt.Errorf("%w: cannot add child %q to %q in state %v", ErrWrongState, child.name, c.name, c.state)
	}
	for _, existing := range c.children {
		if existing.name == child.name {
			return fmt.Errorf("%w: sibling name %q already used under %q", ErrDuplicateBinding, child.name, c.name)
		}
	}
	child.parent = c
	child.ctrl = c.ctrl
	child.logger = c.logger.Sub("component", child.name)
	c.children = append(c.children, child)
	return nil
}

// Name returns the component's name.
func (c *Component) Name() string { return c.name }

// State returns the component's current lifecycle state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the frozen configuration record this component was
// built with.
func (c *Component) Config() any { return c.config }

// Parent returns the weak back-reference to this component's parent, or
// nil for a root.
func (c *Component) Parent() *Component { return c.parent }

// Root returns the hierarchy's root component.
func (c *Component) Root() *Component {
	if c.ctrl == nil {
		return c
	}
	return c.ctrl.Root
}

// Logger returns this component's tagged logger.
func (c *Component) Logger() telemetry.Logger { return c.logger }

// Children returns a shallow copy of the child list, in insertion order.
func (c *Component) Children() []*Component {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Component, len(c.children))
	copy(out, c.children)
	return out
}

// Init moves the component from new to initialized by running the
// Impl's Init hook. Calling Init again once initialized is a no-op;
// calling it from running/stopped fails with ErrWrongState.
func (c *Component) Init(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateInitialized:
		c.mu.Unlock()
		return nil
	case StateRunning:
		c.mu.Unlock()
		return fmt.Errorf("%w: init on running component %q", ErrWrongState, c.name)
	case StateStopped:
		c.mu.Unlock()
		return fmt.Errorf("%w: init on stopped component %q", ErrWrongState, c.name)
	}
	c.mu.Unlock()

	if err := c.impl.Init(ctx, c); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateInitialized
	c.mu.Unlock()
	return nil
}

// Start calls Init if needed, starts every child in insertion order,
// then runs the Impl's Start hook. If any child's Start fails, every
// previously-started child is stopped in reverse order and the error is
// propagated; the same unwind happens if the Impl's own Start fails.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		return nil
	case StateStopped:
		c.mu.Unlock()
		return fmt.Errorf("%w: start on stopped component %q", ErrWrongState, c.name)
	}
	c.mu.Unlock()

	if err := c.Init(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	children := make([]*Component, len(c.children))
	copy(children, c.children)
	c.mu.Unlock()

	started := make([]*Component, 0, len(children))
	for _, child := range children {
		if err := child.Start(ctx); err != nil {
			c.unwind(ctx, started)
			return fmt.Errorf("starting child %q of %q: %w", child.name, c.name, err)
		}
		started = append(started, child)
	}

	if err := c.impl.Start(ctx, c); err != nil {
		c.unwind(ctx, started)
		return fmt.Errorf("starting %q: %w", c.name, err)
	}

	c.mu.Lock()
	c.state = StateRunning
	c.mu.Unlock()
	return nil
}

func (c *Component) unwind(ctx context.Context, started []*Component) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx, false); err != nil {
			c.logger.EmitError("errorDuringUnwind", err, map[string]any{"child": started[i].name})
		}
	}
}

// Stop runs the Impl's Stop hook, then stops children in reverse
// insertion order, moving state to stopped. Calling Stop on a component
// that isn't running is a no-op logged at debug.
func (c *Component) Stop(ctx context.Context, willReload bool) error {
	c.mu.Lock()
	if c.state != StateRunning {
		state := c.state
		c.mu.Unlock()
		c.logger.EmitAt(telemetry.DebugLevel, "stopNoop", map[string]any{"component": c.name, "state": state.String()})
		return nil
	}
	children := make([]*Component, len(c.children))
	copy(children, c.children)
	c.mu.Unlock()

	implErr := c.impl.Stop(ctx, c, willReload)

	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Stop(ctx, willReload); err != nil && implErr == nil {
			implErr = err
		}
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	close(c.stoppedCh)

	return implErr
}

// WhenStopped returns a channel that closes once this component reaches
// the stopped state.
func (c *Component) WhenStopped() <-chan struct{} {
	return c.stoppedCh
}
