package lifecycle

import "errors"

// Sentinel errors for the module's failure taxonomy. Callers compare with
// errors.Is; wrapped instances may carry additional context via %w.
var (
	// ErrConfigInvalid marks a structural or semantic configuration
	// failure detected before anything starts.
	ErrConfigInvalid = errors.New("config-invalid")

	// ErrWrongState marks API misuse of a Component: Init on a running
	// or stopped component, Start on a stopped one, or any other
	// transition attempted out of order. A second Init on an initialized
	// component and a second Start on a running one are no-ops and do
	// not return it.
	ErrWrongState = errors.New("wrong-state")

	// ErrDuplicateBinding marks two mounts (or any other exactly-once
	// binding) colliding on the same key.
	ErrDuplicateBinding = errors.New("duplicate-binding")

	// ErrAlreadyRunning marks Threadlet.Start called while a previous
	// run is still active.
	ErrAlreadyRunning = errors.New("already-running")

	// ErrNoHostMatch and ErrNoPathMatch are request-level routing
	// misses, recovered by the caller as a 404.
	ErrNoHostMatch = errors.New("no-host-match")
	ErrNoPathMatch = errors.New("no-path-match")

	// ErrRateLimitTooManyWaiters and ErrRateLimitShutdown are token
	// bucket failure modes; both leave the bucket usable.
	ErrRateLimitTooManyWaiters = errors.New("rate-limit-too-many-waiters")
	ErrRateLimitShutdown       = errors.New("rate-limit-shutdown")

	// ErrTLSHandshakeFailed marks a failed TLS handshake; the
	// connection is dropped and the error logged.
	ErrTLSHandshakeFailed = errors.New("tls-handshake-failed")

	// ErrBackendError marks an application handler that threw or
	// returned an error; the wrangler converts this into a 5xx.
	ErrBackendError = errors.New("backend-error")

	// ErrNotSupported marks an unsupported stream mode (e.g. an
	// object-mode stream handed to the rate-limited stream wrapper).
	ErrNotSupported = errors.New("not-supported")
)
