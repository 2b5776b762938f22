/*
Package telemetry provides the structured logging façade and the
optional Prometheus metrics service used across the component hierarchy.

Logging is built around zerolog: one base logger, and a tree of cheap
value-typed children derived with Sub. Instead of one helper per tag
name (WithComponent, WithNodeID, WithServiceID), Logger.Sub accepts an arbitrary tag and returns a new Logger, so
callers build their own tag chains:

	l := telemetry.New(nil)
	reqLog := l.Sub("endpoint", "api").Sub("conn", sessionID.String())
	reqLog.Emit("requestStarted", map[string]any{"method": r.Method})

Event emission is a single method, Emit(eventType, payload): no
runtime proxies, no magic property access.
*/
package telemetry
