/*
Package lifecycle provides the uniform component-supervision model the
rest of this module is built on: a singly-linked, promise-chained event
log (Event/Source/Sink), a cooperative single-shot worker (Threadlet),
and the Component base type with its new/initialized/running/stopped
state machine, parent/child wiring, and reload support.

The design follows the same shape as a cluster manager/worker pair: a
constructor that wires sub-collaborators, a Start that launches
background work, a Stop that's safe to call once and idempotent after.
Where such managers typically hard-code one concrete lifecycle each,
Component factors that pattern out so every endpoint, application, and
service in this module shares it.

Cyclic parent back-references are modeled as a
plain pointer looked up only for logging/root access, never used for
ownership; children are owned exclusively, in insertion order, by their
parent's slice.
*/
package lifecycle
