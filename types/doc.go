// Package types defines the shared domain model of the swarm coordination
// subsystem: agent, task, handoff, collaboration and consensus records, the
// status enums that drive their state machines, structured errors, and the
// domain events emitted on every mutating operation.
//
// The types package is the lowest-level package with no internal dependencies,
// so placing the shared contracts here avoids circular imports.
package types
