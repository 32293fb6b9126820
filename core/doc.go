// Package core defines the shared data model of the EduInsight pipeline:
// message envelopes exchanged over the bus, normalized activity records,
// analysis requests and findings, the report job state machine and the
// error taxonomy used by every component. The package is intentionally free
// of behavior beyond constructors, state transition checks and error
// classification so that higher layers (bus, registry, coordinator, agents)
// can depend on it without import cycles.
package core
