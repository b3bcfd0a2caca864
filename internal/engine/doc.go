// Package engine runs the inference session: one persistent Genie process
// spoken to over stdio, with a one-shot fallback when that channel cannot be
// used. It is structured into small files by concern:
//
//   - session.go: Session type, constructor, Start/Restart/Shutdown, state.
//   - config.go: Config and package defaults.
//   - types.go: State, Mode, Metrics and Status.
//   - admission.go: the single in-flight generation slot.
//   - generate.go: Generate entry point and the persistent exchange.
//   - fallback.go: the one-shot path.
//   - errors.go: error types and predicates (IsProtocolError, DiagnosticText...).
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: prometheus collectors.
//
// A Session never resurrects a failed persistent channel on its own. Once
// Degraded, every Generate uses the one-shot path until the owner calls
// Restart.
package engine
