// Package errs holds the sentinel error taxonomy shared by every protocol
// domain, so each boundary wraps with the same handful of well-known causes
// instead of inventing its own per package (spec.md §7).
package errs

import "errors"

var (
	// ErrProtocol covers a structurally well-formed request this agent
	// nonetheless refuses: unknown method, wrong param shape, disabled
	// domain.
	ErrProtocol = errors.New("protocol error")

	// ErrEvaluation covers a call-frame expression or callFunctionOn body
	// that parsed but failed at evaluation time.
	ErrEvaluation = errors.New("evaluation failed")

	// ErrLookupMiss covers a reference (object id, script id, breakpoint
	// id) the caller supplied that no longer resolves to anything live.
	ErrLookupMiss = errors.New("lookup miss")

	// ErrTerminationGuard covers an operation refused because it would
	// leave the traced program in an unrecoverable state (e.g. stopping
	// a profiler that is not recording).
	ErrTerminationGuard = errors.New("termination guard")

	// ErrNotAttached covers a tracer operation attempted before Attach or
	// after Detach.
	ErrNotAttached = errors.New("tracer not attached")

	// ErrUnknownMethod covers a JSON-RPC method with no handler in the
	// dispatch table.
	ErrUnknownMethod = errors.New("unknown method")
)
