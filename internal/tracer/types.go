// Package tracer implements the execution tracer: a synchronous hook fed
// call/line/return events by instrumented code, the breakpoint and stepping
// state machine, and the pause/resume rendezvous with a debugger client.
//
// The host runtime in the original system installs a single per-thread
// trace-hook callback and walks an implicit call stack. Go has neither: this
// package instead threads an explicit *CallContext through instrumented
// code, the same way context.Context or an OpenTelemetry span is threaded.
// A traced call looks like:
//
//	ctx, leave := tr.Call(parentCtx, tracer.CallInfo{FunctionName: "f", ScriptID: "pkg/mod", LineNumber: 10}, scope)
//	defer leave()
//	tr.Line(ctx, 11)
//
// This also gives the "embedding frame" boundary from spec.md §4.1 for
// free: a CallContext chain naturally terminates at nil once it reaches the
// first traced call above the embedder, with no special bookkeeping needed
// at Attach time.
package tracer

import "apex-build/internal/inspector"

// CallInfo identifies one call activation: the function's (possibly
// type-qualified) name, the script it lives in, and its definition line.
type CallInfo struct {
	FunctionName string
	ScriptID     string
	LineNumber   int // 1-based, internal
}

// FrameAccessor exposes a traced frame's variable environment. Instrumented
// code supplies one alongside each Call.
type FrameAccessor interface {
	Locals() map[string]any
	Globals() map[string]any
}

// MapAccessor is the common case: a frame backed by two plain maps.
type MapAccessor struct {
	LocalVars  map[string]any
	GlobalVars map[string]any
}

func (m MapAccessor) Locals() map[string]any  { return m.LocalVars }
func (m MapAccessor) Globals() map[string]any { return m.GlobalVars }

// Location is a (script, line) pair in wire (0-based) form.
type Location struct {
	ScriptID   string
	LineNumber int
}

// Frame is one activation on the traced call chain.
type Frame struct {
	id       string
	info     CallInfo
	scope    FrameAccessor
	parent   *Frame
	skipped  bool
	isWorker bool
	line     int // current 1-based line, updated by Line

	// listenerHandles carries each CallListener's own per-call-chain
	// handle (e.g. the Profiler's current Trace node), keyed by
	// listener identity so a child Call can hand the parent's handle
	// back to the same listener without a shared global stack — each
	// goroutine's call chain carries its own, which is what makes this
	// safe under concurrent traced goroutines.
	listenerHandles map[CallListener]any
}

// CallContext is the handle instrumented code carries across a call's
// lifetime, analogous to context.Context.
type CallContext struct {
	frame *Frame
}

// StepMode is the tracer's stepping state (spec.md §4.1).
type StepMode int

const (
	StepNone StepMode = iota
	StepInto
	StepOver
	StepOut
)

// FrameSnapshot is the wire-adjacent view of one paused frame.
type FrameSnapshot struct {
	FrameID      string
	FunctionName string
	Location     Location
	ScopeChain   []ScopeEntry
}

// ScopeEntry is one entry of a FrameSnapshot's scope chain.
type ScopeEntry struct {
	Kind   string // "local" or "global"
	Object inspector.RemoteObject
}

// EventSink receives the Tracer's asynchronous notifications. The Broker
// implements it; the Tracer never imports it, to keep the dependency
// direction leaf-ward.
type EventSink interface {
	ScriptParsed(scriptID string)
	Paused(frames []FrameSnapshot)
	Resumed()
}

// SourceResult classifies the outcome of a SourceProvider lookup.
type SourceResult int

const (
	SourceFound SourceResult = iota
	SourceNotAvailable
	SourceBuiltin
)

// SourceProvider resolves a script id to its textual source, when available.
type SourceProvider func(scriptID string) (source string, result SourceResult)
