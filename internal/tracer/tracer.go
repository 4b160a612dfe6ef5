package tracer

import (
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"apex-build/internal/inspector"
	"apex-build/internal/logging"
)

// backtraceGroup is the Inspector object group every paused-frame scope
// chain is registered under; it is released as a whole at resume, since
// spec.md §3 says frame snapshot identifiers are invalid once the traced
// thread resumes.
const backtraceGroup = "backtrace"

// BreakpointStore persists a breakpoint set against a script the Tracer
// hasn't announced yet, so it survives a process restart and is replayed
// the moment that script is first seen (SPEC_FULL.md domain stack §2).
// internal/store's Store satisfies this directly; kept as an interface
// here, rather than an import, so the Tracer stays free of any storage
// dependency.
type BreakpointStore interface {
	SaveBreakpoint(scriptID string, lineWire int) error
	PendingLinesForScript(scriptID string) ([]int, error)
}

// Tracer is the process-singleton execution tracer: it owns the breakpoint
// map, the stepping state machine, and the pause rendezvous, and notifies an
// EventSink of script discovery and pause/resume transitions.
type Tracer struct {
	registry *inspector.Registry
	sink     EventSink
	source   SourceProvider
	skipGlobs []string

	// pauseSlot is held for the full duration of one pause, from the
	// moment a traced goroutine decides to stop until it is resumed. A
	// second goroutine reaching a pause condition blocks acquiring it,
	// which is exactly the "at most one frame paused at a time" gate
	// (spec.md §5) — rather than a bare check-and-reject, the mutex
	// itself serializes concurrent pause attempts.
	pauseSlot sync.Mutex

	mu                sync.Mutex
	attached          bool
	scripts           map[string]struct{}
	breakpoints       map[string]map[int]struct{}
	breakpointsActive bool
	stepMode          StepMode
	stepLevel         int
	continueTarget    *Location
	currentFrame      *Frame
	resume            *resumeSignal
	listeners         []CallListener
	persist           BreakpointStore

	frameSeq int64
}

// CallListener is notified of every call/return a non-skipped, non-worker
// frame makes. OnCall returns an opaque per-call handle echoed back on the
// matching OnReturn, letting a listener (the Profiler) correlate the pair
// without the Tracer knowing anything about its shape.
type CallListener interface {
	OnCall(info CallInfo, parentHandle any) (handle any)
	OnReturn(info CallInfo, handle any)
}

// New constructs a Tracer. registry is shared with the Inspector/Session so
// frame scopes and evaluate results land in the same object space the
// client later queries with Runtime.getProperties.
func New(registry *inspector.Registry, sink EventSink, source SourceProvider, skipGlobs []string) *Tracer {
	return &Tracer{
		registry:          registry,
		sink:              sink,
		source:            source,
		skipGlobs:         skipGlobs,
		scripts:           make(map[string]struct{}),
		breakpoints:       make(map[string]map[int]struct{}),
		breakpointsActive: true,
	}
}

// Attach installs the tracer. Instrumented code checks IsAttached (via Call)
// before producing events.
func (t *Tracer) Attach() {
	t.mu.Lock()
	t.attached = true
	t.mu.Unlock()
}

// Detach removes the tracer. If a thread is paused at the moment of detach,
// its resume signal fires so it runs to completion rather than hanging
// forever (spec.md §5, shutdown behavior).
func (t *Tracer) Detach() {
	t.mu.Lock()
	t.attached = false
	r := t.resume
	t.currentFrame = nil
	t.mu.Unlock()
	if r != nil {
		r.fire()
	}
}

func (t *Tracer) isAttached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attached
}

// SetBreakpointStore wires a BreakpointStore for SetBreak to persist into
// and announceScript to replay from. Nil (the default) disables
// persistence entirely; cmd/debugagent only calls this when
// internal/store's Store opened successfully.
func (t *Tracer) SetBreakpointStore(p BreakpointStore) {
	t.mu.Lock()
	t.persist = p
	t.mu.Unlock()
}

// IsAttached reports whether Attach has been called without a subsequent
// Detach, for callers (internal/session's resume-class command guards) that
// need to refuse an operation rather than silently no-op against a
// detached tracer.
func (t *Tracer) IsAttached() bool {
	return t.isAttached()
}

// SetTrace attaches (if not already) and forces the next executable line in
// ctx to pause, the canonical "breakpoint in source" idiom (spec.md §6).
func (t *Tracer) SetTrace(ctx *CallContext) *CallContext {
	t.Attach()
	t.mu.Lock()
	t.stepMode = StepInto
	t.stepLevel = 0
	t.mu.Unlock()
	return ctx
}

// WorkerContext returns a CallContext flagged as belonging to the agent's
// own dispatcher worker. Frames descended from it never participate in
// pause decisions, mirroring the original's identity check against the
// ChromeDebug thread name (spec.md §5).
func (t *Tracer) WorkerContext() *CallContext {
	return &CallContext{frame: &Frame{isWorker: true}}
}

func (t *Tracer) nextFrameID() string {
	return strconv.FormatInt(atomic.AddInt64(&t.frameSeq, 1), 10)
}

func (t *Tracer) matchesSkip(scriptID string) bool {
	for _, g := range t.skipGlobs {
		// path.Match's "*" only matches within a single path segment, so a
		// trailing "*" is treated as a directory-prefix match instead:
		// "apex-build/internal/*" must skip "apex-build/internal/tracer/x.go",
		// not just direct children of internal/.
		if strings.HasSuffix(g, "*") {
			if strings.HasPrefix(scriptID, strings.TrimSuffix(g, "*")) {
				return true
			}
			continue
		}
		if ok, _ := path.Match(g, scriptID); ok {
			return true
		}
		if strings.HasPrefix(scriptID, g) {
			return true
		}
	}
	return false
}

// Call enters a new traced activation. It returns the child CallContext and
// a leave function the caller must invoke (typically via defer) when the
// call returns.
func (t *Tracer) Call(parent *CallContext, info CallInfo, scope FrameAccessor) (*CallContext, func()) {
	var parentFrame *Frame
	inheritedSkip := false
	inheritedWorker := false
	if parent != nil {
		parentFrame = parent.frame
		inheritedSkip = parentFrame.skipped
		inheritedWorker = parentFrame.isWorker
	}

	frame := &Frame{
		id:       t.nextFrameID(),
		info:     info,
		scope:    scope,
		parent:   parentFrame,
		skipped:  inheritedSkip || t.matchesSkip(info.ScriptID),
		isWorker: inheritedWorker,
		line:     info.LineNumber,
	}
	ctx := &CallContext{frame: frame}

	if !t.isAttached() || frame.skipped || frame.isWorker {
		return ctx, func() {}
	}

	t.announceScript(info.ScriptID)

	t.mu.Lock()
	if t.stepMode == StepOver || t.stepMode == StepOut {
		t.stepLevel++
	}
	listeners := t.listeners
	t.mu.Unlock()

	if len(listeners) > 0 {
		frame.listenerHandles = make(map[CallListener]any, len(listeners))
		for _, l := range listeners {
			var parentHandle any
			if parentFrame != nil {
				parentHandle = parentFrame.listenerHandles[l]
			}
			frame.listenerHandles[l] = safeOnCall(l, info, parentHandle)
		}
	}

	return ctx, func() {
		t.mu.Lock()
		mode := t.stepMode
		if mode == StepOver || mode == StepOut {
			t.stepLevel--
		}
		outPause := mode == StepOut && t.stepLevel < 0
		t.mu.Unlock()

		for _, l := range listeners {
			safeOnReturn(l, info, frame.listenerHandles[l])
		}
		if outPause {
			t.enterPause(ctx)
		}
	}
}

// AddListener registers a CallListener (the Profiler) to be notified of
// every traced call/return alongside the tracer's own bookkeeping. Ordering
// between multiple listeners, and between a listener and the pause
// protocol, is undefined (spec.md §9's reentry-semantics note).
func (t *Tracer) AddListener(l CallListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// RemoveListener unregisters a previously-added CallListener.
func (t *Tracer) RemoveListener(l CallListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.listeners {
		if existing == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func safeOnCall(l CallListener, info CallInfo, parentHandle any) (handle any) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Debug("tracer: listener OnCall panicked, dropping", zap.Any("recover", r))
		}
	}()
	return l.OnCall(info, parentHandle)
}

func safeOnReturn(l CallListener, info CallInfo, handle any) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Debug("tracer: listener OnReturn panicked, dropping", zap.Any("recover", r))
		}
	}()
	l.OnReturn(info, handle)
}

func (t *Tracer) announceScript(scriptID string) {
	t.mu.Lock()
	_, known := t.scripts[scriptID]
	if !known {
		t.scripts[scriptID] = struct{}{}
	}
	t.mu.Unlock()
	if !known {
		t.replayPersistedBreakpoints(scriptID)
		t.sink.ScriptParsed(scriptID)
	}
}

// replayPersistedBreakpoints loads any breakpoints SetBreak recorded
// against scriptID in a previous process lifetime and installs them, so a
// breakpoint set before the script was ever seen still fires once it is.
func (t *Tracer) replayPersistedBreakpoints(scriptID string) {
	t.mu.Lock()
	persist := t.persist
	t.mu.Unlock()
	if persist == nil {
		return
	}

	lines, err := persist.PendingLinesForScript(scriptID)
	if err != nil {
		logging.L().Warn("tracer: failed to load pending breakpoints", zap.String("scriptId", scriptID), zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	bps, ok := t.breakpoints[scriptID]
	if !ok {
		bps = make(map[int]struct{})
		t.breakpoints[scriptID] = bps
	}
	for _, lineWire := range lines {
		bps[wireToInternal(lineWire)] = struct{}{}
	}
}

// Line reports that ctx's frame reached lineInternal (1-based), consulting
// breakpoints and step state to decide whether to pause.
func (t *Tracer) Line(ctx *CallContext, lineInternal int) {
	if ctx == nil || ctx.frame == nil || ctx.frame.skipped || ctx.frame.isWorker {
		return
	}
	if !t.isAttached() {
		return
	}
	frame := ctx.frame
	frame.line = lineInternal

	t.mu.Lock()
	mode := t.stepMode
	level := t.stepLevel
	target := t.continueTarget
	active := t.breakpointsActive
	hasBreak := t.hasBreakpointLocked(frame.info.ScriptID, lineInternal)
	t.mu.Unlock()

	pause := false
	switch mode {
	case StepInto:
		pause = true
	case StepOver:
		pause = level <= 0
	case StepOut:
		pause = level < 0
	}
	if !pause && target != nil && frame.info.ScriptID == target.ScriptID && lineInternal >= wireToInternal(target.LineNumber) {
		pause = true
	}
	if !pause && active && hasBreak {
		pause = true
	}
	if pause {
		t.enterPause(ctx)
	}
}

func (t *Tracer) hasBreakpointLocked(scriptID string, lineInternal int) bool {
	lines, ok := t.breakpoints[scriptID]
	if !ok {
		return false
	}
	_, ok = lines[lineInternal]
	return ok
}

// enterPause runs the pause rendezvous: serialize on pauseSlot, install
// currentFrame, broadcast Paused, block until resumed, then uninstall.
func (t *Tracer) enterPause(ctx *CallContext) {
	t.pauseSlot.Lock()
	defer t.pauseSlot.Unlock()

	if !t.isAttached() {
		return
	}

	snapshot := t.snapshotChain(ctx.frame)

	t.mu.Lock()
	t.currentFrame = ctx.frame
	r := newResumeSignal()
	t.resume = r
	t.mu.Unlock()

	safeCall(func() { t.sink.Paused(snapshot) })

	r.wait()

	t.mu.Lock()
	t.currentFrame = nil
	t.mu.Unlock()
	t.registry.Release(backtraceGroup)

	safeCall(func() { t.sink.Resumed() })
}

// safeCall matches spec.md §7's propagation policy: a failure inside a
// trace-hook-adjacent callback is swallowed, never allowed to reach the
// traced program.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Debug("tracer: event sink panicked, dropping", zap.Any("recover", r))
		}
	}()
	fn()
}

func wireToInternal(wire int) int { return wire + 1 }
func internalToWire(internal int) int { return internal - 1 }

// IsPaused reports whether a frame is currently paused, for Session's
// Debugger.enable replay (spec.md §4.4).
func (t *Tracer) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentFrame != nil
}

// CurrentSnapshot returns the snapshot of the currently paused frame chain,
// or nil if nothing is paused.
func (t *Tracer) CurrentSnapshot() []FrameSnapshot {
	t.mu.Lock()
	frame := t.currentFrame
	t.mu.Unlock()
	if frame == nil {
		return nil
	}
	return t.snapshotChain(frame)
}

// KnownScripts lists every script id announced so far, for replaying
// scriptParsed to a client that enables the Debugger domain late.
func (t *Tracer) KnownScripts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.scripts))
	for id := range t.scripts {
		out = append(out, id)
	}
	return out
}
