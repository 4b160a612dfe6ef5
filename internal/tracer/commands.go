package tracer

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"apex-build/internal/errs"
	"apex-build/internal/logging"
)

// BreakpointEcho is returned by SetBreak, echoing the stored location back
// on the wire (0-based).
type BreakpointEcho struct {
	ID         string
	ScriptID   string
	LineNumber int
}

// SetBreak records a breakpoint at lineWire (0-based) in scriptID and
// returns its id and wire echo (spec.md §4.1).
func (t *Tracer) SetBreak(scriptID string, lineWire int) BreakpointEcho {
	internal := wireToInternal(lineWire)

	t.mu.Lock()
	lines, ok := t.breakpoints[scriptID]
	if !ok {
		lines = make(map[int]struct{})
		t.breakpoints[scriptID] = lines
	}
	lines[internal] = struct{}{}
	_, known := t.scripts[scriptID]
	persist := t.persist
	t.mu.Unlock()

	if persist != nil && !known {
		if err := persist.SaveBreakpoint(scriptID, lineWire); err != nil {
			logging.L().Warn("tracer: failed to persist breakpoint", zap.String("scriptId", scriptID), zap.Error(err))
		}
	}

	return BreakpointEcho{
		ID:         breakpointID(scriptID, lineWire),
		ScriptID:   scriptID,
		LineNumber: lineWire,
	}
}

func breakpointID(scriptID string, lineWire int) string {
	return fmt.Sprintf("%s:%d", scriptID, lineWire)
}

// ClearBreak removes a breakpoint by id ("<scriptId>:<lineWire>"), deleting
// the script's entry entirely once its last breakpoint is gone.
func (t *Tracer) ClearBreak(id string) error {
	scriptID, lineWire, err := parseBreakpointID(id)
	if err != nil {
		return err
	}
	internal := wireToInternal(lineWire)

	t.mu.Lock()
	defer t.mu.Unlock()
	lines, ok := t.breakpoints[scriptID]
	if !ok {
		return nil
	}
	delete(lines, internal)
	if len(lines) == 0 {
		delete(t.breakpoints, scriptID)
	}
	return nil
}

func parseBreakpointID(id string) (scriptID string, lineWire int, err error) {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("%w: malformed breakpoint id %q", errs.ErrLookupMiss, id)
	}
	line, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: malformed breakpoint id %q", errs.ErrLookupMiss, id)
	}
	return id[:idx], line, nil
}

// SetBreakpointsActive gates breakpoint checks in Line without discarding
// the stored map.
func (t *Tracer) SetBreakpointsActive(active bool) {
	t.mu.Lock()
	t.breakpointsActive = active
	t.mu.Unlock()
}

// GetScriptSource returns scriptID's textual source, or one of the three
// exact sentinel strings spec.md §6 mandates.
func (t *Tracer) GetScriptSource(scriptID string) string {
	t.mu.Lock()
	_, known := t.scripts[scriptID]
	t.mu.Unlock()
	if !known {
		return "Module not found"
	}
	if t.source == nil {
		return "Source not available"
	}
	src, result := t.source(scriptID)
	switch result {
	case SourceBuiltin:
		return "Built-in module"
	case SourceFound:
		return src
	default:
		return "Source not available"
	}
}

// resumeClass clears currentFrame, fires the resume signal, and (for
// stepping commands) resets step_level, per spec.md §4.1. It is a no-op
// against a detached or not-currently-paused tracer.
func (t *Tracer) resumeClass(mode StepMode, target *Location) {
	t.mu.Lock()
	if t.currentFrame == nil || !t.attached {
		t.mu.Unlock()
		return
	}
	t.stepMode = mode
	t.stepLevel = 0
	t.continueTarget = target
	r := t.resume
	t.mu.Unlock()

	if r != nil {
		r.fire()
	}
}

// Resume lets the paused thread run to completion (step mode none).
func (t *Tracer) Resume() { t.resumeClass(StepNone, nil) }

// StepInto pauses at the very next line, including inside any call made
// before then.
func (t *Tracer) StepInto() { t.resumeClass(StepInto, nil) }

// StepOver pauses at the next line in the same (or an outer) frame,
// skipping over any calls made in between.
func (t *Tracer) StepOver() { t.resumeClass(StepOver, nil) }

// StepOut pauses once the current frame returns to its caller.
func (t *Tracer) StepOut() { t.resumeClass(StepOut, nil) }

// ContinueToLocation resumes execution until scriptID reaches or passes
// lineWire.
func (t *Tracer) ContinueToLocation(scriptID string, lineWire int) {
	t.resumeClass(StepNone, &Location{ScriptID: scriptID, LineNumber: lineWire})
}

// Pause is presently satisfied implicitly: the host runtime in the original
// system can interrupt arbitrary native code via a signal, which Go cannot
// do safely for goroutines running user code. An agent embedder wanting an
// explicit "pause at the next instrumented line regardless of breakpoints"
// gets the same effect via SetTrace; Pause forces step_into for the next
// line reached by any traced goroutine, the closest equivalent this
// explicit-hook design can offer without unsafe runtime interruption.
func (t *Tracer) Pause() {
	t.mu.Lock()
	t.stepMode = StepInto
	t.stepLevel = 0
	t.mu.Unlock()
}
