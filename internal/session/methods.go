package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"apex-build/internal/broker"
	"apex-build/internal/errs"
	"apex-build/internal/inspector"
)

func unmarshalParams[T any](raw json.RawMessage) (T, *RPCError) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, wrapErr(fmt.Errorf("%w: malformed params: %v", errs.ErrProtocol, err))
	}
	return p, nil
}

// --- Console -----------------------------------------------------------------

func (s *Session) consoleEnable() (any, *RPCError) {
	s.mu.Lock()
	s.consoleEnabled = true
	buffered := s.consoleBuffer
	s.consoleBuffer = nil
	s.mu.Unlock()

	for _, msg := range buffered {
		s.emitConsoleLocked(msg)
	}
	return map[string]any{}, nil
}

func (s *Session) consoleDisable() (any, *RPCError) {
	s.mu.Lock()
	s.consoleEnabled = false
	s.mu.Unlock()
	return map[string]any{}, nil
}

// --- Debugger ------------------------------------------------------------

func (s *Session) debuggerEnable() (any, *RPCError) {
	s.mu.Lock()
	s.debuggerEnabled = true
	s.mu.Unlock()

	for _, scriptID := range s.tracer.KnownScripts() {
		s.emit("Debugger.scriptParsed", map[string]any{"scriptId": scriptID, "url": scriptID})
	}
	if s.tracer.IsPaused() {
		s.emit("Debugger.paused", map[string]any{"callFrames": encodeFrames(s.tracer.CurrentSnapshot())})
	}
	return map[string]any{}, nil
}

func (s *Session) debuggerDisable() (any, *RPCError) {
	s.mu.Lock()
	s.debuggerEnabled = false
	s.mu.Unlock()
	return map[string]any{}, nil
}

func (s *Session) getScriptSource(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[getScriptSourceParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	return map[string]any{"scriptSource": s.tracer.GetScriptSource(p.ScriptID)}, nil
}

func (s *Session) setBreakpointByURL(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[setBreakpointByURLParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	echo := s.tracer.SetBreak(p.URL, p.LineNumber)
	return map[string]any{
		"breakpointId": echo.ID,
		"locations": []map[string]any{{
			"scriptId":   echo.ScriptID,
			"lineNumber": echo.LineNumber,
		}},
	}, nil
}

func (s *Session) removeBreakpoint(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[removeBreakpointParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	if err := s.tracer.ClearBreak(p.BreakpointID); err != nil {
		return nil, wrapErr(err)
	}
	return map[string]any{}, nil
}

func (s *Session) setBreakpointsActive(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[setBreakpointsActiveParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	s.tracer.SetBreakpointsActive(p.Active)
	return map[string]any{}, nil
}

func (s *Session) continueToLocation(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[continueToLocationParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	s.tracer.ContinueToLocation(p.Location.ScriptID, p.Location.LineNumber)
	return map[string]any{}, nil
}

func (s *Session) evaluateOnCallFrame(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[evaluateOnCallFrameParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	result, wasThrown, err := s.tracer.EvaluateOnFrame(p.CallFrameID, p.Expression)
	if err != nil {
		return nil, wrapErr(err)
	}
	return map[string]any{"result": result, "wasThrown": wasThrown}, nil
}

func (s *Session) getFunctionDetails(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[getFunctionDetailsParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	details, err := s.registry.GetFunctionDetails(p.FunctionID, "")
	if err != nil {
		return nil, wrapErr(err)
	}
	return map[string]any{"details": details}, nil
}

func (s *Session) setOverlayMessage(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[setOverlayMessageParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	if p.Message != "" {
		_, _ = s.diagnostic.Write([]byte("« " + p.Message + " »\n"))
	}
	return map[string]any{}, nil
}

// --- Profiler ------------------------------------------------------------

func (s *Session) profilerStart(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[startProfileParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	s.mu.Lock()
	s.profilingEnabled = true
	s.mu.Unlock()

	header := s.profiler.Start(p.Title)
	s.broker.TimelineLog(broker.TimelineEvent{Type: "setRecordingProfile", Data: map[string]any{"isProfiling": true}})
	return map[string]any{"header": header}, nil
}

func (s *Session) profilerStop() (any, *RPCError) {
	header, err := s.profiler.Stop()
	if err != nil {
		return nil, wrapErr(err)
	}
	s.mu.Lock()
	s.profilingEnabled = false
	s.mu.Unlock()

	s.persistProfile(header)

	s.broker.TimelineLog(broker.TimelineEvent{Type: "addProfileHeader", Data: map[string]any{"header": header}})
	s.broker.TimelineLog(broker.TimelineEvent{Type: "setRecordingProfile", Data: map[string]any{"isProfiling": false}})
	return map[string]any{"header": header}, nil
}

func (s *Session) getCPUProfile(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[getCPUProfileParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	profile, err := s.profiler.GetProfile(p.UID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return map[string]any{"profile": profile}, nil
}

// --- Runtime ---------------------------------------------------------------

func (s *Session) getProperties(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[getPropertiesParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	props := s.registry.ExtractProperties(p.ObjectID)
	if props == nil {
		props = []inspector.PropertyDescriptor{}
	}
	return map[string]any{"result": props}, nil
}

func (s *Session) releaseObjectGroup(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[releaseObjectGroupParams](raw)
	if rerr != nil {
		return nil, rerr
	}
	s.registry.Release(p.ObjectGroup)
	return map[string]any{}, nil
}

// callFunctionOn is the single generic hook the wire protocol exposes for
// two unrelated features: completion lookups ("getCompletions") and
// arbitrary remote-function invocation. Both are recognized by the
// functionDeclaration's prefix, matching spec.md §4.4's shim description.
func (s *Session) callFunctionOn(raw json.RawMessage) (any, *RPCError) {
	p, rerr := unmarshalParams[callFunctionOnParams](raw)
	if rerr != nil {
		return nil, rerr
	}

	switch {
	case strings.HasPrefix(p.FunctionDeclaration, "function getCompletions"):
		return s.getCompletions(p)
	case strings.HasPrefix(p.FunctionDeclaration, "function remoteFunction"):
		return s.remoteFunction(p)
	default:
		return nil, wrapErr(fmt.Errorf("%w: unsupported functionDeclaration", errs.ErrProtocol))
	}
}

// getCompletions lists the property names visible on the target object, the
// same information Runtime.getProperties exposes, shaped for a completion
// popup.
func (s *Session) getCompletions(p callFunctionOnParams) (any, *RPCError) {
	props := s.registry.ExtractProperties(p.ObjectID)
	names := make([]string, 0, len(props))
	for _, pr := range props {
		names = append(names, pr.Name)
	}
	return map[string]any{"result": map[string]any{"type": "object", "value": names}}, nil
}

// remoteFunction invokes a zero-argument exported method looked up by name
// from the call argument, returning its first result encoded as a
// RemoteObject. An unknown objectId is a LookupMiss, not an RPC error: it
// yields an "undefined" result, matching the typed-sentinel treatment
// getProperties and evaluateOnCallFrame give the same situation.
func (s *Session) remoteFunction(p callFunctionOnParams) (any, *RPCError) {
	target, ok := s.registry.Lookup(p.ObjectID)
	if !ok {
		return map[string]any{"result": inspector.RemoteObject{Type: inspector.TypeUndefined}}, nil
	}
	if len(p.Arguments) == 0 {
		return nil, errorf("remoteFunction requires a method-name argument")
	}
	name, _ := p.Arguments[0].Value.(string)
	result, err := invokeMethod(target, name)
	if err != nil {
		return nil, errorf("%v", err)
	}
	return map[string]any{"result": s.registry.Encode(result, s.consoleGroup())}, nil
}
