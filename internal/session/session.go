package session

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"apex-build/internal/broker"
	"apex-build/internal/errs"
	"apex-build/internal/exporter"
	"apex-build/internal/inspector"
	"apex-build/internal/logging"
	"apex-build/internal/profiler"
	"apex-build/internal/store"
	"apex-build/internal/tracer"
)

// maxConsoleBuffer bounds how many console messages accumulate while the
// Console domain is disabled, before the oldest are dropped.
const maxConsoleBuffer = 200

// Sender transmits one encoded frame (a Response or an Event) to the
// client. The transport (internal/transport) supplies the gorilla/
// websocket-backed implementation; Session itself knows nothing about the
// wire transport.
type Sender interface {
	Send(payload []byte) error
}

// Session is the per-connection protocol dispatcher: one exists for the
// lifetime of each WebSocket connection (spec.md §4.4).
type Session struct {
	id         string
	registry   *inspector.Registry
	tracer     *tracer.Tracer
	profiler   *profiler.Profiler
	broker     *broker.Broker
	store      *store.Store
	exporter   *exporter.Exporter
	send       Sender
	diagnostic io.Writer

	mu               sync.Mutex
	consoleEnabled   bool
	debuggerEnabled  bool
	profilingEnabled bool
	consoleBuffer    []broker.ConsoleMessage
}

// Deps bundles the shared collaborators every Session needs. Store and
// Exporter are optional (nil when cmd/debugagent didn't configure
// persistent storage / S3 export); a Session degrades to in-memory-only
// profile history when either is nil.
type Deps struct {
	Registry *inspector.Registry
	Tracer   *tracer.Tracer
	Profiler *profiler.Profiler
	Broker   *broker.Broker
	Store    *store.Store
	Exporter *exporter.Exporter
}

// New constructs a Session for one connection and registers it with the
// Broker. id should be unique per connection (e.g. a uuid).
func New(id string, deps Deps, send Sender) *Session {
	s := &Session{
		id:         id,
		registry:   deps.Registry,
		tracer:     deps.Tracer,
		profiler:   deps.Profiler,
		broker:     deps.Broker,
		store:      deps.Store,
		exporter:   deps.Exporter,
		send:       send,
		diagnostic: os.Stderr,
	}
	deps.Broker.Register(s)
	return s
}

// ID satisfies broker.Client.
func (s *Session) ID() string { return s.id }

// Close unregisters the session and releases the objects registered under
// its console group (the values its remoteFunction shim returned).
func (s *Session) Close() {
	s.broker.Unregister(s.id)
	s.registry.Release(s.consoleGroup())
}

func (s *Session) consoleGroup() string {
	return "console:" + s.id
}

// HandleMessage parses one inbound text frame, dispatches it, and sends the
// response. A malformed frame is silently dropped (spec.md §7 ProtocolError
// classification).
func (s *Session) HandleMessage(raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		logging.L().Debug("session: dropping malformed frame", zap.Error(err))
		return
	}
	resp := s.dispatch(req)
	s.write(resp)
}

func (s *Session) write(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.L().Warn("session: failed to marshal outgoing frame", zap.Error(err))
		return
	}
	if err := s.send.Send(payload); err != nil {
		logging.L().Debug("session: send failed, client likely gone", zap.Error(err))
	}
}

func (s *Session) emit(method string, params any) {
	s.write(Event{Method: method, Params: params})
}

// dispatch routes req to its handler, implementing the exhaustive method
// table of spec.md §4.4.
func (s *Session) dispatch(req Request) Response {
	result, rpcErr := s.call(req.Method, req.Params)
	return Response{ID: req.ID, Result: result, Error: rpcErr}
}

func (s *Session) call(method string, params json.RawMessage) (any, *RPCError) {
	switch method {
	case "Console.enable":
		return s.consoleEnable()
	case "Console.disable":
		return s.consoleDisable()

	case "Debugger.enable":
		return s.debuggerEnable()
	case "Debugger.disable":
		return s.debuggerDisable()
	case "Debugger.canSetScriptSource":
		return false, nil
	case "Debugger.getScriptSource":
		return s.getScriptSource(params)
	case "Debugger.setBreakpointByUrl":
		return s.setBreakpointByURL(params)
	case "Debugger.removeBreakpoint":
		return s.removeBreakpoint(params)
	case "Debugger.setBreakpointsActive":
		return s.setBreakpointsActive(params)
	case "Debugger.continueToLocation":
		return s.continueToLocation(params)
	case "Debugger.pause":
		if !s.tracer.IsAttached() {
			return nil, wrapErr(fmt.Errorf("%w: pause", errs.ErrNotAttached))
		}
		s.tracer.Pause()
		return map[string]any{}, nil
	case "Debugger.resume":
		if !s.tracer.IsAttached() {
			return nil, wrapErr(fmt.Errorf("%w: resume", errs.ErrNotAttached))
		}
		s.tracer.Resume()
		return map[string]any{}, nil
	case "Debugger.stepInto":
		if !s.tracer.IsAttached() {
			return nil, wrapErr(fmt.Errorf("%w: stepInto", errs.ErrNotAttached))
		}
		s.tracer.StepInto()
		return map[string]any{}, nil
	case "Debugger.stepOver":
		if !s.tracer.IsAttached() {
			return nil, wrapErr(fmt.Errorf("%w: stepOver", errs.ErrNotAttached))
		}
		s.tracer.StepOver()
		return map[string]any{}, nil
	case "Debugger.stepOut":
		if !s.tracer.IsAttached() {
			return nil, wrapErr(fmt.Errorf("%w: stepOut", errs.ErrNotAttached))
		}
		s.tracer.StepOut()
		return map[string]any{}, nil
	case "Debugger.evaluateOnCallFrame":
		return s.evaluateOnCallFrame(params)
	case "Debugger.getFunctionDetails":
		return s.getFunctionDetails(params)
	case "Debugger.setOverlayMessage":
		return s.setOverlayMessage(params)

	case "Profiler.start":
		return s.profilerStart(params)
	case "Profiler.stop":
		return s.profilerStop()
	case "Profiler.getProfileHeaders":
		return map[string]any{"headers": s.profiler.GetProfileHeaders()}, nil
	case "Profiler.getCPUProfile":
		return s.getCPUProfile(params)

	case "Runtime.getProperties":
		return s.getProperties(params)
	case "Runtime.releaseObjectGroup":
		return s.releaseObjectGroup(params)
	case "Runtime.callFunctionOn":
		return s.callFunctionOn(params)

	case "Page.enable":
		return map[string]any{}, nil

	default:
		return nil, wrapErr(fmt.Errorf("%w: %s not supported", errs.ErrUnknownMethod, method))
	}
}

// --- broker.Client notifications -------------------------------------------------

// NotifyScriptParsed forwards Debugger.scriptParsed, suppressed while the
// Debugger domain is disabled.
func (s *Session) NotifyScriptParsed(scriptID string) {
	s.mu.Lock()
	enabled := s.debuggerEnabled
	s.mu.Unlock()
	if !enabled {
		return
	}
	s.emit("Debugger.scriptParsed", map[string]any{"scriptId": scriptID, "url": scriptID})
}

// NotifyPaused implements the auto-resume-for-disabled-sessions nuance
// restored from original_source/chromedebug/server.py: a session with the
// Debugger domain disabled issues its own resume immediately, rather than
// silently dropping the broadcast and never releasing the "at most one
// pause outstanding" gate (SPEC_FULL.md "Supplemented features" §1).
func (s *Session) NotifyPaused(frames []tracer.FrameSnapshot) {
	s.mu.Lock()
	enabled := s.debuggerEnabled
	s.mu.Unlock()
	if !enabled {
		s.tracer.Resume()
		return
	}
	s.emit("Debugger.paused", map[string]any{"callFrames": encodeFrames(frames)})
}

// NotifyResumed forwards Debugger.resumed, suppressed while disabled.
func (s *Session) NotifyResumed() {
	s.mu.Lock()
	enabled := s.debuggerEnabled
	s.mu.Unlock()
	if !enabled {
		return
	}
	s.emit("Debugger.resumed", map[string]any{})
}

// NotifyConsoleMessage buffers or flushes a console message depending on
// whether this session's Console domain is enabled.
func (s *Session) NotifyConsoleMessage(msg broker.ConsoleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.consoleEnabled {
		s.consoleBuffer = append(s.consoleBuffer, msg)
		if len(s.consoleBuffer) > maxConsoleBuffer {
			s.consoleBuffer = s.consoleBuffer[len(s.consoleBuffer)-maxConsoleBuffer:]
		}
		return
	}
	s.emitConsoleLocked(msg)
}

// NotifyTimeline forwards a timeline marker event.
func (s *Session) NotifyTimeline(evt broker.TimelineEvent) {
	s.emit("Timeline.eventRecorded", evt)
}

func (s *Session) emitConsoleLocked(msg broker.ConsoleMessage) {
	s.emit("Console.messageAdded", map[string]any{"message": msg})
}

var _ broker.Client = (*Session)(nil)

// encodeFrames renders the Tracer's FrameSnapshot list into the wire
// callFrames array.
func encodeFrames(frames []tracer.FrameSnapshot) []map[string]any {
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		scopeChain := make([]map[string]any, 0, len(f.ScopeChain))
		for _, sc := range f.ScopeChain {
			scopeChain = append(scopeChain, map[string]any{
				"type":   sc.Kind,
				"object": sc.Object,
			})
		}
		out = append(out, map[string]any{
			"callFrameId": f.FrameID,
			"functionName": f.FunctionName,
			"location": map[string]any{
				"scriptId":   f.Location.ScriptID,
				"lineNumber": f.Location.LineNumber,
			},
			"scopeChain": scopeChain,
		})
	}
	return out
}

