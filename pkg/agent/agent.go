// Package agent is the embedding API: the handful of calls instrumented
// code makes to attach the debug agent, thread a call through the tracer,
// and start the WebSocket server a DevTools-compatible frontend connects
// to (spec.md §6 "embedding API").
package agent

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"

	"apex-build/internal/broker"
	"apex-build/internal/inspector"
	"apex-build/internal/logging"
	"apex-build/internal/profiler"
	"apex-build/internal/tracer"
	"apex-build/internal/transport"
)

// Agent bundles the process-singleton collaborators: one Registry, one
// Tracer, one Profiler, one Broker. Construct with New; most programs need
// exactly one, held for the process lifetime.
type Agent struct {
	Registry *inspector.Registry
	Tracer   *tracer.Tracer
	Profiler *profiler.Profiler
	Broker   *broker.Broker

	title string
	once  sync.Once
}

// Option configures New.
type Option func(*config)

type config struct {
	source    tracer.SourceProvider
	skipGlobs []string
	title     string
}

// WithSource supplies a SourceProvider for Debugger.getScriptSource.
func WithSource(p tracer.SourceProvider) Option {
	return func(c *config) { c.source = p }
}

// WithSkipGlobs excludes the package paths matching the given globs from
// tracing and profiling, the Go analogue of the original's frame-walk
// skipping its own module (spec.md §4.1). New adds no globs of its own, so
// the agent's own packages are excluded only when a glob given here
// covers them.
func WithSkipGlobs(globs ...string) Option {
	return func(c *config) { c.skipGlobs = append(c.skipGlobs, globs...) }
}

// WithTitle sets the title /json/list reports for this target.
func WithTitle(title string) Option {
	return func(c *config) { c.title = title }
}

// New constructs an Agent. It does not attach or start anything; call
// Attach and Start explicitly.
func New(opts ...Option) *Agent {
	cfg := config{title: "Go Debug Agent"}
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := inspector.NewRegistry()
	br := broker.New()
	tr := tracer.New(registry, br, cfg.source, cfg.skipGlobs)
	pr := profiler.New(tr, "apex-build/pkg/agent")

	return &Agent{
		Registry: registry,
		Tracer:   tr,
		Profiler: pr,
		Broker:   br,
		title:    cfg.title,
	}
}

// Attach installs the tracer, enabling Call/Line to actually record events
// and check breakpoints.
func (a *Agent) Attach() { a.Tracer.Attach() }

// Detach removes the tracer and releases any thread paused at the moment
// of the call.
func (a *Agent) Detach() { a.Tracer.Detach() }

// Start launches the WebSocket/HTTP server in a background goroutine and
// returns immediately, mirroring the original's daemon ServerThread.start.
// addr is a host:port listen address; host is what /json/list advertises
// (use the externally reachable address when behind a proxy).
func (a *Agent) Start(addr, host string) {
	a.once.Do(func() {
		srv := transport.New(a.Registry, a.Tracer, a.Profiler, a.Broker, nil, nil, a.title, host)
		fmt.Fprintf(os.Stderr, "Navigate to chrome://inspect and add target %s\n", host)
		go func() {
			if err := http.ListenAndServe(addr, srv.Router()); err != nil {
				logging.L().Sugar().Errorw("agent: server stopped", "error", err)
			}
		}()
	})
}

// SetTrace forces the next line any traced goroutine reaches to pause,
// the explicit equivalent of the original's sys.settrace installed mid-run.
func (a *Agent) SetTrace(ctx *tracer.CallContext) *tracer.CallContext {
	return a.Tracer.SetTrace(ctx)
}

// Call threads one traced activation through the tracer. Instrumented code
// wraps a call like:
//
//	ctx, leave := agent.Call(parentCtx, tracer.CallInfo{...}, scope)
//	defer leave()
func (a *Agent) Call(parent *tracer.CallContext, info tracer.CallInfo, scope tracer.FrameAccessor) (*tracer.CallContext, func()) {
	return a.Tracer.Call(parent, info, scope)
}

// callerInfo resolves the CallInfo for the function n levels up the Go
// call stack from its own caller. The Console helpers do not call it;
// they build their stack traces with captureStack.
func callerInfo(skip int) (tracer.CallInfo, bool) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return tracer.CallInfo{}, false
	}
	fn := runtime.FuncForPC(pc)
	name := "?"
	if fn != nil {
		name = fn.Name()
	}
	return tracer.CallInfo{FunctionName: name, ScriptID: file, LineNumber: line}, true
}
