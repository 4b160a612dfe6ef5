package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
	"apex-build/internal/inspector"
	"apex-build/internal/profiler"
	"apex-build/internal/store"
	"apex-build/internal/tracer"
)

type memSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (m *memSender) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, payload)
	return nil
}

func (m *memSender) events(method string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, f := range m.frames {
		var e map[string]any
		if err := json.Unmarshal(f, &e); err != nil {
			continue
		}
		if e["method"] == method {
			out = append(out, e)
		}
	}
	return out
}

func newTestDeps() Deps {
	reg := inspector.NewRegistry()
	br := broker.New()
	tr := tracer.New(reg, br, nil, nil)
	tr.Attach()
	return Deps{
		Registry: reg,
		Tracer:   tr,
		Profiler: profiler.New(tr, ""),
		Broker:   br,
	}
}

func call(t *testing.T, s *Session, method string, params any) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return s.dispatch(Request{ID: 1, Method: method, Params: raw})
}

func TestConsoleBufferFlushesOnEnable(t *testing.T) {
	deps := newTestDeps()
	sender := &memSender{}
	s := New("s1", deps, sender)

	s.NotifyConsoleMessage(broker.ConsoleMessage{Level: "log", Type: "log"})
	assert.Empty(t, sender.events("Console.messageAdded"), "must be buffered while disabled")

	resp := call(t, s, "Console.enable", map[string]any{})
	assert.Nil(t, resp.Error)
	assert.Len(t, sender.events("Console.messageAdded"), 1, "buffered message must flush on enable")
}

func TestUnknownMethodReturnsStructuredError(t *testing.T) {
	deps := newTestDeps()
	s := New("s1", deps, &memSender{})

	resp := call(t, s, "Bogus.method", map[string]any{})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "not supported")
	assert.Equal(t, "UnknownMethod", resp.Error.Data["code"])
}

func TestResumeClassCommandsRefuseWhenNotAttached(t *testing.T) {
	reg := inspector.NewRegistry()
	br := broker.New()
	tr := tracer.New(reg, br, nil, nil)
	// Deliberately not attached.
	deps := Deps{Registry: reg, Tracer: tr, Profiler: profiler.New(tr, ""), Broker: br}
	s := New("s1", deps, &memSender{})

	resp := call(t, s, "Debugger.resume", map[string]any{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NotAttached", resp.Error.Data["code"])
}

func TestDisabledSessionAutoResumesOnBroadcastPause(t *testing.T) {
	deps := newTestDeps()
	s := New("s1", deps, &memSender{})
	// debuggerEnabled defaults false.

	ctx, leave := deps.Tracer.Call(nil, tracer.CallInfo{FunctionName: "f", ScriptID: "m", LineNumber: 1}, tracer.MapAccessor{})
	defer leave()

	done := make(chan struct{})
	go func() {
		deps.Tracer.Line(ctx, 1)
		close(done)
	}()

	// Force a pause via step mode so Line actually stops.
	deps.Tracer.Pause()

	<-done
	// If the disabled session had not auto-resumed, the broker's Paused
	// fan-out (which calls NotifyPaused synchronously within enterPause)
	// would have left the goroutine above blocked forever.
}

func TestSetBreakpointByURLRoundTrips(t *testing.T) {
	deps := newTestDeps()
	s := New("s1", deps, &memSender{})

	resp := call(t, s, "Debugger.setBreakpointByUrl", setBreakpointByURLParams{URL: "m", LineNumber: 4})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m:4", result["breakpointId"])
}

func TestReleaseObjectGroupViaRuntime(t *testing.T) {
	deps := newTestDeps()
	s := New("s1", deps, &memSender{})

	id := deps.Registry.Save(map[string]int{"a": 1}, "grp")
	_, ok := deps.Registry.Lookup(id)
	require.True(t, ok)

	resp := call(t, s, "Runtime.releaseObjectGroup", releaseObjectGroupParams{ObjectGroup: "grp"})
	assert.Nil(t, resp.Error)

	_, ok = deps.Registry.Lookup(id)
	assert.False(t, ok, "release must drop the group's objects")
}

func TestGetCompletionsListsPropertyNames(t *testing.T) {
	deps := newTestDeps()
	s := New("s1", deps, &memSender{})

	id := deps.Registry.Save(struct{ Foo int }{Foo: 1}, "grp")
	resp := call(t, s, "Runtime.callFunctionOn", callFunctionOnParams{
		ObjectID:            id,
		FunctionDeclaration: "function getCompletions() {}",
	})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	inner := result["result"].(map[string]any)
	names := inner["value"].([]string)
	assert.Contains(t, names, "Foo")
}

func TestProfilerStopPersistsToStore(t *testing.T) {
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	deps := newTestDeps()
	deps.Store = db
	s := New("s1", deps, &memSender{})

	resp := call(t, s, "Profiler.start", map[string]any{"title": "scenario"})
	require.Nil(t, resp.Error)

	resp = call(t, s, "Profiler.stop", map[string]any{})
	require.Nil(t, resp.Error)

	rec, err := db.GetProfile("1")
	require.NoError(t, err, "profiler stop must persist the finalized profile")
	assert.Equal(t, "scenario", rec.Title)
}

func TestPageEnableIsStub(t *testing.T) {
	deps := newTestDeps()
	s := New("s1", deps, &memSender{})
	resp := call(t, s, "Page.enable", map[string]any{})
	assert.Nil(t, resp.Error)
}
