package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/tracer"
)

type recordingClient struct {
	id      string
	scripts []string
	panics  bool
}

func (c *recordingClient) ID() string { return c.id }
func (c *recordingClient) NotifyScriptParsed(scriptID string) {
	if c.panics {
		panic("boom")
	}
	c.scripts = append(c.scripts, scriptID)
}
func (c *recordingClient) NotifyPaused(frames []tracer.FrameSnapshot) {}
func (c *recordingClient) NotifyResumed()                             {}
func (c *recordingClient) NotifyConsoleMessage(msg ConsoleMessage)    {}
func (c *recordingClient) NotifyTimeline(evt TimelineEvent)           {}

func TestBrokerFansOutToAllRegisteredClients(t *testing.T) {
	b := New()
	a := &recordingClient{id: "a"}
	c := &recordingClient{id: "c"}
	b.Register(a)
	b.Register(c)

	b.ScriptParsed("m")

	assert.Equal(t, []string{"m"}, a.scripts)
	assert.Equal(t, []string{"m"}, c.scripts)
}

func TestBrokerIsolatesAPanickingClient(t *testing.T) {
	b := New()
	bad := &recordingClient{id: "bad", panics: true}
	good := &recordingClient{id: "good"}
	b.Register(bad)
	b.Register(good)

	require.NotPanics(t, func() { b.ScriptParsed("m") })
	assert.Equal(t, []string{"m"}, good.scripts, "a healthy client must still receive the event")
}

func TestUnregisterStopsFurtherNotifications(t *testing.T) {
	b := New()
	c := &recordingClient{id: "c"}
	b.Register(c)
	b.Unregister("c")
	b.ScriptParsed("m")
	assert.Empty(t, c.scripts)
}

func TestUnregisterUnknownIDIsNoOp(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Unregister("never-registered") })
}
