package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
	"apex-build/internal/tracer"
)

type recordingClient struct {
	scripts []string
}

func (c *recordingClient) ID() string { return "r" }
func (c *recordingClient) NotifyScriptParsed(scriptID string) {
	c.scripts = append(c.scripts, scriptID)
}
func (c *recordingClient) NotifyPaused([]tracer.FrameSnapshot)       {}
func (c *recordingClient) NotifyResumed()                           {}
func (c *recordingClient) NotifyConsoleMessage(broker.ConsoleMessage) {}
func (c *recordingClient) NotifyTimeline(broker.TimelineEvent)       {}

func TestHandleScriptParsedFansOutLocally(t *testing.T) {
	local := broker.New()
	client := &recordingClient{}
	local.Register(client)

	r := &Relay{id: "local-relay", local: local}
	r.handle(`{"origin":"remote-relay","kind":"scriptParsed","scriptId":"remote/mod"}`)

	require.Len(t, client.scripts, 1)
	assert.Equal(t, "remote/mod", client.scripts[0])
}

func TestHandleDropsItsOwnEcho(t *testing.T) {
	local := broker.New()
	client := &recordingClient{}
	local.Register(client)

	r := &Relay{id: "local-relay", local: local}
	r.handle(`{"origin":"local-relay","kind":"scriptParsed","scriptId":"should-not-appear"}`)

	assert.Empty(t, client.scripts, "a message carrying this relay's own origin must be dropped, not redelivered")
}

func TestHandleMalformedPayloadIsIgnored(t *testing.T) {
	local := broker.New()
	r := &Relay{id: "local-relay", local: local}
	assert.NotPanics(t, func() { r.handle("{not json") })
}
