// Package broker holds the process-wide registry of connected debugger
// Sessions and fans out the Tracer's events (and console/timeline logging)
// to every one of them, isolating one Session's failure from the rest and
// from the traced program (spec.md §4.5).
package broker

import (
	"sync"

	"go.uber.org/zap"

	"apex-build/internal/inspector"
	"apex-build/internal/logging"
	"apex-build/internal/tracer"
)

// Client is the subset of session.Session the Broker drives. A Client does
// not itself satisfy tracer.EventSink (the Broker does): NotifyScriptParsed/
// NotifyPaused/NotifyResumed mirror the EventSink methods one to one, plus
// the console/timeline hooks the original's thread.py module-level
// functions fanned out.
type Client interface {
	ID() string
	NotifyScriptParsed(scriptID string)
	NotifyPaused(frames []tracer.FrameSnapshot)
	NotifyResumed()
	NotifyConsoleMessage(msg ConsoleMessage)
	NotifyTimeline(evt TimelineEvent)
}

// StackEntry is one frame of a captured call stack, as attached to console
// messages (spec.md §6).
type StackEntry struct {
	FunctionName string `json:"functionName"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// ConsoleMessage is the payload of a Console.messageAdded event.
type ConsoleMessage struct {
	Level      string                   `json:"level"`
	Type       string                   `json:"type"`
	Parameters []inspector.RemoteObject `json:"parameters"`
	StackTrace []StackEntry             `json:"stackTrace"`
}

// TimelineEvent is a generic timeline marker; the core only needs to fan it
// out, not interpret its contents.
type TimelineEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

var _ tracer.EventSink = (*Broker)(nil)

// Broker is the process-wide session registry. The zero value is not
// usable; construct with New.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{clients: make(map[string]Client)}
}

// Register adds a Client, replacing any prior registration under the same
// id (a reconnect under a stale id, in practice).
func (b *Broker) Register(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.ID()] = c
}

// Unregister removes a Client. Safe to call more than once.
func (b *Broker) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// Count reports how many clients are currently registered, for metrics.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broker) snapshot() []Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

// ScriptParsed fans out Debugger.scriptParsed to every client.
func (b *Broker) ScriptParsed(scriptID string) {
	for _, c := range b.snapshot() {
		client := c
		fanOut(func() { client.NotifyScriptParsed(scriptID) })
	}
}

// Paused fans out Debugger.paused to every client.
func (b *Broker) Paused(frames []tracer.FrameSnapshot) {
	for _, c := range b.snapshot() {
		client := c
		fanOut(func() { client.NotifyPaused(frames) })
	}
}

// Resumed fans out Debugger.resumed to every client.
func (b *Broker) Resumed() {
	for _, c := range b.snapshot() {
		client := c
		fanOut(func() { client.NotifyResumed() })
	}
}

// ConsoleLog fans out Console.messageAdded to every client.
func (b *Broker) ConsoleLog(msg ConsoleMessage) {
	for _, c := range b.snapshot() {
		client := c
		fanOut(func() { client.NotifyConsoleMessage(msg) })
	}
}

// TimelineLog fans out a timeline event to every client.
func (b *Broker) TimelineLog(evt TimelineEvent) {
	for _, c := range b.snapshot() {
		client := c
		fanOut(func() { client.NotifyTimeline(evt) })
	}
}

// fanOut runs fn, recovering any panic so one client's failure never
// disturbs the others or the traced program (spec.md §7 propagation
// policy).
func fanOut(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Warn("broker: client notification panicked, dropping", zap.Any("recover", r))
		}
	}()
	fn()
}
