// Package pubsub optionally distributes one Broker's fan-out across
// multiple debug-agent processes sharing one traced fleet, over a Redis
// pub/sub channel, instead of requiring every client to connect to the
// exact process instance it wants to observe (SPEC_FULL.md domain stack
// §3).
package pubsub

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"apex-build/internal/logging"
	"go.uber.org/zap"

	"apex-build/internal/broker"
	"apex-build/internal/tracer"
)

const channelName = "debugagent:events"

// envelope is the wire shape of one relayed event; exactly one of its
// optional fields is populated. Origin identifies the Relay instance that
// published it, so a process can recognize and drop its own broadcast
// rather than re-processing it (Redis delivers a PUBLISH to every
// subscriber of the channel, including the publisher itself).
type envelope struct {
	Origin   string                 `json:"origin"`
	Kind     string                 `json:"kind"`
	ScriptID string                 `json:"scriptId,omitempty"`
	Frames   []tracer.FrameSnapshot `json:"frames,omitempty"`
	Console  *broker.ConsoleMessage `json:"console,omitempty"`
	Timeline *broker.TimelineEvent  `json:"timeline,omitempty"`
}

// Relay registers itself as a broker.Client so the local Broker's own
// fan-out drives it like any other connected session: ScriptParsed/Paused/
// Resumed/ConsoleLog/TimelineLog reach its NotifyX methods, which republish
// onto Redis for the rest of the fleet. Inbound events arriving over Redis
// are fed back into the same Broker, so every process sharing redisURL
// observes every other process's Tracer activity without a direct
// connection between them.
type Relay struct {
	id     string
	client *redis.Client
	local  *broker.Broker
	cancel context.CancelFunc

	// relaying is set for the duration of handle()'s local redelivery, so
	// NotifyX doesn't mistake a remote-origin event fanning out locally for
	// a freshly-produced local event and bounce it back onto Redis.
	relaying atomic.Bool
}

var _ broker.Client = (*Relay)(nil)

// NewRelay connects to redisURL, registers the Relay with local as a
// broker.Client, and starts relaying both directions.
func NewRelay(redisURL string, local *broker.Broker) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{id: "pubsub-relay-" + uuid.NewString(), client: client, local: local, cancel: cancel}
	local.Register(r)
	go r.subscribeLoop(ctx)
	return r, nil
}

// ID satisfies broker.Client. The generated id never collides with a real
// session's uuid, and is only ever used for Broker's registration map key.
func (r *Relay) ID() string { return r.id }

// NotifyScriptParsed, NotifyPaused, NotifyResumed, NotifyConsoleMessage, and
// NotifyTimeline are the broker.Client half of the Relay: Broker's fan-out
// calls these exactly as it would a Session, and each republishes onto
// Redis unless the event is itself being locally redelivered from a remote
// origin (see relaying).
func (r *Relay) NotifyScriptParsed(scriptID string) {
	if r.relaying.Load() {
		return
	}
	r.publish(envelope{Kind: "scriptParsed", ScriptID: scriptID})
}

func (r *Relay) NotifyPaused(frames []tracer.FrameSnapshot) {
	if r.relaying.Load() {
		return
	}
	r.publish(envelope{Kind: "paused", Frames: frames})
}

func (r *Relay) NotifyResumed() {
	if r.relaying.Load() {
		return
	}
	r.publish(envelope{Kind: "resumed"})
}

func (r *Relay) NotifyConsoleMessage(msg broker.ConsoleMessage) {
	if r.relaying.Load() {
		return
	}
	r.publish(envelope{Kind: "console", Console: &msg})
}

func (r *Relay) NotifyTimeline(evt broker.TimelineEvent) {
	if r.relaying.Load() {
		return
	}
	r.publish(envelope{Kind: "timeline", Timeline: &evt})
}

func (r *Relay) publish(env envelope) {
	env.Origin = r.id
	payload, err := json.Marshal(env)
	if err != nil {
		logging.L().Warn("pubsub: failed to marshal event", zap.Error(err))
		return
	}
	if err := r.client.Publish(context.Background(), channelName, payload).Err(); err != nil {
		logging.L().Warn("pubsub: publish failed", zap.Error(err))
	}
}

func (r *Relay) subscribeLoop(ctx context.Context) {
	sub := r.client.Subscribe(ctx, channelName)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(msg.Payload)
		}
	}
}

// handle decodes one Redis message and redelivers it into the local
// Broker. A message carrying this Relay's own origin is its own publish
// echoing back (every subscriber on the channel, including the publisher,
// receives every message) and is dropped rather than redelivered twice.
func (r *Relay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logging.L().Debug("pubsub: dropping malformed event", zap.Error(err))
		return
	}
	if env.Origin == r.id {
		return
	}

	r.relaying.Store(true)
	defer r.relaying.Store(false)

	switch env.Kind {
	case "scriptParsed":
		r.local.ScriptParsed(env.ScriptID)
	case "paused":
		r.local.Paused(env.Frames)
	case "resumed":
		r.local.Resumed()
	case "console":
		if env.Console != nil {
			r.local.ConsoleLog(*env.Console)
		}
	case "timeline":
		if env.Timeline != nil {
			r.local.TimelineLog(*env.Timeline)
		}
	}
}

// Close stops the subscribe loop, unregisters from the local Broker, and
// releases the Redis connection.
func (r *Relay) Close() error {
	r.cancel()
	r.local.Unregister(r.id)
	return r.client.Close()
}
