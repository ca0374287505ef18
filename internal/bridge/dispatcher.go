// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"sync"

	"github.com/chargelink/sessiond/internal/log"
	"github.com/chargelink/sessiond/internal/metrics"
)

// Handler processes one decoded content action on the native side. A non-nil
// reply is pushed back to the content; errors are logged, converted to an
// ERROR message when the action carried a correlation identifier, and never
// propagated past the bridge boundary.
type Handler interface {
	HandleAction(ctx context.Context, msg *Incoming) (*Outgoing, error)
}

// subscriberBuffer bounds each outbound subscriber channel. A content client
// that stops draining loses the oldest pushes rather than blocking the engine.
const subscriberBuffer = 32

// Dispatcher routes raw inbound bytes to the handler and fans outbound
// messages out to all subscribed transports.
type Dispatcher struct {
	handler Handler

	mu     sync.Mutex
	subs   map[int]chan Outgoing
	nextID int
}

// NewDispatcher wires a dispatcher to the given handler.
func NewDispatcher(handler Handler) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		subs:    map[int]chan Outgoing{},
	}
}

// Dispatch decodes and handles one inbound message. Malformed input and
// handler errors are dropped silently apart from logging; bridge integrity
// must not crash the host.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	logger := log.WithComponentFromContext(ctx, "bridge")

	msg := Decode(raw)
	if msg == nil {
		metrics.RecordBridgeInbound("dropped")
		logger.Debug().
			Str("event", "bridge.dropped").
			Int("bytes", len(raw)).
			Msg("dropping malformed inbound message")
		return
	}

	reply, err := d.handler.HandleAction(ctx, msg)
	if err != nil {
		metrics.RecordBridgeInbound("error")
		logger.Warn().Err(err).
			Str("event", "bridge.handler_error").
			Str("action", msg.Action).
			Msg("action handler failed")
		if msg.RequestID != "" {
			d.Publish(ErrorMessage("internal", err.Error(), msg.RequestID))
		}
		return
	}

	metrics.RecordBridgeInbound("dispatched")
	if reply != nil {
		d.Publish(*reply)
	}
}

// Publish pushes a message to every subscriber. Full subscriber buffers drop
// the message for that subscriber only.
func (d *Dispatcher) Publish(msg Outgoing) {
	metrics.RecordBridgeOutbound(msg.Action)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subs {
		select {
		case ch <- msg:
		default:
			lg := log.WithComponent("bridge")
			lg.Warn().
				Str("event", "bridge.subscriber_overflow").
				Int("subscriber", id).
				Str("action", msg.Action).
				Msg("subscriber buffer full, dropping push")
		}
	}
}

// Subscribe registers an outbound listener. The returned cancel function must
// be called when the transport goes away.
func (d *Dispatcher) Subscribe() (<-chan Outgoing, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	ch := make(chan Outgoing, subscriberBuffer)
	d.subs[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount reports attached transports (used by readiness checks).
func (d *Dispatcher) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
