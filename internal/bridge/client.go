// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRequestTimeout is returned when the native layer never answers a
// correlated request within the request timeout.
var ErrRequestTimeout = errors.New("bridge: request timed out")

// RequestTimeout bounds how long a correlation entry may stay outstanding.
// It also bounds the pending map: content that never receives (or ignores)
// replies cannot grow native-side state without limit.
const RequestTimeout = 10 * time.Second

// SendFunc delivers an encoded content-to-native message to the transport.
type SendFunc func(raw []byte) error

// ContentClient is the content-side half of the protocol: fire-and-forget
// postMessage plus correlated request/response. It mirrors what the embedded
// JavaScript shim does, and doubles as the reference implementation for
// integration tests.
type ContentClient struct {
	send    SendFunc
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]chan Outgoing
	handlers map[string][]func(Outgoing)
}

// ClientOption configures a ContentClient.
type ClientOption func(*ContentClient)

// WithRequestTimeout overrides the 10s default (tests).
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *ContentClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewContentClient builds a client that sends through the given transport.
func NewContentClient(send SendFunc, opts ...ClientOption) *ContentClient {
	c := &ContentClient{
		send:     send,
		timeout:  RequestTimeout,
		pending:  map[string]chan Outgoing{},
		handlers: map[string][]func(Outgoing){},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostMessage notifies the native layer of an action; no reply is expected.
func (c *ContentClient) PostMessage(action string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := Outgoing{Action: action, Payload: payload}.Encode()
	if err != nil {
		return err
	}
	return c.send(raw)
}

// Request sends an action with a fresh correlation identifier and waits for
// the matching reply. A missing reply rejects with ErrRequestTimeout after
// the request timeout, and the correlation entry is removed either way.
func (c *ContentClient) Request(ctx context.Context, action string, payload map[string]any) (Outgoing, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	requestID := uuid.NewString()
	payload["requestId"] = requestID

	ch := make(chan Outgoing, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	raw, err := Outgoing{Action: action, Payload: payload}.Encode()
	if err != nil {
		return Outgoing{}, err
	}
	if err := c.send(raw); err != nil {
		return Outgoing{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return Outgoing{}, ErrRequestTimeout
	case <-ctx.Done():
		return Outgoing{}, ctx.Err()
	}
}

// On subscribes to uncorrelated native pushes for the given action.
func (c *ContentClient) On(action string, fn func(Outgoing)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[action] = append(c.handlers[action], fn)
}

// HandleNative feeds one native-to-content message into the client. A
// message whose requestId matches an outstanding request resolves it;
// everything else dispatches as a named event.
func (c *ContentClient) HandleNative(msg Outgoing) {
	if msg.RequestID != "" {
		c.mu.Lock()
		ch, ok := c.pending[msg.RequestID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
			return
		}
		// Late reply after timeout: fall through to event dispatch so a
		// subscriber can still observe it.
	}

	c.mu.Lock()
	fns := append([]func(Outgoing){}, c.handlers[msg.Action]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// PendingCount reports outstanding correlation entries (tests).
func (c *ContentClient) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
