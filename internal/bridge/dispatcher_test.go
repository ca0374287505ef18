// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	mu      sync.Mutex
	actions []string
	reply   *Outgoing
	err     error
}

func (h *stubHandler) HandleAction(_ context.Context, msg *Incoming) (*Outgoing, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, msg.Action)
	return h.reply, h.err
}

func (h *stubHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.actions...)
}

func TestDispatchRoutesToHandler(t *testing.T) {
	h := &stubHandler{}
	d := NewDispatcher(h)

	d.Dispatch(context.Background(), []byte(`{"action":"END_SESSION","payload":{}}`))
	assert.Equal(t, []string{ActionEndSession}, h.seen())
}

func TestDispatchDropsMalformedSilently(t *testing.T) {
	h := &stubHandler{}
	d := NewDispatcher(h)

	d.Dispatch(context.Background(), []byte(`{broken`))
	d.Dispatch(context.Background(), []byte(`{"payload":{}}`))
	assert.Empty(t, h.seen(), "handler must not see malformed input")
}

func TestDispatchPublishesReply(t *testing.T) {
	reply := PermissionStatus("granted_always", "req-1")
	h := &stubHandler{reply: &reply}
	d := NewDispatcher(h)

	ch, cancel := d.Subscribe()
	defer cancel()

	d.Dispatch(context.Background(), []byte(`{"action":"GET_PERMISSION_STATUS","payload":{"requestId":"req-1"}}`))

	select {
	case got := <-ch:
		assert.Equal(t, ActionPermissionStatus, got.Action)
		assert.Equal(t, "req-1", got.RequestID)
	case <-time.After(time.Second):
		t.Fatal("no reply published")
	}
}

func TestDispatchHandlerErrorBecomesErrorMessage(t *testing.T) {
	h := &stubHandler{err: errors.New("kaput")}
	d := NewDispatcher(h)

	ch, cancel := d.Subscribe()
	defer cancel()

	// With a correlation identifier the caller gets an ERROR reply.
	d.Dispatch(context.Background(), []byte(`{"action":"GET_LOCATION","payload":{"requestId":"req-9"}}`))

	select {
	case got := <-ch:
		assert.Equal(t, ActionError, got.Action)
		assert.Equal(t, "req-9", got.RequestID)
	case <-time.After(time.Second):
		t.Fatal("no error message published")
	}

	// Without one the failure is logged and dropped.
	d.Dispatch(context.Background(), []byte(`{"action":"END_SESSION","payload":{}}`))
	select {
	case got := <-ch:
		t.Fatalf("unexpected publish: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishFanOut(t *testing.T) {
	d := NewDispatcher(&stubHandler{})

	ch1, cancel1 := d.Subscribe()
	ch2, cancel2 := d.Subscribe()
	defer cancel1()
	defer cancel2()
	require.Equal(t, 2, d.SubscriberCount())

	d.Publish(Ready())
	for _, ch := range []<-chan Outgoing{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, ActionReady, got.Action)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed publish")
		}
	}
}

func TestPublishDropsOnFullSubscriber(t *testing.T) {
	d := NewDispatcher(&stubHandler{})

	_, cancel := d.Subscribe()
	defer cancel()

	// Never drained; must not block the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			d.Publish(Ready())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	d := NewDispatcher(&stubHandler{})
	_, cancel := d.Subscribe()
	cancel()
	cancel()
	assert.Equal(t, 0, d.SubscriberCount())
}
