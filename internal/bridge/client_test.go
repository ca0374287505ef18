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
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPostMessageFireAndForget(t *testing.T) {
	var sent [][]byte
	c := NewContentClient(func(raw []byte) error {
		sent = append(sent, raw)
		return nil
	})

	require.NoError(t, c.PostMessage(ActionEndSession, nil))
	require.Len(t, sent, 1)

	msg := Decode(sent[0])
	require.NotNil(t, msg)
	assert.Equal(t, ActionEndSession, msg.Action)
	assert.Empty(t, msg.RequestID)
}

func TestRequestResolvedByMatchingReply(t *testing.T) {
	var mu sync.Mutex
	var lastRequestID string

	c := NewContentClient(func(raw []byte) error {
		msg := Decode(raw)
		mu.Lock()
		lastRequestID = msg.RequestID
		mu.Unlock()
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		reply, err := c.Request(context.Background(), ActionGetSessionState, nil)
		assert.NoError(t, err)
		assert.Equal(t, "ANCHORED", reply.Payload["state"])
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastRequestID != ""
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	rid := lastRequestID
	mu.Unlock()
	c.HandleNative(Outgoing{
		Action:    ActionSessionStateChanged,
		Payload:   map[string]any{"state": "ANCHORED"},
		RequestID: rid,
	})
	<-done

	assert.Equal(t, 0, c.PendingCount())
}

// Scenario D: a request that never receives a reply rejects after the
// timeout and removes its correlation entry.
func TestRequestTimesOutAndCleansUp(t *testing.T) {
	c := NewContentClient(func([]byte) error { return nil },
		WithRequestTimeout(30*time.Millisecond))

	_, err := c.Request(context.Background(), ActionGetLocation, map[string]any{})
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, c.PendingCount(), "correlation entry must be removed")
}

func TestRequestSendFailureCleansUp(t *testing.T) {
	c := NewContentClient(func([]byte) error { return errors.New("transport down") })

	_, err := c.Request(context.Background(), ActionGetLocation, nil)
	require.Error(t, err)
	assert.Equal(t, 0, c.PendingCount())
}

func TestRequestContextCancellation(t *testing.T) {
	c := NewContentClient(func([]byte) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Request(ctx, ActionGetAuthToken, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.PendingCount())
}

func TestUncorrelatedPushDispatchesAsEvent(t *testing.T) {
	c := NewContentClient(func([]byte) error { return nil })

	var got []Outgoing
	c.On(ActionSessionStateChanged, func(msg Outgoing) {
		got = append(got, msg)
	})

	c.HandleNative(Outgoing{Action: ActionSessionStateChanged, Payload: map[string]any{"state": "IDLE"}})
	require.Len(t, got, 1)
	assert.Equal(t, "IDLE", got[0].Payload["state"])
}

func TestLateReplyFallsThroughToEventDispatch(t *testing.T) {
	c := NewContentClient(func([]byte) error { return nil },
		WithRequestTimeout(10*time.Millisecond))

	var late []Outgoing
	c.On(ActionLocationResponse, func(msg Outgoing) { late = append(late, msg) })

	_, err := c.Request(context.Background(), ActionGetLocation, nil)
	require.ErrorIs(t, err, ErrRequestTimeout)

	// The reply arrives after the entry was removed.
	c.HandleNative(Outgoing{Action: ActionLocationResponse, RequestID: "gone", Payload: map[string]any{}})
	assert.Len(t, late, 1)
}
