package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func subscriber(hub *Hub, projectID uint, queue int) *Client {
	return &Client{hub: hub, projectID: projectID, send: make(chan *Message, queue)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestPublishReachesProjectSubscribers(t *testing.T) {
	hub, _ := startHub(t)

	a := subscriber(hub, 1, 4)
	b := subscriber(hub, 2, 4)
	hub.Register(a)
	hub.Register(b)
	waitFor(t, func() bool { return hub.Subscribers(1) == 1 && hub.Subscribers(2) == 1 })

	hub.Publish(1, "module.moved", map[string]int{"id": 3})

	select {
	case msg := <-a.send:
		assert.Equal(t, uint(1), msg.ProjectID)
		assert.Equal(t, "module.moved", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber of project 1 got nothing")
	}

	select {
	case msg := <-b.send:
		t.Fatalf("subscriber of project 2 got %v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub, _ := startHub(t)

	slow := subscriber(hub, 1, 1)
	hub.Register(slow)
	waitFor(t, func() bool { return hub.Subscribers(1) == 1 })

	hub.Publish(1, "case.created", nil)
	hub.Publish(1, "case.created", nil)
	waitFor(t, func() bool { return hub.Subscribers(1) == 0 })

	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
}

func TestUnregisterAndShutdown(t *testing.T) {
	hub, cancel := startHub(t)

	a := subscriber(hub, 1, 1)
	b := subscriber(hub, 1, 1)
	hub.Register(a)
	hub.Register(b)
	waitFor(t, func() bool { return hub.Subscribers(1) == 2 })

	hub.Unregister(a)
	waitFor(t, func() bool { return hub.Subscribers(1) == 1 })
	_, open := <-a.send
	assert.False(t, open)

	cancel()
	_, open = <-b.send
	assert.False(t, open)

	// calls after shutdown return instead of blocking
	late := subscriber(hub, 1, 1)
	hub.Register(late)
	hub.Unregister(late)
	_, open = <-late.send
	assert.False(t, open)
}
