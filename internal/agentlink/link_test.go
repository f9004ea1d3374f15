package agentlink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn driven by a test.
type fakeConn struct {
	mu       sync.Mutex
	messages chan []byte
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{messages: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.messages
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return 1, msg, nil
}

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.messages)
		c.closed = true
	}
	return nil
}

// fakeDialer hands out pre-scripted conns, or errors once exhausted.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls >= len(d.conns) {
		return nil, errors.New("no more fake connections")
	}
	c := d.conns[d.calls]
	d.calls++
	return c, nil
}

func TestLink_DeliversSetStateEvent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	events := make(chan Event, 4)
	link := New("bx-10222", "ws://ignored", dialer, events, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	link.Start(ctx)

	conn.messages <- EncodeSetState("agent-A", "10.0.0.1")

	select {
	case ev := <-events:
		assert.Equal(t, KindSetState, ev.Kind)
		assert.Equal(t, "agent-A", ev.ID)
		assert.Equal(t, "10.0.0.1", ev.IP)
		assert.Equal(t, "bx-10222", ev.Slot)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	conn.Close()
	link.Stop()
}

func TestLink_OnDisconnectFiresOnDrop(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	events := make(chan Event, 4)
	link := New("bx-10222", "ws://ignored", dialer, events, nil)

	disconnected := make(chan string, 1)
	link.OnDisconnect = func(name string) { disconnected <- name }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	link.Start(ctx)

	time.Sleep(20 * time.Millisecond) // let it connect
	conn.Close()

	select {
	case name := <-disconnected:
		assert.Equal(t, "bx-10222", name)
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnDisconnect to fire")
	}
	link.Stop()
}

func TestLink_DecodeUnknownEventIgnored(t *testing.T) {
	_, ok := decodeEvent("bx-10222", []byte(`{"type":"node:unknown","payload":{}}`))
	assert.False(t, ok)
}

func TestLink_SetLabelAndSetParamAreEquivalent(t *testing.T) {
	label, ok := decodeEvent("s", EncodeSetLabel("k", "v1"))
	require.True(t, ok)
	param, ok := decodeEvent("s", EncodeSetParam("k", "v2"))
	require.True(t, ok)

	assert.Equal(t, "k", label.LabelName)
	assert.Equal(t, "k", param.LabelName)
}

func TestLink_DeletedWithoutSessionData(t *testing.T) {
	ev, ok := decodeEvent("s", EncodeDeleted(true, "boom", nil))
	require.True(t, ok)
	assert.True(t, ev.IsError)
	assert.False(t, ev.HasSessionData)
}
