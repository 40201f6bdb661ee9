package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/roomlink/internal/conn"
	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/session"
)

type fakeConn struct {
	mu         sync.Mutex
	state      conn.State
	id         session.Identity
	connectErr error
	frameCb    conn.FrameCallback
	stateCb    conn.StateCallback
	sent       chan protocol.Frame
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{
		state: conn.StateConnected,
		id:    session.Identity{UserID: userID, Username: userID},
		sent:  make(chan protocol.Frame, 128),
	}
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == conn.StateConnected
}

func (c *fakeConn) Send(_ context.Context, f protocol.Frame) error {
	if !c.IsConnected() {
		return conn.ErrNotConnected
	}
	c.sent <- f
	return nil
}

func (c *fakeConn) Connect(context.Context, session.Credentials) (session.Identity, error) {
	return c.id, c.connectErr
}

func (c *fakeConn) Disconnect(context.Context) error { return nil }

func (c *fakeConn) State() conn.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) Identity() session.Identity { return c.id }

func (c *fakeConn) OnFrame(cb conn.FrameCallback) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameCb = cb
	return 1
}

func (c *fakeConn) RemoveFrameCallback(int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameCb = nil
}

func (c *fakeConn) OnStateChange(cb conn.StateCallback) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCb = cb
	return 1
}

func (c *fakeConn) RemoveStateCallback(int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCb = nil
}

// push delivers f as the transport reader would.
func (c *fakeConn) push(f protocol.Frame) {
	c.mu.Lock()
	cb := c.frameCb
	c.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

func (c *fakeConn) transition(to conn.State) {
	c.mu.Lock()
	prev := c.state
	c.state = to
	cb := c.stateCb
	c.mu.Unlock()
	if cb != nil {
		cb(conn.StateEvent{State: to, Prev: prev})
	}
}

func (c *fakeConn) expectSent(t *testing.T, event string) protocol.Frame {
	t.Helper()
	select {
	case f := <-c.sent:
		require.Equal(t, event, f.Event)
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s frame sent", event)
		return protocol.Frame{}
	}
}

func (c *fakeConn) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case f := <-c.sent:
		t.Fatalf("unexpected frame %s", f.Event)
	case <-time.After(80 * time.Millisecond):
	}
}

func (c *fakeConn) ack(t *testing.T, to protocol.Frame, res protocol.AckResult, ts int64) {
	t.Helper()
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	c.push(protocol.Frame{Event: protocol.EventAck, Ack: to.Ack, TS: ts, Data: raw})
}

func (c *fakeConn) ackOK(t *testing.T, to protocol.Frame) {
	c.ack(t, to, protocol.AckResult{Status: protocol.StatusSuccess}, 0)
}

func (c *fakeConn) ackRoom(t *testing.T, to protocol.Frame, r domain.Room, ts int64) {
	t.Helper()
	data, err := json.Marshal(protocol.RoomPayload{Room: r})
	require.NoError(t, err)
	c.ack(t, to, protocol.AckResult{Status: protocol.StatusSuccess, Data: data}, ts)
}

func frame(t *testing.T, event string, ts int64, data any) protocol.Frame {
	t.Helper()
	f, err := protocol.NewFrame(event, "r1", data)
	require.NoError(t, err)
	f.TS = ts
	return f
}

type fakeRecorder struct {
	got chan *domain.Room
}

func (r *fakeRecorder) RecordMatch(_ context.Context, room *domain.Room, _, _ time.Time) error {
	r.got <- room
	return nil
}
