package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/session"
)

var creds = session.Credentials{Token: "opaque-token", UserID: "u1"}

func collectStates(m *Manager) chan StateEvent {
	ch := make(chan StateEvent, 64)
	m.OnStateChange(func(e StateEvent) { ch <- e })
	return ch
}

func waitState(t *testing.T, ch chan StateEvent, want State) StateEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.State == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestConnectRejectsMissingSession(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d)
	_, err := m.Connect(context.Background(), session.Credentials{UserID: "u1"})
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 0, d.dialCount())
	assert.False(t, m.IsConnected())
}

func TestConnectSendsHeadersAndWaitsReady(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, WithRetry(3, time.Millisecond))
	id, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)
	defer m.Disconnect(context.Background())

	assert.Equal(t, "u1", id.UserID)
	assert.True(t, m.IsConnected())
	require.Len(t, d.headers, 1)
	assert.Equal(t, "Bearer opaque-token", d.headers[0].Get("Authorization"))

	require.NoError(t, m.Send(context.Background(), protocol.Frame{Event: "ping"}))
	select {
	case f := <-d.last.out:
		assert.Equal(t, "ping", f.Event)
	case <-time.After(time.Second):
		t.Fatal("frame not written")
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	d := newFakeDialer()
	d.setFailures(2)
	m := NewManager(d, WithRetry(3, time.Millisecond))
	_, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)
	defer m.Disconnect(context.Background())
	assert.Equal(t, 3, d.dialCount())
}

func TestConnectExceedsCeiling(t *testing.T) {
	d := newFakeDialer()
	d.setFailures(10)
	m := NewManager(d, WithRetry(3, time.Millisecond))
	_, err := m.Connect(context.Background(), creds)
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 3, d.dialCount())
	assert.Equal(t, StateFailed, m.State())
	assert.ErrorIs(t, m.Send(context.Background(), protocol.Frame{}), ErrNotConnected)
}

func TestHandshakeTimeout(t *testing.T) {
	d := newFakeDialer()
	d.silent = true
	m := NewManager(d, WithRetry(1, time.Millisecond), WithHandshakeTimeout(20*time.Millisecond))
	_, err := m.Connect(context.Background(), creds)
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestReconnectAfterDrop(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, WithRetry(3, 50*time.Millisecond))
	states := collectStates(m)
	_, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)
	defer m.Disconnect(context.Background())
	first := <-d.dialed

	first.Close("network down")
	waitState(t, states, StateDisconnected)
	assert.ErrorIs(t, m.Send(context.Background(), protocol.Frame{}), ErrNotConnected)
	waitState(t, states, StateReconnecting)
	ev := waitState(t, states, StateConnected)
	assert.True(t, ev.Reconnected())
	assert.True(t, m.IsConnected())
	assert.Equal(t, 2, d.dialCount())
}

func TestReconnectGivesUp(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, WithRetry(2, time.Millisecond))
	states := collectStates(m)
	_, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)
	defer m.Disconnect(context.Background())

	d.setFailures(5)
	d.last.Close("gone")
	ev := waitState(t, states, StateFailed)
	assert.ErrorIs(t, ev.Err, ErrConnectionFailed)
	assert.Equal(t, 3, d.dialCount())
}

func TestDisconnectStopsReconnect(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, WithRetry(3, 50*time.Millisecond))
	states := collectStates(m)
	_, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)

	d.last.Close("drop")
	waitState(t, states, StateReconnecting)
	require.NoError(t, m.Disconnect(context.Background()))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, d.dialCount())
}

func TestPingFailuresTriggerReconnect(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d, WithRetry(3, time.Millisecond), WithPingInterval(5*time.Millisecond))
	states := collectStates(m)
	_, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)
	defer m.Disconnect(context.Background())

	d.last.failPing.Store(true)
	ev := waitState(t, states, StateReconnecting)
	assert.Equal(t, StateDisconnected, ev.Prev)
	waitState(t, states, StateConnected)
}

func TestFramesDispatched(t *testing.T) {
	d := newFakeDialer()
	m := NewManager(d)
	got := make(chan protocol.Frame, 4)
	id := m.OnFrame(func(f protocol.Frame) { got <- f })
	_, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)
	defer m.Disconnect(context.Background())

	d.last.in <- protocol.Frame{Event: protocol.EventPlayerJoined, RoomID: "r1"}
	select {
	case f := <-got:
		assert.Equal(t, "r1", f.RoomID)
	case <-time.After(time.Second):
		t.Fatal("frame not dispatched")
	}
	m.RemoveFrameCallback(id)
	d.last.in <- protocol.Frame{Event: protocol.EventPlayerLeft}
	select {
	case <-got:
		t.Fatal("removed callback invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWSDialerAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		if err := wsjson.Write(ctx, c, protocol.Frame{Event: protocol.EventReady}); err != nil {
			return
		}
		for {
			var f protocol.Frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				return
			}
			f.Event = protocol.EventAck
			if err := wsjson.Write(ctx, c, f); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, WithRetry(1, time.Millisecond))
	got := make(chan protocol.Frame, 1)
	m.OnFrame(func(f protocol.Frame) { got <- f })
	_, err := m.Connect(context.Background(), creds)
	require.NoError(t, err)
	defer m.Disconnect(context.Background())

	require.NoError(t, m.Send(context.Background(), protocol.Frame{Event: protocol.IntentJoinRoom, Ack: "a1"}))
	select {
	case f := <-got:
		assert.Equal(t, protocol.EventAck, f.Event)
		assert.Equal(t, "a1", f.Ack)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo from server")
	}
}
