package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/roomlink/internal/bus"
	"github.com/park285/roomlink/internal/conn"
	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/draft"
	"github.com/park285/roomlink/internal/gateway"
	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/session"
	"github.com/park285/roomlink/internal/voice"
)

func setup(t *testing.T, userID string, opts ...Option) (*Engine, *fakeConn, *bus.Bus) {
	t.Helper()
	c := newFakeConn(userID)
	b := bus.New(nil)
	gw := gateway.New(c, gateway.WithSettleDelay(0), gateway.WithRequestTimeout(2*time.Second))
	e, err := New(context.Background(), c, gw, append([]Option{WithBus(b)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, c, b
}

func lobby() domain.Room {
	return domain.Room{
		ID:          "r1",
		Status:      domain.StatusWaiting,
		PlayerCount: 10,
		PickMode:    "12221",
		CreatorID:   "owner",
		Spectators:  []domain.Player{{UserID: "owner", Username: "Owner"}},
		Teams: [2]domain.Team{
			{ID: 1, Side: domain.SideUnassigned},
			{ID: 2, Side: domain.SideUnassigned},
		},
	}
}

func joinedFrame(t *testing.T, r domain.Room, ts int64) protocol.Frame {
	return frame(t, protocol.EventRoomJoined, ts, protocol.RoomPayload{Room: r})
}

func currentRoom(t *testing.T, e *Engine) *domain.Room {
	t.Helper()
	r, err := e.Room(context.Background())
	require.NoError(t, err)
	return r
}

func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return")
		return nil
	}
}

func notices(b *bus.Bus) <-chan bus.Notice {
	ch := make(chan bus.Notice, 16)
	bus.Subscribe(b, func(n bus.Notice) { ch <- n })
	return ch
}

func nextNotice(t *testing.T, ch <-chan bus.Notice) bus.Notice {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notice")
		return bus.Notice{}
	}
}

func TestJoinTwoPlayersThenKick(t *testing.T) {
	e, c, _ := setup(t, "owner")
	ctx := context.Background()

	c.push(joinedFrame(t, lobby(), 10))
	c.push(frame(t, protocol.EventPlayerJoined, 11, protocol.MemberPayload{Player: domain.Player{UserID: "u1"}}))
	c.push(frame(t, protocol.EventPlayerJoined, 12, protocol.MemberPayload{Player: domain.Player{UserID: "u2"}}))

	r := currentRoom(t, e)
	require.NotNil(t, r)
	assert.Len(t, r.Players, 2)
	assert.Equal(t, domain.StatusWaiting, r.Status)

	done := async(func() error { return e.KickPlayer(ctx, "u1") })
	f := c.expectSent(t, protocol.IntentKickPlayer)
	var req protocol.KickPlayerRequest
	require.NoError(t, f.Decode(&req))
	assert.Equal(t, "u1", req.TargetUserID)

	// nothing changes before the server confirms
	assert.Len(t, currentRoom(t, e).Players, 2)
	c.ackOK(t, f)
	require.NoError(t, wait(t, done))
	c.push(frame(t, protocol.EventPlayerLeft, 13, protocol.UserPayload{UserID: "u1"}))

	r = currentRoom(t, e)
	require.Len(t, r.Players, 1)
	assert.Equal(t, "u2", r.Players[0].UserID)
}

func TestKickGuard(t *testing.T) {
	e, c, _ := setup(t, "owner")
	ctx := context.Background()
	assert.ErrorIs(t, e.KickPlayer(ctx, "u1"), ErrNotInRoom)

	r := lobby()
	r.Players = []domain.Player{{UserID: "u1"}}
	c.push(joinedFrame(t, r, 10))
	assert.ErrorIs(t, e.KickPlayer(ctx, "owner"), ErrKickSelf)
	assert.ErrorIs(t, e.KickPlayer(ctx, "ghost"), ErrUnknownMember)

	other, c2, _ := setup(t, "u1")
	c2.push(joinedFrame(t, r, 10))
	assert.ErrorIs(t, other.KickPlayer(ctx, "owner"), ErrNotOwner)

	c.expectQuiet(t)
	c2.expectQuiet(t)
}

func TestReconnectResyncsOnce(t *testing.T) {
	e, c, b := setup(t, "owner")
	ch := notices(b)
	c.push(joinedFrame(t, lobby(), 10))

	c.transition(conn.StateDisconnected)
	c.transition(conn.StateReconnecting)
	c.transition(conn.StateConnected)
	assert.Equal(t, bus.ActionToast, nextNotice(t, ch).Action)

	join := c.expectSent(t, protocol.IntentJoinRoom)
	var req protocol.JoinRoomRequest
	require.NoError(t, join.Decode(&req))
	assert.Equal(t, "r1", req.RoomID)
	c.ackOK(t, join)

	detail := c.expectSent(t, protocol.IntentGetRoomDetail)
	fresh := lobby()
	fresh.Players = []domain.Player{{UserID: "p9"}}
	c.ackRoom(t, detail, fresh, 50)

	require.Eventually(t, func() bool {
		r := currentRoom(t, e)
		return r != nil && len(r.Players) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// buffered events from before the snapshot
	for i := int64(11); i < 20; i++ {
		c.push(frame(t, protocol.EventPlayerLeft, i, protocol.UserPayload{UserID: "p9"}))
		c.push(frame(t, protocol.EventPlayerJoined, i, protocol.MemberPayload{Player: domain.Player{UserID: "old"}}))
	}
	r := currentRoom(t, e)
	require.Len(t, r.Players, 1)
	assert.Equal(t, "p9", r.Players[0].UserID)

	// a pushed detail older than the resync changes nothing
	old := lobby()
	old.VoiceChannels = map[domain.VoiceChannel][]domain.VoiceMember{
		domain.VoicePublic: {{UserID: "owner"}},
	}
	c.push(frame(t, protocol.EventRoomDetail, 20, protocol.RoomPayload{Room: old}))
	r = currentRoom(t, e)
	require.Len(t, r.Players, 1)
	assert.Equal(t, "p9", r.Players[0].UserID)
	v, err := e.Voice(context.Background())
	require.NoError(t, err)
	assert.Empty(t, v.Current)
	c.expectQuiet(t)
}

func TestDesyncRequestsOneSnapshot(t *testing.T) {
	e, c, _ := setup(t, "owner")
	c.push(joinedFrame(t, lobby(), 10))

	c.push(frame(t, protocol.EventPlayerLeft, 11, protocol.UserPayload{UserID: "ghost"}))
	c.push(frame(t, protocol.EventSpectatorLeft, 12, protocol.UserPayload{UserID: "ghost2"}))
	detail := c.expectSent(t, protocol.IntentGetRoomDetail)
	c.expectQuiet(t)

	fresh := lobby()
	fresh.Spectators = append(fresh.Spectators, domain.Player{UserID: "s2"})
	c.ackRoom(t, detail, fresh, 20)
	require.Eventually(t, func() bool {
		return len(currentRoom(t, e).Spectators) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomNotFoundClearsRoom(t *testing.T) {
	e, c, b := setup(t, "owner")
	ch := notices(b)
	c.push(joinedFrame(t, lobby(), 10))
	c.push(frame(t, protocol.EventError, 11, protocol.ErrorPayload{Code: int(domain.CodeRoomNotFound), Message: "gone"}))

	assert.Nil(t, currentRoom(t, e))
	assert.Equal(t, bus.ActionNavigate, nextNotice(t, ch).Action)
}

func TestUnknownErrorCodeKeepsState(t *testing.T) {
	e, c, b := setup(t, "owner")
	ch := notices(b)
	c.push(joinedFrame(t, lobby(), 10))
	c.push(frame(t, protocol.EventError, 11, protocol.ErrorPayload{Code: 5000, Message: "oops"}))

	n := nextNotice(t, ch)
	assert.Equal(t, bus.ActionToast, n.Action)
	assert.False(t, n.Fatal)
	assert.NotNil(t, currentRoom(t, e))
	c.expectQuiet(t)
}

func TestInvalidPasswordPrompts(t *testing.T) {
	e, c, b := setup(t, "owner")
	ch := notices(b)

	done := async(func() error { return e.JoinRoom(context.Background(), "r1", "nope") })
	f := c.expectSent(t, protocol.IntentJoinRoom)
	c.ack(t, f, protocol.AckResult{Status: protocol.StatusError, Code: int(domain.CodeInvalidPassword), Message: "wrong"}, 0)

	var rej *gateway.RejectedError
	require.ErrorAs(t, wait(t, done), &rej)
	assert.Equal(t, domain.CodeInvalidPassword, rej.Code)
	assert.Equal(t, bus.ActionPassword, nextNotice(t, ch).Action)
	assert.Nil(t, currentRoom(t, e))
}

func TestJoinFetchesSnapshot(t *testing.T) {
	e, c, _ := setup(t, "me")
	done := async(func() error { return e.JoinRoom(context.Background(), "r1", "") })
	c.ackOK(t, c.expectSent(t, protocol.IntentJoinRoom))
	require.NoError(t, wait(t, done))

	detail := c.expectSent(t, protocol.IntentGetRoomDetail)
	c.ackRoom(t, detail, lobby(), 5)
	require.Eventually(t, func() bool {
		r := currentRoom(t, e)
		return r != nil && r.ID == "r1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRosterFullFallsBackToSpectator(t *testing.T) {
	e, c, b := setup(t, "me")
	ch := notices(b)
	c.push(joinedFrame(t, lobby(), 10))

	done := async(func() error { return e.JoinAsPlayer(context.Background(), 0) })
	f := c.expectSent(t, protocol.IntentJoinAsPlayer)
	c.ack(t, f, protocol.AckResult{Status: protocol.StatusError, Message: "Team is full"}, 0)
	require.Error(t, wait(t, done))

	c.expectSent(t, protocol.IntentJoinAsSpectator)
	assert.Equal(t, bus.ActionToast, nextNotice(t, ch).Action)
}

func TestNotConnectedFailsFast(t *testing.T) {
	e, c, _ := setup(t, "owner")
	c.push(joinedFrame(t, lobby(), 10))
	c.transition(conn.StateDisconnected)

	err := e.SendMessage(context.Background(), "hello", domain.MessagePublic)
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
	require.Eventually(t, func() bool {
		p, err := e.Pending(context.Background())
		return err == nil && len(p) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPendingClearsOnAck(t *testing.T) {
	e, c, _ := setup(t, "owner")
	ctx := context.Background()
	c.push(joinedFrame(t, lobby(), 10))

	done := async(func() error { return e.SendMessage(ctx, "  hello ", domain.MessagePublic) })
	f := c.expectSent(t, protocol.IntentSendMessage)
	var req protocol.SendMessageRequest
	require.NoError(t, f.Decode(&req))
	assert.Equal(t, "hello", req.Content)

	p, err := e.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{protocol.IntentSendMessage}, p)

	c.ackOK(t, f)
	require.NoError(t, wait(t, done))
	require.Eventually(t, func() bool {
		p, _ := e.Pending(ctx)
		return len(p) == 0
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, e.SendMessage(ctx, " ", domain.MessagePublic), ErrEmptyMessage)
	assert.ErrorIs(t, e.SendMessage(ctx, "x", domain.MessageTeam), ErrNoTeam)
}

func TestLeaveClearsRoom(t *testing.T) {
	e, c, b := setup(t, "owner")
	ch := notices(b)
	c.push(joinedFrame(t, lobby(), 10))

	done := async(func() error { return e.LeaveRoom(context.Background()) })
	c.ackOK(t, c.expectSent(t, protocol.IntentLeaveRoom))
	require.NoError(t, wait(t, done))

	require.Eventually(t, func() bool { return currentRoom(t, e) == nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, bus.ActionNavigate, nextNotice(t, ch).Action)

	// a late detail for the left room is ignored
	c.push(frame(t, protocol.EventRoomDetail, 30, protocol.RoomPayload{Room: lobby()}))
	assert.Nil(t, currentRoom(t, e))
}

func TestKickedUserLosesRoom(t *testing.T) {
	e, c, b := setup(t, "me")
	ch := notices(b)
	r := lobby()
	r.Players = []domain.Player{{UserID: "me"}}
	c.push(joinedFrame(t, r, 10))
	c.push(frame(t, protocol.EventPlayerLeft, 11, protocol.UserPayload{UserID: "me"}))

	assert.Nil(t, currentRoom(t, e))
	assert.Equal(t, bus.ActionNavigate, nextNotice(t, ch).Action)
}

func draftLobby() domain.Room {
	r := lobby()
	r.Status = domain.StatusPicking
	r.Spectators = nil
	r.Teams[0].CaptainID = "c1"
	r.Teams[1].CaptainID = "c2"
	r.Players = []domain.Player{
		{UserID: "c1", IsCaptain: true, TeamID: domain.TeamRef(1)},
		{UserID: "c2", IsCaptain: true, TeamID: domain.TeamRef(2)},
		{UserID: "p1"}, {UserID: "p2"},
	}
	return r
}

func TestCaptainPickFlow(t *testing.T) {
	e, c, b := setup(t, "c1")
	ctx := context.Background()
	states := make(chan draft.State, 16)
	bus.Subscribe(b, func(m bus.DraftChanged) { states <- m.State.(draft.State) })

	c.push(joinedFrame(t, draftLobby(), 10))
	st := <-states
	assert.Equal(t, 1, st.CurrentTeam)

	done := async(func() error { return e.CaptainPick(ctx, "p1") })
	f := c.expectSent(t, protocol.IntentCaptainPick)
	var req protocol.CaptainPickRequest
	require.NoError(t, f.Decode(&req))
	assert.Equal(t, 1, req.TeamID)
	c.ackOK(t, f)
	require.NoError(t, wait(t, done))

	c.push(frame(t, protocol.EventPlayerStatusUpdate, 11, protocol.PlayerStatusPayload{UserID: "p1", TeamID: domain.TeamRef(1), PickOrder: 1}))
	d, err := e.Draft(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.CurrentPick)
	assert.Len(t, d.PickedCharacters, 1)
	assert.Equal(t, 2, d.CurrentTeam)

	assert.ErrorIs(t, e.CaptainPick(ctx, "p2"), draft.ErrWrongTurn)
}

func TestVoiceJoinThroughEngine(t *testing.T) {
	e, c, _ := setup(t, "owner")
	ctx := context.Background()
	assert.Error(t, e.JoinVoice(ctx, domain.VoicePublic))

	c.push(joinedFrame(t, lobby(), 10))
	require.NoError(t, e.JoinVoice(ctx, domain.VoicePublic))
	f := c.expectSent(t, protocol.IntentJoinVoice)
	c.ackOK(t, f)
	c.push(frame(t, protocol.EventVoiceStateUpdate, 11, protocol.VoiceStatePayload{UserID: "owner", Channel: domain.VoicePublic, Action: protocol.VoiceActionJoined}))

	v, err := e.Voice(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.VoicePublic, v.Current)
	require.Len(t, v.Channels[domain.VoicePublic], 1)
	assert.Equal(t, "Owner", v.Channels[domain.VoicePublic][0].Username)

	assert.ErrorIs(t, e.JoinVoice(ctx, domain.VoiceTeam1), voice.ErrChannelForbidden)
}

func TestHistoryRecordedWhenEnded(t *testing.T) {
	rec := &fakeRecorder{got: make(chan *domain.Room, 1)}
	_, c, _ := setup(t, "owner", WithRecorder(rec))
	c.push(joinedFrame(t, lobby(), 10))
	c.push(frame(t, protocol.EventRoomStatusUpdate, 11, protocol.StatusPayload{Status: domain.StatusGaming}))
	c.push(frame(t, protocol.EventRoomStatusUpdate, 12, protocol.StatusPayload{Status: domain.StatusEnded}))

	select {
	case r := <-rec.got:
		assert.Equal(t, "r1", r.ID)
		assert.Equal(t, domain.StatusEnded, r.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("match not recorded")
	}
}

func TestConnectFailureIsFatal(t *testing.T) {
	e, c, b := setup(t, "owner")
	ch := notices(b)
	c.connectErr = conn.ErrUnauthenticated
	_, err := e.Connect(context.Background(), session.Credentials{Token: "expired"})
	assert.True(t, errors.Is(err, conn.ErrUnauthenticated))
	n := nextNotice(t, ch)
	assert.True(t, n.Fatal)
	assert.Equal(t, bus.ActionRelogin, n.Action)
}

func TestRoomViewMatchesVoiceTracker(t *testing.T) {
	e, c, b := setup(t, "owner")
	ctx := context.Background()
	rooms := make(chan *domain.Room, 16)
	bus.Subscribe(b, func(m bus.RoomChanged) { rooms <- m.Room })

	r := lobby()
	r.VoiceChannels = map[domain.VoiceChannel][]domain.VoiceMember{
		domain.VoicePublic: {{UserID: "owner"}},
	}
	c.push(joinedFrame(t, r, 10))
	c.push(frame(t, protocol.EventVoiceStateUpdate, 11, protocol.VoiceStatePayload{
		UserID: "owner", Channel: domain.VoicePublic, Action: protocol.VoiceActionLeft,
	}))

	v, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, v.Voice.Channels[domain.VoicePublic])
	assert.Equal(t, v.Voice.Channels, v.Room.VoiceChannels)

	var last *domain.Room
	require.Eventually(t, func() bool {
		for {
			select {
			case got := <-rooms:
				last = got
			default:
				return last != nil && len(last.VoiceChannels[domain.VoicePublic]) == 0
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomViewHidesOtherTeamChat(t *testing.T) {
	e, c, _ := setup(t, "a")
	one, two := 1, 2
	r := lobby()
	r.Players = []domain.Player{
		{UserID: "a", TeamID: &one},
		{UserID: "b", TeamID: &two},
	}
	r.Messages = []domain.Message{
		{ID: "m1", Channel: domain.MessagePublic, UserID: "b", Content: "gl"},
		{ID: "m2", Channel: domain.MessageTeam, TeamID: 2, UserID: "b", Content: "rush"},
	}
	c.push(joinedFrame(t, r, 10))

	v, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, v.Room.Messages, 1)
	assert.Equal(t, "m1", v.Room.Messages[0].ID)
	assert.Len(t, currentRoom(t, e).Messages, 1)
}

func TestSubscriberMayReadEngine(t *testing.T) {
	e, c, b := setup(t, "owner")
	errs := make(chan error, 16)
	bus.Subscribe(b, func(bus.RoomChanged) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := e.Room(ctx)
		errs <- err
	})

	c.push(joinedFrame(t, lobby(), 10))
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no room change delivered")
	}
}
