package engine

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/session"
)

var (
	ErrNotInRoom     = errors.New("not in a room")
	ErrAlreadyInRoom = errors.New("already in another room")
	ErrNotOwner      = errors.New("only the room owner may do that")
	ErrKickSelf      = errors.New("cannot kick yourself")
	ErrUnknownMember = errors.New("user is not in the room")
	ErrNotPlayer     = errors.New("only players may do that")
	ErrNoTeam        = errors.New("team chat requires a team")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrBadTeam       = errors.New("team must be 1 or 2")
)

// Connect opens the session and binds the local identity to the core.
func (e *Engine) Connect(ctx context.Context, creds session.Credentials) (session.Identity, error) {
	id, err := e.conn.Connect(ctx, creds)
	if err != nil {
		e.connectFailed(err)
		return id, err
	}
	err = e.call(ctx, func() {
		e.store.SetUser(id.UserID)
		e.voice.SetUser(id.UserID)
	})
	return id, err
}

func (e *Engine) Disconnect(ctx context.Context) error { return e.conn.Disconnect(ctx) }

// submit validates on the loop, marks the intent pending, then waits for the
// ack (and the settle delay where it applies) on the caller's goroutine.
func (e *Engine) submit(ctx context.Context, intent string, prepare func() (string, any, error)) error {
	var (
		roomID  string
		payload any
		verr    error
	)
	if err := e.call(ctx, func() {
		roomID, payload, verr = prepare()
		if verr == nil {
			e.addPending(intent)
		}
	}); err != nil {
		return err
	}
	if verr != nil {
		return verr
	}
	res, err := e.gw.Request(ctx, intent, roomID, payload)
	e.post(resultMsg{intent: intent, roomID: roomID, res: res, err: err})
	return err
}

func (e *Engine) JoinRoom(ctx context.Context, roomID, password string) error {
	return e.submit(ctx, protocol.IntentJoinRoom, func() (string, any, error) {
		if roomID == "" {
			return "", nil, ErrNotInRoom
		}
		if cur := e.store.RoomID(); cur != "" && cur != roomID {
			return "", nil, ErrAlreadyInRoom
		}
		e.password = password
		return roomID, protocol.JoinRoomRequest{RoomID: roomID, Password: password}, nil
	})
}

func (e *Engine) LeaveRoom(ctx context.Context) error {
	return e.submit(ctx, protocol.IntentLeaveRoom, func() (string, any, error) {
		id, err := e.roomID()
		return id, protocol.RoomRequest{RoomID: id}, err
	})
}

// JoinAsPlayer asks for a player slot, on teamID when it is 1 or 2.
func (e *Engine) JoinAsPlayer(ctx context.Context, teamID int) error {
	return e.submit(ctx, protocol.IntentJoinAsPlayer, func() (string, any, error) {
		id, err := e.roomID()
		if err != nil {
			return "", nil, err
		}
		req := protocol.JoinAsPlayerRequest{RoomID: id}
		switch teamID {
		case 0:
		case domain.Team1, domain.Team2:
			req.TeamID = domain.TeamRef(teamID)
		default:
			return "", nil, ErrBadTeam
		}
		return id, req, nil
	})
}

func (e *Engine) JoinAsSpectator(ctx context.Context) error {
	return e.submit(ctx, protocol.IntentJoinAsSpectator, func() (string, any, error) {
		id, err := e.roomID()
		return id, protocol.RoomRequest{RoomID: id}, err
	})
}

// KickPlayer removes target. Only the owner may kick, and never themself.
func (e *Engine) KickPlayer(ctx context.Context, targetUserID string) error {
	return e.submit(ctx, protocol.IntentKickPlayer, func() (string, any, error) {
		id, err := e.roomID()
		if err != nil {
			return "", nil, err
		}
		if !e.store.IsOwner() {
			return "", nil, ErrNotOwner
		}
		if targetUserID == e.store.UserID() {
			return "", nil, ErrKickSelf
		}
		if _, ok := e.store.Member(targetUserID); !ok {
			return "", nil, ErrUnknownMember
		}
		return id, protocol.KickPlayerRequest{RoomID: id, TargetUserID: targetUserID}, nil
	})
}

func (e *Engine) SendMessage(ctx context.Context, content string, channel domain.MessageChannel) error {
	return e.submit(ctx, protocol.IntentSendMessage, func() (string, any, error) {
		id, err := e.roomID()
		if err != nil {
			return "", nil, err
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return "", nil, ErrEmptyMessage
		}
		req := protocol.SendMessageRequest{RoomID: id, Content: content, Channel: domain.MessagePublic}
		if channel == domain.MessageTeam {
			me, _ := e.store.Member(e.store.UserID())
			if !e.store.IsPlayer() || me.Unassigned() {
				return "", nil, ErrNoTeam
			}
			req.Channel = domain.MessageTeam
			req.TeamID = *me.TeamID
		}
		return id, req, nil
	})
}

// CaptainPick drafts playerID for the acting captain's team.
func (e *Engine) CaptainPick(ctx context.Context, playerID string) error {
	return e.submit(ctx, protocol.IntentCaptainPick, func() (string, any, error) {
		id, err := e.roomID()
		if err != nil {
			return "", nil, err
		}
		team, err := e.draft.ValidatePick(e.store.UserID(), playerID)
		if err != nil {
			return "", nil, err
		}
		return id, protocol.CaptainPickRequest{RoomID: id, TeamID: team, PlayerID: playerID}, nil
	})
}

// CaptainPickSide chooses team 1's side; team 2 takes the complement.
func (e *Engine) CaptainPickSide(ctx context.Context, side domain.Side) error {
	return e.submit(ctx, protocol.IntentCaptainPickSide, func() (string, any, error) {
		id, err := e.roomID()
		if err != nil {
			return "", nil, err
		}
		team, err := e.draft.ValidateSide(e.store.UserID(), side)
		if err != nil {
			return "", nil, err
		}
		return id, protocol.CaptainPickSideRequest{RoomID: id, TeamID: team, Side: side}, nil
	})
}

func (e *Engine) SetReady(ctx context.Context, ready bool) error {
	return e.submit(ctx, protocol.IntentSetReady, func() (string, any, error) {
		id, err := e.roomID()
		if err != nil {
			return "", nil, err
		}
		if !e.store.IsPlayer() {
			return "", nil, ErrNotPlayer
		}
		return id, protocol.SetReadyRequest{RoomID: id, Ready: ready}, nil
	})
}

// RequestSnapshot forces a resync of the held room.
func (e *Engine) RequestSnapshot(ctx context.Context) error {
	var err error
	if cerr := e.call(ctx, func() {
		if _, err = e.roomID(); err == nil {
			e.resync("requested")
		}
	}); cerr != nil {
		return cerr
	}
	return err
}

// Voice intents return once written; membership changes arrive as events.

func (e *Engine) JoinVoice(ctx context.Context, ch domain.VoiceChannel) error {
	return e.voiceCall(ctx, func() error { return e.voice.Join(ch) })
}

func (e *Engine) LeaveVoice(ctx context.Context) error {
	return e.voiceCall(ctx, e.voice.Leave)
}

func (e *Engine) SetVoiceMute(ctx context.Context, muted bool) error {
	return e.voiceCall(ctx, func() error { return e.voice.SetMuted(muted) })
}

func (e *Engine) SetOutputVolume(ctx context.Context, level float64) error {
	return e.call(ctx, func() { e.voice.SetOutputVolume(level) })
}

func (e *Engine) voiceCall(ctx context.Context, fn func() error) error {
	var err error
	if cerr := e.call(ctx, func() {
		err = fn()
		e.dirty |= dirtyVoice
	}); cerr != nil {
		return cerr
	}
	return err
}

// roomID is the held room. The local user may not be listed yet right after
// joining, before picking a player or spectator slot.
func (e *Engine) roomID() (string, error) {
	id := e.store.RoomID()
	if id == "" {
		return "", ErrNotInRoom
	}
	return id, nil
}

func (e *Engine) addPending(intent string) {
	e.pending[intent]++
	e.dirty |= dirtyPending
}

func (e *Engine) donePending(intent string) {
	if e.pending[intent] <= 1 {
		delete(e.pending, intent)
	} else {
		e.pending[intent]--
	}
	e.dirty |= dirtyPending
}

func (e *Engine) pendingList() []string {
	out := make([]string, 0, len(e.pending))
	for k := range e.pending {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// voiceCommander sends the tracker's intents from the loop.
type voiceCommander struct{ e *Engine }

func (c voiceCommander) JoinVoice(ch domain.VoiceChannel) error {
	id, err := c.e.roomID()
	if err != nil {
		return err
	}
	return c.e.sendAsync(protocol.IntentJoinVoice, id, protocol.JoinVoiceRequest{RoomID: id, Channel: ch})
}

func (c voiceCommander) LeaveVoice() error {
	id, err := c.e.roomID()
	if err != nil {
		return err
	}
	return c.e.sendAsync(protocol.IntentLeaveVoice, id, protocol.RoomRequest{RoomID: id})
}

func (c voiceCommander) SetVoiceMute(muted bool) error {
	id, err := c.e.roomID()
	if err != nil {
		return err
	}
	return c.e.sendAsync(protocol.IntentSetVoiceMute, id, protocol.SetVoiceMuteRequest{RoomID: id, Muted: muted})
}

// sendVoiceFrame runs on the audio goroutine.
func (e *Engine) sendVoiceFrame(frame []byte) {
	p := e.voiceRoom.Load()
	if p == nil || *p == "" {
		return
	}
	f := protocol.VoiceFrame{RoomID: *p, UserID: e.conn.Identity().UserID, Data: frame}
	_ = e.gw.Send(e.ctx, protocol.IntentVoiceData, *p, f, nil)
}
