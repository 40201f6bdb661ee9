// Package normalize turns inbound frames into domain events and routes them.
package normalize

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/event"
	"github.com/park285/roomlink/internal/protocol"
)

type Normalizer struct {
	window Window
	router *Router
	logger *zap.Logger
}

func New(window Window, router *Router, logger *zap.Logger) *Normalizer {
	if window == nil {
		window = NewMemoryWindow(0, 0)
	}
	if router == nil {
		router = NewRouter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{window: window, router: router, logger: logger}
}

func (n *Normalizer) Router() *Router { return n.router }

// Normalize converts f into a domain event. It returns false for unknown
// frames, undecodable payloads and repeats already inside the window.
func (n *Normalizer) Normalize(ctx context.Context, f protocol.Frame) (event.Event, bool) {
	ev, err := decode(f)
	if err != nil {
		n.logger.Warn("normalize_decode_failed", zap.String("event", f.Event), zap.Error(err))
		return nil, false
	}
	if ev == nil {
		n.logger.Debug("normalize_unknown_event", zap.String("event", f.Event))
		return nil, false
	}
	key := event.DedupeKey(ev)
	if key == "" {
		return ev, true
	}
	seen, err := n.window.Seen(ctx, key)
	if err != nil {
		// a failing window accepts the event
		n.logger.Warn("dedupe_window_error", zap.String("key", key), zap.Error(err))
		return ev, true
	}
	if seen {
		n.logger.Debug("duplicate_dropped", zap.String("key", key))
		return nil, false
	}
	return ev, true
}

// Process normalizes f and dispatches the result. It reports whether an
// event was dispatched.
func (n *Normalizer) Process(ctx context.Context, f protocol.Frame) bool {
	ev, ok := n.Normalize(ctx, f)
	if !ok {
		return false
	}
	n.router.Dispatch(ev)
	return true
}

func decode(f protocol.Frame) (event.Event, error) {
	meta := event.Meta{Kind: f.Event, RoomID: f.RoomID, TS: f.TS}
	switch f.Event {
	case protocol.EventRoomJoined, protocol.EventRoomDetail:
		var p protocol.RoomPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		if meta.RoomID == "" {
			meta.RoomID = p.Room.ID
		}
		reason := event.SnapshotDetail
		if f.Event == protocol.EventRoomJoined {
			reason = event.SnapshotJoined
		}
		return event.RoomSnapshot{Meta: meta, Reason: reason, Room: p.Room}, nil

	case protocol.EventRoomLeft:
		return event.RoomLeft{Meta: meta}, nil

	case protocol.EventRoleChanged:
		var p protocol.RoleChangedPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.RoleChanged{Meta: meta, UserID: p.UserID, Role: p.Role}, nil

	case protocol.EventRoomStatusUpdate:
		var p protocol.StatusPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.StatusUpdated{Meta: meta, Status: p.Status}, nil

	case protocol.EventPlayerJoined, protocol.EventSpectatorJoined,
		protocol.EventSpectatorToPlayer, protocol.EventPlayerToSpectator:
		var p protocol.MemberPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		switch f.Event {
		case protocol.EventPlayerJoined:
			return event.PlayerJoined{Meta: meta, Player: p.Player}, nil
		case protocol.EventSpectatorJoined:
			return event.SpectatorJoined{Meta: meta, Player: p.Player}, nil
		case protocol.EventSpectatorToPlayer:
			return event.MovedToPlayer{Meta: meta, Player: p.Player}, nil
		default:
			return event.MovedToSpectator{Meta: meta, Player: p.Player}, nil
		}

	case protocol.EventPlayerLeft, protocol.EventSpectatorLeft:
		var p protocol.UserPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		if f.Event == protocol.EventPlayerLeft {
			return event.PlayerLeft{Meta: meta, UserID: p.UserID}, nil
		}
		return event.SpectatorLeft{Meta: meta, UserID: p.UserID}, nil

	case protocol.EventGameStarted:
		var p protocol.GameStartedPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.GameStarted{Meta: meta, Teams: p.Teams, Players: p.Players}, nil

	case protocol.EventPlayerStatusUpdate:
		var p protocol.PlayerStatusPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.PlayerUpdated{Meta: meta, UserID: p.UserID, Status: p.Status, TeamID: p.TeamID, PickOrder: p.PickOrder}, nil

	case protocol.EventTeamUpdate:
		var p protocol.TeamPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.TeamUpdated{Meta: meta, TeamID: p.TeamID, CaptainID: p.CaptainID, Side: p.Side}, nil

	case protocol.EventNewMessage:
		var p protocol.MessagePayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.MessageAppended{Meta: meta, Message: p.Message}, nil

	case protocol.EventVoiceStateUpdate:
		var p protocol.VoiceStatePayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.VoiceMembership{
			Meta:    meta,
			Member:  domain.VoiceMember{UserID: p.UserID, Username: p.Username, Avatar: p.Avatar, Muted: p.Muted},
			Channel: p.Channel,
			Joined:  p.Action == protocol.VoiceActionJoined,
		}, nil

	case protocol.EventVoiceMuted:
		var p protocol.VoiceMutedPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.VoiceMuted{Meta: meta, UserID: p.UserID, Muted: p.Muted}, nil

	case protocol.EventVoiceData:
		var p protocol.VoiceFrame
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.VoiceFrame{Meta: meta, UserID: p.UserID, Data: p.Data}, nil

	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := f.Decode(&p); err != nil {
			return nil, err
		}
		return event.ServerError{Meta: meta, Code: domain.ErrorCode(p.Code), Message: p.Message}, nil
	}
	return nil, nil
}
