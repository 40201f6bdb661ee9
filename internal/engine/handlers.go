package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/bus"
	"github.com/park285/roomlink/internal/conn"
	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/event"
	"github.com/park285/roomlink/internal/gateway"
	"github.com/park285/roomlink/internal/msgcat"
	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/room"
)

const recordTimeout = 10 * time.Second

func (e *Engine) handleRoom(ev event.Event) {
	if snap, ok := ev.(event.RoomSnapshot); ok && snap.Reason != event.SnapshotJoined {
		// a detail for a room we are not in arrives after a leave or a switch
		if e.target == "" || snap.Room.ID != e.target {
			e.logger.Debug("stale_event_discarded",
				zap.String("event", snap.Kind),
				zap.String("event_room", snap.Room.ID),
				zap.String("target", e.target))
			return
		}
	}

	before := e.store.Status()
	change, err := e.store.ApplyDelta(ev)
	switch {
	case errors.Is(err, room.ErrStaleEvent):
		return
	case errors.Is(err, room.ErrDesync):
		e.logger.Warn("desync_detected", zap.Error(err))
		e.resync("desync")
		return
	case err != nil:
		e.logger.Warn("room_apply_failed", zap.Error(err))
		return
	}
	if change == 0 {
		return
	}
	e.dirty |= dirtyRoom

	switch {
	case change.Has(room.ChangeReplaced):
		e.target = e.store.RoomID()
	case change.Has(room.ChangeRemoved):
		e.roomGone(bus.ActionNavigate, msgcat.KeyRemoved, nil)
	case change.Has(room.ChangeCleared):
		e.roomGone(bus.ActionNavigate, msgcat.KeyLeft, nil)
	}
	if change.Has(room.ChangeStatus) {
		e.statusChanged(before, e.store.Status())
	}
}

func (e *Engine) handleDraft(event.Event) {
	before := e.draft.State()
	e.draft.Sync(e.store.Room())
	after := e.draft.State()
	if before.RoomID != after.RoomID || before.Phase != after.Phase ||
		before.CurrentPick != after.CurrentPick || before.SideChosen != after.SideChosen ||
		len(before.Candidates) != len(after.Candidates) || before.Captains != after.Captains {
		e.dirty |= dirtyDraft
	}
}

func (e *Engine) handleVoice(ev event.Event) {
	meta := event.MetaOf(ev)
	switch ev.(type) {
	case event.RoomSnapshot:
		// the room handler may have refused it
		if e.store.RoomID() != meta.RoomID || e.store.SyncedAt() != meta.TS {
			return
		}
	case event.RoomLeft:
		if e.store.RoomID() != "" {
			return
		}
	default:
		if meta.RoomID != "" && meta.RoomID != e.store.RoomID() {
			return
		}
	}
	if e.voice.Apply(ev) {
		e.dirty |= dirtyVoice
	}
}

func (e *Engine) handleSession(ev event.Event) {
	switch ev := ev.(type) {
	case event.RoleChanged:
		if ev.UserID == "" || ev.UserID == e.store.UserID() {
			e.resync("role_changed")
		}
	case event.StatusUpdated:
		if ev.RoomID == "" || ev.RoomID == e.store.RoomID() {
			e.resync("status_updated")
		}
	case event.ServerError:
		e.logger.Info("server_error",
			zap.Int("code", int(ev.Code)),
			zap.String("code_name", ev.Code.String()),
			zap.String("message", ev.Message))
		e.recoverCode("", ev.RoomID, ev.Code, ev.Message)
	}
}

func (e *Engine) statusChanged(from, to domain.RoomStatus) {
	if from == to {
		return
	}
	e.logger.Info("room_status_changed",
		zap.String("room_id", e.store.RoomID()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	switch to {
	case domain.StatusGaming:
		e.startedAt = e.now()
	case domain.StatusEnded:
		e.recordMatch()
	}
}

func (e *Engine) recordMatch() {
	if e.rec == nil {
		return
	}
	r := e.store.Room()
	if r == nil {
		return
	}
	started, ended := e.startedAt, e.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := e.rec.RecordMatch(ctx, r, started, ended); err != nil {
			e.logger.Warn("history_record_failed", zap.String("room_id", r.ID), zap.Error(err))
			return
		}
		e.logger.Info("history_recorded", zap.String("room_id", r.ID))
	}()
}

// roomGone finishes a room that the store no longer holds.
func (e *Engine) roomGone(action bus.NoticeAction, key string, data map[string]any) {
	e.target, e.password = "", ""
	e.startedAt = time.Time{}
	e.store.Clear()
	e.voice.Reset()
	e.draft.Sync(nil)
	e.dirty |= dirtyRoom | dirtyDraft | dirtyVoice
	e.notice(bus.Notice{Action: action, Text: e.text(key, data)})
}

// resync requests one authoritative snapshot of the current room. Further
// requests are coalesced until it resolves.
func (e *Engine) resync(reason string) {
	id := e.target
	if id == "" {
		id = e.store.RoomID()
	}
	if id == "" || e.resyncing {
		return
	}
	if !e.connected {
		// the reconnect path resyncs once the transport is back
		return
	}
	e.resyncing = true
	e.resyncSeq++
	seq := e.resyncSeq
	e.logger.Info("resync_requested", zap.String("room_id", id), zap.String("reason", reason))
	go func() {
		r, ts, err := e.gw.FetchRoom(e.ctx, id)
		e.post(snapshotMsg{seq: seq, roomID: id, room: r, ts: ts, err: err})
	}()
}

func (e *Engine) onSnapshot(m snapshotMsg) {
	if m.seq != e.resyncSeq {
		return
	}
	e.resyncing = false
	if m.err != nil {
		var rej *gateway.RejectedError
		if errors.As(m.err, &rej) {
			e.recoverCode(protocol.IntentGetRoomDetail, m.roomID, rej.Code, rej.Message)
			return
		}
		e.logger.Warn("resync_failed", zap.String("room_id", m.roomID), zap.Error(m.err))
		return
	}
	ev := event.RoomSnapshot{
		Meta:   event.Meta{Kind: protocol.EventRoomDetail, RoomID: m.roomID, TS: m.ts},
		Reason: event.SnapshotResync,
		Room:   m.room,
	}
	e.norm.Router().Dispatch(ev)
}

func (e *Engine) onConnState(ev conn.StateEvent) {
	e.out.push(bus.ConnectionChanged{State: string(ev.State)})
	switch ev.State {
	case conn.StateConnected:
		wasLost := !e.connected
		e.connected = true
		if ev.Reconnected() {
			e.notice(bus.Notice{Action: bus.ActionToast, Text: e.text(msgcat.KeyReconnected, nil)})
		}
		if wasLost && e.target != "" {
			e.rejoin()
		}
	case conn.StateFailed:
		e.lostConnection()
		e.notice(bus.Notice{
			Action: bus.ActionRetry,
			Fatal:  true,
			Err:    ev.Err,
			Text:   e.text(msgcat.KeyConnectionFailed, map[string]any{"Message": errText(ev.Err)}),
		})
	default:
		e.lostConnection()
	}
}

func (e *Engine) lostConnection() {
	e.connected = false
	if e.resyncing {
		// the in-flight request fails with the connection; ignore its result
		e.resyncing = false
		e.resyncSeq++
	}
}

// rejoin re-issues the join for the room held before the drop. The snapshot
// request follows once the join is acknowledged.
func (e *Engine) rejoin() {
	id := e.target
	e.logger.Info("rejoin_after_reconnect", zap.String("room_id", id))
	err := e.sendAsync(protocol.IntentJoinRoom, id, protocol.JoinRoomRequest{RoomID: id, Password: e.password, ForceJoin: true})
	if err != nil {
		e.logger.Warn("rejoin_failed", zap.String("room_id", id), zap.Error(err))
	}
}

// sendAsync writes an intent from the loop without blocking on its ack.
func (e *Engine) sendAsync(intent, roomID string, payload any) error {
	e.addPending(intent)
	err := e.gw.Send(e.ctx, intent, roomID, payload, func(r gateway.Result) {
		e.post(resultMsg{intent: intent, roomID: roomID, res: r, err: r.Err})
	})
	if err != nil {
		e.donePending(intent)
	}
	return err
}

func (e *Engine) onResult(m resultMsg) {
	e.donePending(m.intent)
	if m.err == nil {
		e.confirmed(m)
		return
	}
	e.voice.Rejected(m.intent == protocol.IntentJoinVoice, m.intent == protocol.IntentSetVoiceMute)
	e.dirty |= dirtyVoice

	var rej *gateway.RejectedError
	if errors.As(m.err, &rej) {
		e.logger.Info("intent_rejected",
			zap.String("intent", m.intent),
			zap.Int("code", int(rej.Code)),
			zap.String("message", rej.Message))
		e.recoverCode(m.intent, m.roomID, rej.Code, rej.Message)
		return
	}
	e.logger.Warn("intent_failed", zap.String("intent", m.intent), zap.Error(m.err))
}

func (e *Engine) confirmed(m resultMsg) {
	switch m.intent {
	case protocol.IntentJoinRoom:
		// also the rejoin after a reconnect: the held mirror may have missed events
		e.target = m.roomID
		e.resync("joined")
	case protocol.IntentLeaveRoom:
		if e.store.RoomID() == m.roomID {
			e.norm.Router().Dispatch(event.RoomLeft{Meta: event.Meta{Kind: protocol.EventRoomLeft, RoomID: m.roomID}})
		}
		if e.target == m.roomID {
			e.target, e.password = "", ""
		}
	}
}

// recoverCode maps a server error code to its local recovery.
func (e *Engine) recoverCode(intent, roomID string, code domain.ErrorCode, message string) {
	if roomID == "" {
		roomID = e.store.RoomID()
	}
	switch {
	case code == domain.CodeRoomNotFound:
		if e.store.RoomID() != "" || e.target != "" {
			e.roomGone(bus.ActionNavigate, msgcat.KeyRoomNotFound, map[string]any{"RoomID": roomID})
			return
		}
		e.notice(bus.Notice{Action: bus.ActionNavigate, Code: code, Text: e.text(msgcat.KeyRoomNotFound, map[string]any{"RoomID": roomID})})
	case code == domain.CodeNotRoomMember:
		e.notice(bus.Notice{Action: bus.ActionToast, Code: code, Text: e.text(msgcat.KeyNotMember, nil)})
		if intent != protocol.IntentGetRoomDetail {
			e.resync("not_a_member")
		}
	case code == domain.CodeInvalidPassword:
		e.password = ""
		e.notice(bus.Notice{Action: bus.ActionPassword, Code: code, Text: e.text(msgcat.KeyInvalidPassword, nil)})
	case code == domain.CodeRosterFull || (intent == protocol.IntentJoinAsPlayer && strings.Contains(strings.ToLower(message), "full")):
		_, member := e.store.Member(e.store.UserID())
		if id := e.store.RoomID(); id != "" && !member {
			if err := e.sendAsync(protocol.IntentJoinAsSpectator, id, protocol.RoomRequest{RoomID: id}); err != nil {
				e.logger.Warn("spectator_fallback_failed", zap.Error(err))
			}
		}
		e.notice(bus.Notice{Action: bus.ActionToast, Code: code, Text: e.text(msgcat.KeyRosterFull, nil)})
	case intent != "":
		e.notice(bus.Notice{Action: bus.ActionToast, Code: code,
			Text: e.text(msgcat.KeyIntentRejected, map[string]any{"Intent": intent, "Message": message})})
	default:
		e.notice(bus.Notice{Action: bus.ActionToast, Code: code,
			Text: e.text(msgcat.KeyGeneric, map[string]any{"Message": message})})
	}
}

// connectFailed surfaces a fatal connect error.
func (e *Engine) connectFailed(err error) {
	n := bus.Notice{Fatal: true, Err: err, Action: bus.ActionRetry}
	switch {
	case errors.Is(err, conn.ErrUnauthenticated):
		n.Action = bus.ActionRelogin
		n.Text = e.text(msgcat.KeyUnauthenticated, nil)
	case errors.Is(err, conn.ErrHandshakeTimeout):
		n.Text = e.text(msgcat.KeyHandshakeTimeout, nil)
	default:
		n.Text = e.text(msgcat.KeyConnectionFailed, map[string]any{"Message": errText(err)})
	}
	e.notice(n)
}

func (e *Engine) notice(n bus.Notice) {
	if n.Fatal {
		e.logger.Error("notice", zap.String("action", string(n.Action)), zap.String("text", n.Text), zap.Error(n.Err))
	} else {
		e.logger.Info("notice", zap.String("action", string(n.Action)), zap.String("text", n.Text))
	}
	e.out.push(n)
}

func (e *Engine) text(key string, data map[string]any) string {
	if e.cat == nil {
		return key
	}
	return e.cat.Text(key, data)
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
