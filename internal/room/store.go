// Package room holds the local mirror of the joined room. Store is the only
// place room data is mutated; it is owned by a single goroutine.
package room

import (
	"sort"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/event"
)

// Change is a bit set describing what an applied update touched.
type Change uint16

const (
	ChangeRoster Change = 1 << iota
	ChangeStatus
	ChangeTeams
	ChangeMessages
	ChangeReplaced
	ChangeCleared
	ChangeRemoved // local user was removed from the room by someone else
)

func (c Change) Has(bits Change) bool { return c&bits != 0 }

// DraftRelevant reports whether the draft view must be recomputed.
func (c Change) DraftRelevant() bool {
	return c.Has(ChangeRoster | ChangeStatus | ChangeTeams | ChangeReplaced | ChangeCleared)
}

type Store struct {
	userID   string
	room     *domain.Room
	syncedAt int64
	logger   *zap.Logger
}

func NewStore(userID string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{userID: userID, logger: logger}
}

// SetUser changes the local identity used by the ownership accessors.
func (s *Store) SetUser(userID string) { s.userID = userID }

func (s *Store) UserID() string { return s.userID }

// SyncedAt is the server time of the last applied snapshot.
func (s *Store) SyncedAt() int64 { return s.syncedAt }

// ApplySnapshot replaces the held room. ts is the server time of the
// snapshot; deltas stamped earlier are discarded afterwards.
func (s *Store) ApplySnapshot(r domain.Room, ts int64) Change {
	c := r.Clone()
	sanitize(c)
	s.room = c
	s.syncedAt = ts
	s.logger.Debug("room_snapshot_applied",
		zap.String("room_id", c.ID),
		zap.String("status", string(c.Status)),
		zap.Int("players", len(c.Players)),
		zap.Int("spectators", len(c.Spectators)))
	return ChangeReplaced | ChangeRoster | ChangeStatus | ChangeTeams | ChangeMessages
}

// Clear drops the held room.
func (s *Store) Clear() Change {
	if s.room == nil {
		return 0
	}
	s.logger.Debug("room_cleared", zap.String("room_id", s.room.ID))
	s.room = nil
	s.syncedAt = 0
	return ChangeCleared
}

// ApplyDelta applies one confirmed event. Deltas for another room or older
// than the last snapshot return ErrStaleEvent and change nothing, as do pushed
// snapshots of the held room older than it; deltas that reference missing
// state return a *DesyncError and change nothing.
func (s *Store) ApplyDelta(ev event.Event) (Change, error) {
	meta := event.MetaOf(ev)
	switch e := ev.(type) {
	case event.RoomSnapshot:
		if e.Reason != event.SnapshotResync && s.room != nil && e.Room.ID == s.room.ID &&
			e.TS > 0 && e.TS < s.syncedAt {
			return 0, s.stale(meta)
		}
		return s.ApplySnapshot(e.Room, e.TS), nil
	case event.RoomLeft:
		if s.room == nil || (e.RoomID != "" && e.RoomID != s.room.ID) {
			return 0, s.stale(meta)
		}
		return s.Clear(), nil
	}

	if s.room == nil || (meta.RoomID != "" && meta.RoomID != s.room.ID) {
		return 0, s.stale(meta)
	}
	if meta.TS > 0 && meta.TS < s.syncedAt {
		return 0, s.stale(meta)
	}

	switch e := ev.(type) {
	case event.PlayerJoined:
		return s.addPlayer(e.Player), nil
	case event.SpectatorJoined:
		return s.addSpectator(e.Player), nil
	case event.PlayerLeft:
		if s.room.PlayerIndex(e.UserID) < 0 {
			return 0, desync(meta.Kind, "player %s not in roster", e.UserID)
		}
		return s.removeMember(e.UserID), nil
	case event.SpectatorLeft:
		if s.room.SpectatorIndex(e.UserID) < 0 {
			return 0, desync(meta.Kind, "spectator %s not in roster", e.UserID)
		}
		return s.removeMember(e.UserID), nil
	case event.MovedToPlayer:
		if _, ok := s.room.Member(e.Player.UserID); !ok {
			return 0, desync(meta.Kind, "user %s not in room", e.Player.UserID)
		}
		return s.addPlayer(e.Player), nil
	case event.MovedToSpectator:
		if _, ok := s.room.Member(e.Player.UserID); !ok {
			return 0, desync(meta.Kind, "user %s not in room", e.Player.UserID)
		}
		p := e.Player
		p.TeamID = nil
		p.IsCaptain = false
		return s.addSpectator(p), nil
	case event.TeamUpdated:
		return s.updateTeam(meta.Kind, e)
	case event.StatusUpdated:
		return s.setStatus(meta.Kind, e.Status)
	case event.GameStarted:
		return s.startGame(meta.Kind, e)
	case event.PlayerUpdated:
		return s.updatePlayer(meta.Kind, e)
	case event.MessageAppended:
		return s.appendMessage(e.Message), nil
	}
	return 0, nil
}

func (s *Store) stale(meta event.Meta) error {
	held := ""
	if s.room != nil {
		held = s.room.ID
	}
	s.logger.Debug("stale_event_discarded",
		zap.String("event", meta.Kind),
		zap.String("event_room", meta.RoomID),
		zap.String("held_room", held),
		zap.Int64("ts", meta.TS),
		zap.Int64("synced_at", s.syncedAt))
	return ErrStaleEvent
}

func (s *Store) addPlayer(p domain.Player) Change {
	r := s.room
	if i := r.SpectatorIndex(p.UserID); i >= 0 {
		r.Spectators = removeAt(r.Spectators, i)
	}
	if p.Status == "" {
		p.Status = domain.PlayerNotReady
	}
	if i := r.PlayerIndex(p.UserID); i >= 0 {
		r.Players[i] = p
	} else {
		r.Players = append(r.Players, p)
	}
	return ChangeRoster
}

func (s *Store) addSpectator(p domain.Player) Change {
	r := s.room
	c := ChangeRoster
	if i := r.PlayerIndex(p.UserID); i >= 0 {
		if r.Players[i].IsCaptain {
			c |= s.dropCaptain(p.UserID)
		}
		r.Players = removeAt(r.Players, i)
	}
	p.TeamID = nil
	p.IsCaptain = false
	if i := r.SpectatorIndex(p.UserID); i >= 0 {
		r.Spectators[i] = p
	} else {
		r.Spectators = append(r.Spectators, p)
	}
	return c
}

// removeMember drops userID from both lists. Losing the local user clears the room.
func (s *Store) removeMember(userID string) Change {
	r := s.room
	c := ChangeRoster
	if i := r.PlayerIndex(userID); i >= 0 {
		r.Players = removeAt(r.Players, i)
	}
	if i := r.SpectatorIndex(userID); i >= 0 {
		r.Spectators = removeAt(r.Spectators, i)
	}
	c |= s.dropCaptain(userID)
	if userID == s.userID && s.userID != "" {
		s.logger.Info("local_user_removed", zap.String("room_id", r.ID))
		return s.Clear() | ChangeRemoved
	}
	return c
}

// dropCaptain unsets a team captain that is no longer a player.
func (s *Store) dropCaptain(userID string) Change {
	for i := range s.room.Teams {
		if s.room.Teams[i].CaptainID == userID {
			s.room.Teams[i].CaptainID = ""
			return ChangeTeams
		}
	}
	return 0
}

func (s *Store) updateTeam(kind string, e event.TeamUpdated) (Change, error) {
	r := s.room
	team := r.Team(e.TeamID)
	if team == nil {
		return 0, desync(kind, "unknown team %d", e.TeamID)
	}
	if e.CaptainID != nil && *e.CaptainID != "" && r.PlayerIndex(*e.CaptainID) < 0 {
		return 0, desync(kind, "captain %s not a player", *e.CaptainID)
	}
	if e.Side != nil {
		other := r.Team(3 - e.TeamID)
		if e.Side.Assigned() && other.Side == *e.Side {
			return 0, desync(kind, "both teams on side %s", *e.Side)
		}
	}

	var c Change
	if e.CaptainID != nil && *e.CaptainID != team.CaptainID {
		for i := range r.Players {
			p := &r.Players[i]
			if p.UserID == team.CaptainID {
				p.IsCaptain = false
			}
			if p.UserID == *e.CaptainID {
				p.IsCaptain = true
				p.TeamID = domain.TeamRef(e.TeamID)
			}
		}
		team.CaptainID = *e.CaptainID
		c |= ChangeTeams | ChangeRoster
	}
	// the opposing team's complement arrives as its own update
	if e.Side != nil && *e.Side != team.Side {
		team.Side = *e.Side
		c |= ChangeTeams
	}
	return c, nil
}

func (s *Store) setStatus(kind string, to domain.RoomStatus) (Change, error) {
	from := s.room.Status
	if !domain.CanTransition(from, to) {
		return 0, desync(kind, "illegal transition %s -> %s", from, to)
	}
	if from == to {
		return 0, nil
	}
	s.room.Status = to
	return ChangeStatus, nil
}

func (s *Store) startGame(kind string, e event.GameStarted) (Change, error) {
	if !domain.CanTransition(s.room.Status, domain.StatusGaming) {
		return 0, desync(kind, "illegal transition %s -> %s", s.room.Status, domain.StatusGaming)
	}
	r := s.room
	r.Status = domain.StatusGaming
	c := ChangeStatus
	if e.Teams[0].ID != 0 || e.Teams[1].ID != 0 {
		r.Teams = e.Teams
		c |= ChangeTeams
	}
	if len(e.Players) > 0 {
		r.Players = clonePlayers(e.Players)
		c |= ChangeRoster
	}
	sanitize(r)
	return c, nil
}

func (s *Store) updatePlayer(kind string, e event.PlayerUpdated) (Change, error) {
	i := s.room.PlayerIndex(e.UserID)
	if i < 0 {
		return 0, desync(kind, "player %s not in roster", e.UserID)
	}
	p := &s.room.Players[i]
	var c Change
	if e.Status != nil && *e.Status != p.Status {
		p.Status = *e.Status
		c |= ChangeRoster
	}
	if e.TeamID != nil {
		switch id := *e.TeamID; {
		case id == 0:
			if p.TeamID != nil {
				p.TeamID = nil
				c |= ChangeRoster
			}
		case id == domain.Team1 || id == domain.Team2:
			if !p.OnTeam(id) {
				p.TeamID = domain.TeamRef(id)
				c |= ChangeRoster
			}
		default:
			return 0, desync(kind, "unknown team %d", id)
		}
	}
	if e.PickOrder > 0 && p.PickOrder != e.PickOrder {
		p.PickOrder = e.PickOrder
		c |= ChangeRoster
	}
	return c, nil
}

func (s *Store) appendMessage(m domain.Message) Change {
	r := s.room
	if m.ID != "" {
		for _, existing := range r.Messages {
			if existing.ID == m.ID {
				return 0
			}
		}
	}
	// keep send-time order; ties keep arrival order
	i := sort.Search(len(r.Messages), func(i int) bool { return r.Messages[i].SendTime.After(m.SendTime) })
	r.Messages = append(r.Messages, domain.Message{})
	copy(r.Messages[i+1:], r.Messages[i:])
	r.Messages[i] = m
	return ChangeMessages
}

func removeAt(list []domain.Player, i int) []domain.Player {
	return append(list[:i], list[i+1:]...)
}

func clonePlayers(in []domain.Player) []domain.Player {
	r := domain.Room{Players: in}
	return r.Clone().Players
}
