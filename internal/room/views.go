package room

import "github.com/park285/roomlink/internal/domain"

// Room returns a copy of the held room, or nil.
func (s *Store) Room() *domain.Room { return s.room.Clone() }

// RoomID is empty when no room is held.
func (s *Store) RoomID() string {
	if s.room == nil {
		return ""
	}
	return s.room.ID
}

func (s *Store) Status() domain.RoomStatus {
	if s.room == nil {
		return ""
	}
	return s.room.Status
}

// IsOwner reports whether the local user created the held room.
func (s *Store) IsOwner() bool {
	return s.room != nil && s.userID != "" && s.room.CreatorID == s.userID
}

// IsInRoom reports whether the local user is listed in the held room.
func (s *Store) IsInRoom() bool {
	if s.room == nil {
		return false
	}
	_, ok := s.room.Member(s.userID)
	return ok
}

// IsPlayer reports whether the local user is on the player roster.
func (s *Store) IsPlayer() bool {
	return s.room != nil && s.room.PlayerIndex(s.userID) >= 0
}

func (s *Store) Players() []domain.Player {
	if s.room == nil {
		return nil
	}
	return clonePlayers(s.room.Players)
}

func (s *Store) Spectators() []domain.Player {
	if s.room == nil {
		return nil
	}
	return clonePlayers(s.room.Spectators)
}

// Member looks userID up among players and spectators.
func (s *Store) Member(userID string) (domain.Player, bool) {
	if s.room == nil {
		return domain.Player{}, false
	}
	return s.room.Member(userID)
}

func (s *Store) Team(id int) (domain.Team, bool) {
	if s.room == nil {
		return domain.Team{}, false
	}
	t := s.room.Team(id)
	if t == nil {
		return domain.Team{}, false
	}
	return *t, true
}

// VisibleMessages returns the messages viewerID may see. Team messages are
// shown to players of that team only, unless flagged visible to everyone.
func (s *Store) VisibleMessages(viewerID string) []domain.Message {
	if s.room == nil {
		return nil
	}
	return VisibleMessages(s.room, viewerID)
}

func VisibleMessages(r *domain.Room, viewerID string) []domain.Message {
	viewerTeam := 0
	if i := r.PlayerIndex(viewerID); i >= 0 && r.Players[i].TeamID != nil {
		viewerTeam = *r.Players[i].TeamID
	}
	out := make([]domain.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Channel == domain.MessageTeam && !m.VisibleToAll && (viewerTeam == 0 || m.TeamID != viewerTeam) {
			continue
		}
		out = append(out, m)
	}
	return out
}
