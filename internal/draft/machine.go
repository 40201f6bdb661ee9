package draft

import (
	"errors"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/domain"
)

var (
	ErrNotPicking     = errors.New("draft: room is not in the picking phase")
	ErrNotSidePicking = errors.New("draft: room is not in the side-picking phase")
	ErrNotCaptain     = errors.New("draft: only a captain may act")
	ErrWrongTurn      = errors.New("draft: not your team's turn")
	ErrNotEligible    = errors.New("draft: player cannot be picked")
	ErrInvalidSide    = errors.New("draft: side must be red or blue")
	ErrSideTaken      = errors.New("draft: side already chosen")
	ErrDraftComplete  = errors.New("draft: every pick has been made")
)

// Machine keeps the confirmed pick log in the order picks were observed and
// derives State from it. It is not safe for concurrent use.
type Machine struct {
	room   *domain.Room
	log    []Pick
	logger *zap.Logger
}

func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{logger: logger}
}

// Reset discards the log and rebuilds it from the room's team assignments.
func (m *Machine) Reset(r *domain.Room) {
	m.room = r
	m.log = PicksFromRoom(r)
}

// Sync reconciles the log with the room after a confirmed change. Picks whose
// player is still on the same team keep their position; new assignments are
// appended. Returning to waiting restarts the draft.
func (m *Machine) Sync(r *domain.Room) {
	if r == nil {
		m.room, m.log = nil, nil
		return
	}
	if m.room == nil || m.room.ID != r.ID {
		m.Reset(r)
		return
	}
	m.room = r
	if r.Status == domain.StatusWaiting {
		m.log = PicksFromRoom(r)
		return
	}

	current := PicksFromRoom(r)
	byID := make(map[string]Pick, len(current))
	for _, p := range current {
		byID[p.PlayerID] = p
	}
	kept := make([]Pick, 0, len(current))
	seen := make(map[string]struct{}, len(current))
	for _, p := range m.log {
		if cur, ok := byID[p.PlayerID]; ok && cur.TeamID == p.TeamID {
			kept = append(kept, p)
			seen[p.PlayerID] = struct{}{}
		}
	}
	for _, p := range current {
		if _, ok := seen[p.PlayerID]; ok {
			continue
		}
		kept = append(kept, p)
		m.logger.Debug("draft_pick_observed",
			zap.String("room_id", r.ID),
			zap.String("player_id", p.PlayerID),
			zap.Int("team_id", p.TeamID))
	}
	for i := range kept {
		kept[i].PickOrder = i + 1
	}
	m.log = kept
}

// State derives the current draft view.
func (m *Machine) State() State { return Derive(m.room, m.log) }

// Picks returns a copy of the log.
func (m *Machine) Picks() []Pick { return append([]Pick(nil), m.log...) }

// ValidatePick checks a captain pick before it is sent and returns the
// acting team.
func (m *Machine) ValidatePick(actorID, targetID string) (int, error) {
	st := m.State()
	if m.room == nil || st.Phase != domain.StatusPicking {
		return 0, ErrNotPicking
	}
	team := captainTeam(m.room, actorID)
	if team == 0 {
		return 0, ErrNotCaptain
	}
	if st.Complete {
		return 0, ErrDraftComplete
	}
	if st.CurrentTeam != team {
		return 0, ErrWrongTurn
	}
	for _, c := range st.Candidates {
		if c.UserID == targetID {
			return team, nil
		}
	}
	return 0, ErrNotEligible
}

// ValidateSide checks a side choice. Team 1's captain chooses; team 2 gets
// the complement.
func (m *Machine) ValidateSide(actorID string, side domain.Side) (int, error) {
	st := m.State()
	if m.room == nil || st.Phase != domain.StatusSidePicking {
		return 0, ErrNotSidePicking
	}
	if !side.Assigned() {
		return 0, ErrInvalidSide
	}
	if captainTeam(m.room, actorID) != domain.Team1 {
		return 0, ErrNotCaptain
	}
	if st.SideChosen {
		return 0, ErrSideTaken
	}
	return domain.Team1, nil
}

func captainTeam(r *domain.Room, userID string) int {
	if userID == "" {
		return 0
	}
	for i := range r.Teams {
		if r.Teams[i].CaptainID == userID {
			return i + 1
		}
	}
	return 0
}
