// Package draft computes the captain draft from the room mirror.
package draft

import (
	"sort"

	"github.com/park285/roomlink/internal/domain"
)

// Pick is one confirmed captain selection.
type Pick struct {
	PlayerID  string `json:"playerId"`
	TeamID    int    `json:"teamId"`
	PickOrder int    `json:"pickOrder"`
}

// State is the derived draft view. PickedCharacters always has CurrentPick-1 entries.
type State struct {
	RoomID           string            `json:"roomId"`
	Status           domain.RoomStatus `json:"status"`
	Phase            domain.RoomStatus `json:"phase"`
	PickPattern      []int             `json:"pickPattern"`
	CurrentPick      int               `json:"currentPick"`
	CurrentTeam      int               `json:"currentTeam"`
	PickedCharacters []Pick            `json:"pickedCharacters"`
	Candidates       []domain.Player   `json:"candidates"`
	Captains         [2]string         `json:"captains"`
	CaptainsValid    bool              `json:"captainsValid"`
	Complete         bool              `json:"complete"`
	SideChooser      string            `json:"sideChooser,omitempty"`
	SideChosen       bool              `json:"sideChosen"`
}

// Derive is the single computation of the draft view from a room and the
// log of confirmed picks. It does not modify its inputs.
func Derive(r *domain.Room, picks []Pick) State {
	if r == nil {
		return State{CurrentPick: 1}
	}
	log := append([]Pick(nil), picks...)
	pattern := PickPattern(r.PickMode, r.PlayerCount)
	st := State{
		RoomID:           r.ID,
		Status:           r.Status,
		PickPattern:      pattern,
		PickedCharacters: log,
		CurrentPick:      len(log) + 1,
		CurrentTeam:      TeamForPick(pattern, len(log)),
		Captains:         [2]string{r.Teams[0].CaptainID, r.Teams[1].CaptainID},
	}
	st.CaptainsValid = captainsValid(r)
	st.Complete = len(pattern) > 0 && st.CurrentTeam == 0
	st.Candidates = Candidates(r)
	st.Phase = DerivePhase(r.Status, len(log), sum(pattern), st.CaptainsValid)
	st.SideChooser = r.Teams[0].CaptainID
	st.SideChosen = r.Teams[0].Side.Assigned()
	return st
}

// Candidates lists players that are neither captains nor on a team.
func Candidates(r *domain.Room) []domain.Player {
	var out []domain.Player
	for _, p := range r.Players {
		if p.IsCaptain || !p.Unassigned() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// DerivePhase maps the server status and pick progress to the phase the UI
// should present. A draft without two valid captains falls back to waiting.
func DerivePhase(status domain.RoomStatus, picked, total int, captainsOK bool) domain.RoomStatus {
	if status != domain.StatusPicking {
		return status
	}
	if !captainsOK {
		return domain.StatusWaiting
	}
	if total > 0 && picked >= total {
		return domain.StatusSidePicking
	}
	return status
}

func captainsValid(r *domain.Room) bool {
	for i := range r.Teams {
		id := r.Teams[i].CaptainID
		if id == "" {
			return false
		}
		j := r.PlayerIndex(id)
		if j < 0 || !r.Players[j].OnTeam(i+1) {
			return false
		}
	}
	return true
}

// PicksFromRoom rebuilds the pick log from team assignments, ordered by the
// server pick order and then roster order.
func PicksFromRoom(r *domain.Room) []Pick {
	if r == nil {
		return nil
	}
	var ordered, unordered []Pick
	for _, p := range r.Players {
		if p.IsCaptain || p.Unassigned() {
			continue
		}
		pk := Pick{PlayerID: p.UserID, TeamID: *p.TeamID, PickOrder: p.PickOrder}
		if p.PickOrder > 0 {
			ordered = append(ordered, pk)
		} else {
			unordered = append(unordered, pk)
		}
	}
	sortByOrder(ordered)
	out := append(ordered, unordered...)
	for i := range out {
		out[i].PickOrder = i + 1
	}
	return out
}

func sortByOrder(p []Pick) {
	sort.SliceStable(p, func(i, j int) bool { return p[i].PickOrder < p[j].PickOrder })
}
