package room

import "github.com/park285/roomlink/internal/domain"

// sanitize enforces the structural invariants of a freshly received room:
// non-nil collections, unique ids, disjoint player/spectator lists, team ids.
func sanitize(r *domain.Room) {
	seen := make(map[string]bool, len(r.Players))
	players := make([]domain.Player, 0, len(r.Players))
	for _, p := range r.Players {
		if p.UserID == "" || seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		if p.Status == "" {
			p.Status = domain.PlayerNotReady
		}
		players = append(players, p)
	}
	r.Players = players

	spectators := make([]domain.Player, 0, len(r.Spectators))
	for _, p := range r.Spectators {
		if p.UserID == "" || seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		p.TeamID = nil
		p.IsCaptain = false
		spectators = append(spectators, p)
	}
	r.Spectators = spectators

	ids := make(map[string]bool, len(r.Messages))
	messages := make([]domain.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.ID != "" {
			if ids[m.ID] {
				continue
			}
			ids[m.ID] = true
		}
		messages = append(messages, m)
	}
	r.Messages = messages

	for i := range r.Teams {
		r.Teams[i].ID = i + 1
		if r.Teams[i].Side == "" {
			r.Teams[i].Side = domain.SideUnassigned
		}
	}
	if r.VoiceChannels == nil {
		r.VoiceChannels = make(map[domain.VoiceChannel][]domain.VoiceMember)
	}
}
