package domain

import "time"

// RoomStatus is the phase of a room. Phases advance in declaration order.
type RoomStatus string

const (
	StatusWaiting     RoomStatus = "waiting"
	StatusPicking     RoomStatus = "picking"
	StatusSidePicking RoomStatus = "side-picking"
	StatusWaitingGame RoomStatus = "waiting-game"
	StatusGaming      RoomStatus = "gaming"
	StatusEnded       RoomStatus = "ended"
)

var statusOrder = map[RoomStatus]int{
	StatusWaiting:     0,
	StatusPicking:     1,
	StatusSidePicking: 2,
	StatusWaitingGame: 3,
	StatusGaming:      4,
	StatusEnded:       5,
}

// Ordinal returns the position of s in the phase sequence, or -1 when unknown.
func (s RoomStatus) Ordinal() int {
	if n, ok := statusOrder[s]; ok {
		return n
	}
	return -1
}

func (s RoomStatus) Valid() bool { return s.Ordinal() >= 0 }

type Side string

const (
	SideUnassigned Side = "unassigned"
	SideRed        Side = "red"
	SideBlue       Side = "blue"
)

// Complement returns the opposing side; unassigned stays unassigned.
func (s Side) Complement() Side {
	switch s {
	case SideRed:
		return SideBlue
	case SideBlue:
		return SideRed
	default:
		return SideUnassigned
	}
}

func (s Side) Assigned() bool { return s == SideRed || s == SideBlue }

type PlayerStatus string

const (
	PlayerNotReady PlayerStatus = "not-ready"
	PlayerReady    PlayerStatus = "ready"
)

const (
	Team1 = 1
	Team2 = 2
)

// SystemUserID marks messages that were not sent by a user.
const SystemUserID = "system"

type Player struct {
	UserID    string       `json:"userId"`
	Username  string       `json:"username"`
	Avatar    string       `json:"avatar,omitempty"`
	TeamID    *int         `json:"teamId,omitempty"`
	IsCaptain bool         `json:"isCaptain"`
	Status    PlayerStatus `json:"status,omitempty"`
	PickOrder int          `json:"pickOrder,omitempty"`
}

// OnTeam reports whether p is assigned to team id.
func (p Player) OnTeam(id int) bool { return p.TeamID != nil && *p.TeamID == id }

func (p Player) Unassigned() bool { return p.TeamID == nil || *p.TeamID == 0 }

type Team struct {
	ID        int    `json:"id"`
	CaptainID string `json:"captainId,omitempty"`
	Side      Side   `json:"side"`
}

type MessageChannel string

const (
	MessagePublic MessageChannel = "public"
	MessageTeam   MessageChannel = "team"
)

type Message struct {
	ID           string         `json:"id"`
	Channel      MessageChannel `json:"channel"`
	TeamID       int            `json:"teamId,omitempty"`
	UserID       string         `json:"userId"`
	Username     string         `json:"username,omitempty"`
	Content      string         `json:"content"`
	SendTime     time.Time      `json:"sendTime"`
	VisibleToAll bool           `json:"visibleToAll,omitempty"`
}

// Room is the local mirror of one match-organizing session.
type Room struct {
	ID            string                        `json:"id"`
	Name          string                        `json:"name,omitempty"`
	Status        RoomStatus                    `json:"status"`
	PlayerCount   int                           `json:"playerCount"`
	PickMode      string                        `json:"pickMode"`
	GameType      string                        `json:"gameType,omitempty"`
	HasPassword   bool                          `json:"hasPassword,omitempty"`
	CreatorID     string                        `json:"creatorId"`
	Players       []Player                      `json:"players"`
	Spectators    []Player                      `json:"spectators"`
	Teams         [2]Team                       `json:"teams"`
	Messages      []Message                     `json:"messages"`
	VoiceChannels map[VoiceChannel][]VoiceMember `json:"voiceChannels,omitempty"`
	CreatedAt     time.Time                     `json:"createdAt,omitempty"`
}

// Team returns a pointer into r.Teams for id 1 or 2.
func (r *Room) Team(id int) *Team {
	if id != Team1 && id != Team2 {
		return nil
	}
	return &r.Teams[id-1]
}

// TeamPlayers filters the roster by team id.
func (r *Room) TeamPlayers(id int) []Player {
	var out []Player
	for _, p := range r.Players {
		if p.OnTeam(id) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) PlayerIndex(userID string) int {
	for i := range r.Players {
		if r.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) SpectatorIndex(userID string) int {
	for i := range r.Spectators {
		if r.Spectators[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Member finds userID among players then spectators.
func (r *Room) Member(userID string) (Player, bool) {
	if i := r.PlayerIndex(userID); i >= 0 {
		return r.Players[i], true
	}
	if i := r.SpectatorIndex(userID); i >= 0 {
		return r.Spectators[i], true
	}
	return Player{}, false
}

// Clone returns a deep copy safe to hand to readers outside the owning goroutine.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = clonePlayers(r.Players)
	c.Spectators = clonePlayers(r.Spectators)
	c.Messages = append(make([]Message, 0, len(r.Messages)), r.Messages...)
	c.VoiceChannels = make(map[VoiceChannel][]VoiceMember, len(r.VoiceChannels))
	for ch, members := range r.VoiceChannels {
		c.VoiceChannels[ch] = append([]VoiceMember(nil), members...)
	}
	return &c
}

func clonePlayers(in []Player) []Player {
	out := make([]Player, len(in))
	for i, p := range in {
		out[i] = p
		if p.TeamID != nil {
			id := *p.TeamID
			out[i].TeamID = &id
		}
	}
	return out
}

// TeamRef returns a pointer to a copy of id, for Player.TeamID.
func TeamRef(id int) *int { return &id }

// CanTransition reports whether a room may move from one status to another.
// Phases only advance, except the reset from a draft phase back to waiting.
func CanTransition(from, to RoomStatus) bool {
	if !to.Valid() {
		return false
	}
	if !from.Valid() || from == to {
		return true
	}
	if to == StatusWaiting {
		return from == StatusPicking || from == StatusSidePicking
	}
	return to.Ordinal() > from.Ordinal()
}
