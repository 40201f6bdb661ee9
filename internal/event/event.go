// Package event defines the closed set of domain events produced from inbound frames.
package event

import (
	"strconv"

	"github.com/park285/roomlink/internal/domain"
)

// Concern selects which state owner an event is routed to.
type Concern uint8

const (
	ConcernRoom Concern = 1 << iota
	ConcernDraft
	ConcernVoice
	ConcernSession
)

// Ordered is the fixed dispatch order across concerns.
var Ordered = []Concern{ConcernRoom, ConcernDraft, ConcernVoice, ConcernSession}

func (c Concern) String() string {
	switch c {
	case ConcernRoom:
		return "room"
	case ConcernDraft:
		return "draft"
	case ConcernVoice:
		return "voice"
	case ConcernSession:
		return "session"
	}
	return "concern(" + strconv.Itoa(int(c)) + ")"
}

// Meta is carried by every event.
type Meta struct {
	Kind   string
	RoomID string
	TS     int64
}

func (m Meta) meta() Meta { return m }

// Event is implemented only by the types in this package.
type Event interface {
	meta() Meta
	Concerns() Concern
}

// MetaOf exposes the envelope fields of ev.
func MetaOf(ev Event) Meta { return ev.meta() }

// DedupeKey is empty for events that are never deduplicated.
func DedupeKey(ev Event) string {
	switch e := ev.(type) {
	case MessageAppended:
		if e.Message.ID == "" {
			return ""
		}
		return "msg:" + e.Message.ID
	case VoiceFrame, ServerError:
		return ""
	}
	m := ev.meta()
	if m.TS <= 0 {
		return ""
	}
	return m.Kind + ":" + m.RoomID + ":" + strconv.FormatInt(m.TS, 10)
}

const roster = ConcernRoom | ConcernDraft

// SnapshotReason tells why a full room replacement arrived.
type SnapshotReason string

const (
	SnapshotJoined SnapshotReason = "joined"
	SnapshotDetail SnapshotReason = "detail"
	// SnapshotResync is a detail fetched by the client itself; it replaces
	// local state whatever its timestamp.
	SnapshotResync SnapshotReason = "resync"
)

type RoomSnapshot struct {
	Meta
	Reason SnapshotReason
	Room   domain.Room
}

type RoomLeft struct{ Meta }

type RoleChanged struct {
	Meta
	UserID string
	Role   string
}

type StatusUpdated struct {
	Meta
	Status domain.RoomStatus
}

type PlayerJoined struct {
	Meta
	Player domain.Player
}

type PlayerLeft struct {
	Meta
	UserID string
}

type SpectatorJoined struct {
	Meta
	Player domain.Player
}

type SpectatorLeft struct {
	Meta
	UserID string
}

type MovedToPlayer struct {
	Meta
	Player domain.Player
}

type MovedToSpectator struct {
	Meta
	Player domain.Player
}

type TeamUpdated struct {
	Meta
	TeamID    int
	CaptainID *string
	Side      *domain.Side
}

type GameStarted struct {
	Meta
	Teams   [2]domain.Team
	Players []domain.Player
}

// PlayerUpdated carries ready status and team assignment; a team assignment
// during picking is a confirmed pick.
type PlayerUpdated struct {
	Meta
	UserID    string
	Status    *domain.PlayerStatus
	TeamID    *int
	PickOrder int
}

type MessageAppended struct {
	Meta
	Message domain.Message
}

type VoiceMembership struct {
	Meta
	Member  domain.VoiceMember
	Channel domain.VoiceChannel
	Joined  bool
}

type VoiceMuted struct {
	Meta
	UserID string
	Muted  bool
}

type VoiceFrame struct {
	Meta
	UserID string
	Data   []byte
}

type ServerError struct {
	Meta
	Code    domain.ErrorCode
	Message string
}

func (RoomSnapshot) Concerns() Concern     { return roster | ConcernVoice | ConcernSession }
func (RoomLeft) Concerns() Concern         { return roster | ConcernVoice | ConcernSession }
func (RoleChanged) Concerns() Concern      { return ConcernSession }
func (StatusUpdated) Concerns() Concern    { return roster | ConcernSession }
func (PlayerJoined) Concerns() Concern     { return roster }
func (PlayerLeft) Concerns() Concern       { return roster }
func (SpectatorJoined) Concerns() Concern  { return roster }
func (SpectatorLeft) Concerns() Concern    { return roster }
func (MovedToPlayer) Concerns() Concern    { return roster }
func (MovedToSpectator) Concerns() Concern { return roster }
func (TeamUpdated) Concerns() Concern      { return roster }
func (GameStarted) Concerns() Concern      { return roster }
func (PlayerUpdated) Concerns() Concern    { return roster }
func (MessageAppended) Concerns() Concern  { return ConcernRoom }
func (VoiceMembership) Concerns() Concern  { return ConcernVoice }
func (VoiceMuted) Concerns() Concern       { return ConcernVoice }
func (VoiceFrame) Concerns() Concern       { return ConcernVoice }
func (ServerError) Concerns() Concern      { return ConcernSession }
