package protocol

import "github.com/park285/roomlink/internal/domain"

// Outbound payloads.

type JoinRoomRequest struct {
	RoomID    string `json:"roomId"`
	Password  string `json:"password,omitempty"`
	ForceJoin bool   `json:"forceJoin,omitempty"`
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type JoinAsPlayerRequest struct {
	RoomID string `json:"roomId"`
	TeamID *int   `json:"teamId,omitempty"`
}

type KickPlayerRequest struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
}

type SendMessageRequest struct {
	RoomID  string                `json:"roomId"`
	Content string                `json:"content"`
	Channel domain.MessageChannel `json:"channel"`
	TeamID  int                   `json:"teamId,omitempty"`
}

type CaptainPickRequest struct {
	RoomID   string `json:"roomId"`
	TeamID   int    `json:"teamId"`
	PlayerID string `json:"playerId"`
}

type CaptainPickSideRequest struct {
	RoomID string      `json:"roomId"`
	TeamID int         `json:"teamId"`
	Side   domain.Side `json:"side"`
}

type JoinVoiceRequest struct {
	RoomID  string              `json:"roomId"`
	Channel domain.VoiceChannel `json:"channel"`
}

type SetVoiceMuteRequest struct {
	RoomID string `json:"roomId"`
	Muted  bool   `json:"muted"`
}

type SetReadyRequest struct {
	RoomID string `json:"roomId"`
	Ready  bool   `json:"ready"`
}

// VoiceFrame carries one captured audio frame; Data is base64 on the wire.
type VoiceFrame struct {
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Data   []byte `json:"data"`
}

// Inbound payloads.

type RoomPayload struct {
	Room domain.Room `json:"room"`
}

type MemberPayload struct {
	Player domain.Player `json:"player"`
}

type UserPayload struct {
	UserID string `json:"userId"`
}

type StatusPayload struct {
	Status domain.RoomStatus `json:"status"`
}

type GameStartedPayload struct {
	Teams   [2]domain.Team  `json:"teams"`
	Players []domain.Player `json:"players"`
}

type PlayerStatusPayload struct {
	UserID    string               `json:"userId"`
	Status    *domain.PlayerStatus `json:"status,omitempty"`
	TeamID    *int                 `json:"teamId,omitempty"`
	PickOrder int                  `json:"pickOrder,omitempty"`
}

type TeamPayload struct {
	TeamID    int          `json:"teamId"`
	CaptainID *string      `json:"captainId,omitempty"`
	Side      *domain.Side `json:"side,omitempty"`
}

type MessagePayload struct {
	Message domain.Message `json:"message"`
}

type RoleChangedPayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"` // player | spectator
}

type VoiceStatePayload struct {
	UserID   string              `json:"userId"`
	Username string              `json:"username,omitempty"`
	Avatar   string              `json:"avatar,omitempty"`
	Channel  domain.VoiceChannel `json:"channel,omitempty"`
	Action   string              `json:"action"` // joined | left
	Muted    bool                `json:"muted,omitempty"`
}

type VoiceMutedPayload struct {
	UserID string `json:"userId"`
	Muted  bool   `json:"muted"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	VoiceActionJoined = "joined"
	VoiceActionLeft   = "left"

	RolePlayer    = "player"
	RoleSpectator = "spectator"
)
