package bus

import (
	"github.com/park285/roomlink/internal/domain"
)

const (
	TopicRoom       Topic = "room.changed"
	TopicDraft      Topic = "draft.changed"
	TopicVoice      Topic = "voice.changed"
	TopicNotice     Topic = "notice"
	TopicConnection Topic = "connection.state"
	TopicPending    Topic = "intent.pending"
)

// RoomChanged carries a copy of the held room, nil once the room is gone.
type RoomChanged struct {
	Room *domain.Room
}

func (RoomChanged) Topic() Topic { return TopicRoom }

// DraftChanged carries the derived draft view. State is any to keep the bus
// free of a dependency on the draft package.
type DraftChanged struct {
	State any
}

func (DraftChanged) Topic() Topic { return TopicDraft }

type VoiceChanged struct {
	Channels map[domain.VoiceChannel][]domain.VoiceMember
	Current  domain.VoiceChannel
}

func (VoiceChanged) Topic() Topic { return TopicVoice }

// NoticeAction tells the UI shell what to do with a notice.
type NoticeAction string

const (
	ActionToast    NoticeAction = "toast"
	ActionNavigate NoticeAction = "navigate-away"
	ActionPassword NoticeAction = "prompt-password"
	ActionRelogin  NoticeAction = "relogin"
	ActionRetry    NoticeAction = "retry-connect"
)

// Notice is the single user-visible failure surface.
type Notice struct {
	Action NoticeAction
	Code   domain.ErrorCode
	Text   string
	Fatal  bool
	Err    error
}

func (Notice) Topic() Topic { return TopicNotice }

type ConnectionChanged struct {
	State string
}

func (ConnectionChanged) Topic() Topic { return TopicConnection }

type PendingChanged struct {
	Intents []string
}

func (PendingChanged) Topic() Topic { return TopicPending }
