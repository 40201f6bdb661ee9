package engine

import (
	"context"

	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/draft"
)

// VoiceView is the presence state of every channel.
type VoiceView struct {
	Channels     map[domain.VoiceChannel][]domain.VoiceMember `json:"channels"`
	Current      domain.VoiceChannel                          `json:"current,omitempty"`
	Muted        bool                                         `json:"muted"`
	PendingJoin  domain.VoiceChannel                          `json:"pendingJoin,omitempty"`
	PendingMuted *bool                                        `json:"pendingMuted,omitempty"`
}

// View is one consistent read of every derived view.
type View struct {
	UserID     string       `json:"userId"`
	Connection string       `json:"connection"`
	Room       *domain.Room `json:"room"`
	Draft      draft.State  `json:"draft"`
	Voice      VoiceView    `json:"voice"`
	Pending    []string     `json:"pending"`
	IsOwner    bool         `json:"isOwner"`
	IsPlayer   bool         `json:"isPlayer"`
}

func (e *Engine) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := e.call(ctx, func() {
		v = View{
			UserID:     e.store.UserID(),
			Connection: string(e.conn.State()),
			Room:       e.roomView(),
			Draft:      e.draft.State(),
			Voice:      e.voiceView(),
			Pending:    e.pendingList(),
			IsOwner:    e.store.IsOwner(),
			IsPlayer:   e.store.IsPlayer(),
		}
	})
	return v, err
}

// Room returns a copy of the held room as the local user sees it, nil when
// none is held.
func (e *Engine) Room(ctx context.Context) (*domain.Room, error) {
	var r *domain.Room
	err := e.call(ctx, func() { r = e.roomView() })
	return r, err
}

func (e *Engine) Draft(ctx context.Context) (draft.State, error) {
	var st draft.State
	err := e.call(ctx, func() { st = e.draft.State() })
	return st, err
}

func (e *Engine) Voice(ctx context.Context) (VoiceView, error) {
	var v VoiceView
	err := e.call(ctx, func() { v = e.voiceView() })
	return v, err
}

// VoiceMembers lists one channel with metadata backfilled from the roster.
func (e *Engine) VoiceMembers(ctx context.Context, ch domain.VoiceChannel) ([]domain.VoiceMember, error) {
	var m []domain.VoiceMember
	err := e.call(ctx, func() { m = e.voice.Members(ch) })
	return m, err
}

// Messages lists the chat the local user may see.
func (e *Engine) Messages(ctx context.Context) ([]domain.Message, error) {
	var m []domain.Message
	err := e.call(ctx, func() { m = e.store.VisibleMessages(e.store.UserID()) })
	return m, err
}

// Pending lists intents still waiting for an ack.
func (e *Engine) Pending(ctx context.Context) ([]string, error) {
	var p []string
	err := e.call(ctx, func() { p = e.pendingList() })
	return p, err
}

// roomView copies the held room with the chat filtered for the local user
// and voice channels taken from the tracker.
func (e *Engine) roomView() *domain.Room {
	r := e.store.Room()
	if r == nil {
		return nil
	}
	r.Messages = e.store.VisibleMessages(e.store.UserID())
	r.VoiceChannels = e.voice.Channels()
	return r
}

func (e *Engine) voiceView() VoiceView {
	join, mute := e.voice.Pending()
	return VoiceView{
		Channels:     e.voice.Channels(),
		Current:      e.voice.Current(),
		Muted:        e.voice.Muted(),
		PendingJoin:  join,
		PendingMuted: mute,
	}
}
