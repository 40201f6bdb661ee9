// Package voice tracks voice-channel presence for the joined room and gates
// the audio device on confirmed membership.
package voice

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/event"
)

var (
	ErrNotInRoom        = errors.New("voice: not in a room")
	ErrUnknownChannel   = errors.New("voice: unknown channel")
	ErrChannelForbidden = errors.New("voice: team channel belongs to another team")
	ErrNotInChannel     = errors.New("voice: not in a voice channel")
)

// Directory resolves room members for validation and metadata backfill.
type Directory interface {
	Member(userID string) (domain.Player, bool)
}

// Commander sends voice intents. Effects are applied only when the server
// confirms them through Apply.
type Commander interface {
	JoinVoice(ch domain.VoiceChannel) error
	LeaveVoice() error
	SetVoiceMute(muted bool) error
}

// Tracker is owned by one goroutine. Only the capture callback runs
// elsewhere, and it reads the atomic send gate alone.
type Tracker struct {
	userID   string
	dir      Directory
	cmd      Commander
	audio    Audio
	sendOut  func(frame []byte)
	logger   *zap.Logger
	channels map[domain.VoiceChannel][]domain.VoiceMember

	current     domain.VoiceChannel
	pendingJoin domain.VoiceChannel
	muted       bool
	pendingMute *bool
	capturing   bool
	volume      float64

	open atomic.Bool
}

type Option func(*Tracker)

func WithAudio(a Audio) Option { return func(t *Tracker) { t.audio = a } }

func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithFrameSink sets where captured, non-silent frames go while unmuted.
func WithFrameSink(fn func(frame []byte)) Option { return func(t *Tracker) { t.sendOut = fn } }

func NewTracker(userID string, dir Directory, cmd Commander, opts ...Option) *Tracker {
	t := &Tracker{
		userID:   userID,
		dir:      dir,
		cmd:      cmd,
		audio:    NopAudio{},
		logger:   zap.NewNop(),
		channels: emptyChannels(),
		volume:   1,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func emptyChannels() map[domain.VoiceChannel][]domain.VoiceMember {
	m := make(map[domain.VoiceChannel][]domain.VoiceMember, len(domain.VoiceChannels))
	for _, ch := range domain.VoiceChannels {
		m[ch] = nil
	}
	return m
}

func (t *Tracker) SetUser(userID string) { t.userID = userID }

// Current is the confirmed channel of the local user, or "".
func (t *Tracker) Current() domain.VoiceChannel { return t.current }

// Muted reports the confirmed mute flag.
func (t *Tracker) Muted() bool { return t.muted }

// Pending lists intents still waiting for confirmation.
func (t *Tracker) Pending() (join domain.VoiceChannel, mute *bool) {
	if t.pendingMute != nil {
		m := *t.pendingMute
		mute = &m
	}
	return t.pendingJoin, mute
}

// Join moves the local user to ch, leaving the current channel first.
func (t *Tracker) Join(ch domain.VoiceChannel) error {
	if !ch.Valid() {
		return ErrUnknownChannel
	}
	me, ok := t.member(t.userID)
	if !ok {
		return ErrNotInRoom
	}
	if team := ch.TeamID(); team != 0 && !me.OnTeam(team) {
		return ErrChannelForbidden
	}
	if t.current == ch || t.pendingJoin == ch {
		return nil
	}
	if t.current != "" {
		if err := t.cmd.LeaveVoice(); err != nil {
			return err
		}
	}
	if err := t.cmd.JoinVoice(ch); err != nil {
		return err
	}
	t.pendingJoin = ch
	t.logger.Debug("voice_join_requested", zap.String("channel", string(ch)), zap.String("from", string(t.current)))
	return nil
}

func (t *Tracker) Leave() error {
	if t.current == "" && t.pendingJoin == "" {
		return nil
	}
	if err := t.cmd.LeaveVoice(); err != nil {
		return err
	}
	t.pendingJoin = ""
	return nil
}

func (t *Tracker) SetMuted(muted bool) error {
	if t.current == "" {
		return ErrNotInChannel
	}
	if err := t.cmd.SetVoiceMute(muted); err != nil {
		return err
	}
	t.pendingMute = &muted
	t.updateGate()
	return nil
}

// Rejected clears pending state after the server refused an intent.
func (t *Tracker) Rejected(intentJoin, intentMute bool) {
	if intentJoin {
		t.pendingJoin = ""
	}
	if intentMute {
		t.pendingMute = nil
	}
	t.updateGate()
}

// SetOutputVolume clamps level and forwards it to the device.
func (t *Tracker) SetOutputVolume(level float64) {
	t.volume = ClampVolume(level)
	t.audio.SetOutputVolume(t.volume)
}

// Members returns a copy of ch's member list with metadata backfilled.
func (t *Tracker) Members(ch domain.VoiceChannel) []domain.VoiceMember {
	src := t.channels[ch]
	out := make([]domain.VoiceMember, len(src))
	for i, m := range src {
		out[i] = t.backfill(m)
	}
	return out
}

// Channels returns every channel's members.
func (t *Tracker) Channels() map[domain.VoiceChannel][]domain.VoiceMember {
	out := make(map[domain.VoiceChannel][]domain.VoiceMember, len(t.channels))
	for ch := range t.channels {
		out[ch] = t.Members(ch)
	}
	return out
}

// Apply folds a confirmed event into presence state. It reports whether
// membership or mute state changed.
func (t *Tracker) Apply(ev event.Event) bool {
	switch e := ev.(type) {
	case event.RoomSnapshot:
		t.replace(e.Room.VoiceChannels)
		return true
	case event.RoomLeft:
		t.Reset()
		return true
	case event.VoiceMembership:
		return t.applyMembership(e)
	case event.VoiceMuted:
		return t.applyMute(e.UserID, e.Muted)
	case event.VoiceFrame:
		t.play(e.UserID, e.Data)
	}
	return false
}

// Reset drops all presence and stops capture.
func (t *Tracker) Reset() {
	t.channels = emptyChannels()
	t.current, t.pendingJoin = "", ""
	t.muted, t.pendingMute = false, nil
	t.syncCapture()
}

func (t *Tracker) replace(in map[domain.VoiceChannel][]domain.VoiceMember) {
	t.channels = emptyChannels()
	t.current = ""
	seen := make(map[string]struct{})
	for _, ch := range domain.VoiceChannels {
		for _, m := range in[ch] {
			if m.UserID == "" {
				continue
			}
			if _, dup := seen[m.UserID]; dup {
				continue
			}
			seen[m.UserID] = struct{}{}
			t.channels[ch] = append(t.channels[ch], t.backfill(m))
			if m.UserID == t.userID {
				t.current = ch
				t.muted = m.Muted
			}
		}
	}
	if t.pendingJoin == t.current {
		t.pendingJoin = ""
	}
	t.syncCapture()
}

func (t *Tracker) applyMembership(e event.VoiceMembership) bool {
	uid := e.Member.UserID
	if uid == "" {
		return false
	}
	removed := t.removeEverywhere(uid)
	local := uid == t.userID
	if !e.Joined {
		if local {
			t.current = ""
			t.muted, t.pendingMute = false, nil
			t.syncCapture()
		}
		return removed
	}
	if !e.Channel.Valid() {
		t.logger.Warn("voice_unknown_channel", zap.String("channel", string(e.Channel)), zap.String("user_id", uid))
		return removed
	}
	t.channels[e.Channel] = append(t.channels[e.Channel], t.backfill(e.Member))
	if local {
		t.current = e.Channel
		t.muted = e.Member.Muted
		if t.pendingJoin == e.Channel {
			t.pendingJoin = ""
		}
		t.syncCapture()
	}
	return true
}

func (t *Tracker) applyMute(uid string, muted bool) bool {
	changed := false
	for ch, members := range t.channels {
		for i := range members {
			if members[i].UserID == uid {
				members[i].Muted = muted
				changed = true
			}
		}
		t.channels[ch] = members
	}
	if uid == t.userID {
		t.muted = muted
		if t.pendingMute != nil && *t.pendingMute == muted {
			t.pendingMute = nil
		}
		t.updateGate()
	}
	return changed
}

func (t *Tracker) removeEverywhere(uid string) bool {
	removed := false
	for ch, members := range t.channels {
		out := members[:0]
		for _, m := range members {
			if m.UserID == uid {
				removed = true
				continue
			}
			out = append(out, m)
		}
		t.channels[ch] = out
	}
	return removed
}

func (t *Tracker) play(from string, frame []byte) {
	if from == t.userID || t.current == "" {
		return
	}
	for _, m := range t.channels[t.current] {
		if m.UserID == from {
			t.audio.PlayFrame(from, frame)
			return
		}
	}
}

func (t *Tracker) syncCapture() {
	want := t.current != ""
	switch {
	case want && !t.capturing:
		if err := t.audio.StartCapture(t.onFrame); err != nil {
			t.logger.Warn("voice_capture_failed", zap.Error(err))
			break
		}
		t.capturing = true
	case !want && t.capturing:
		t.audio.StopCapture()
		t.capturing = false
	}
	t.updateGate()
}

func (t *Tracker) updateGate() {
	muted := t.muted || (t.pendingMute != nil && *t.pendingMute)
	t.open.Store(t.capturing && !muted)
}

func (t *Tracker) onFrame(frame []byte) {
	if !t.open.Load() || t.sendOut == nil {
		return
	}
	if !HasSound(frame) {
		return
	}
	t.sendOut(frame)
}

func (t *Tracker) member(uid string) (domain.Player, bool) {
	if t.dir == nil || uid == "" {
		return domain.Player{}, false
	}
	return t.dir.Member(uid)
}

func (t *Tracker) backfill(m domain.VoiceMember) domain.VoiceMember {
	if m.Username != "" && m.Avatar != "" {
		return m
	}
	p, ok := t.member(m.UserID)
	if !ok {
		return m
	}
	if m.Username == "" {
		m.Username = p.Username
	}
	if m.Avatar == "" {
		m.Avatar = p.Avatar
	}
	return m
}
