// Package engine runs the room synchronization core on a single goroutine.
// Inbound frames, connection changes, ack results and caller intents are all
// posted to one inbox, so the store, the draft machine and the voice tracker
// are never touched concurrently.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/bus"
	"github.com/park285/roomlink/internal/conn"
	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/draft"
	"github.com/park285/roomlink/internal/event"
	"github.com/park285/roomlink/internal/gateway"
	"github.com/park285/roomlink/internal/msgcat"
	"github.com/park285/roomlink/internal/normalize"
	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/room"
	"github.com/park285/roomlink/internal/session"
	"github.com/park285/roomlink/internal/voice"
)

var ErrClosed = errors.New("engine closed")

// Conn is the connection manager as seen by the engine.
type Conn interface {
	gateway.Conn
	Connect(ctx context.Context, creds session.Credentials) (session.Identity, error)
	Disconnect(ctx context.Context) error
	State() conn.State
	Identity() session.Identity
	OnFrame(cb conn.FrameCallback) int
	RemoveFrameCallback(id int)
	OnStateChange(cb conn.StateCallback) int
	RemoveStateCallback(id int)
}

// Recorder stores finished matches.
type Recorder interface {
	RecordMatch(ctx context.Context, r *domain.Room, startedAt, endedAt time.Time) error
}

type msg interface{ isEngineMsg() }

type frameMsg struct{ f protocol.Frame }

type stateMsg struct{ ev conn.StateEvent }

type snapshotMsg struct {
	seq    uint64
	roomID string
	room   domain.Room
	ts     int64
	err    error
}

type resultMsg struct {
	intent string
	roomID string
	res    gateway.Result
	err    error
}

type callMsg struct {
	fn   func()
	done chan struct{}
}

func (frameMsg) isEngineMsg()    {}
func (stateMsg) isEngineMsg()    {}
func (snapshotMsg) isEngineMsg() {}
func (resultMsg) isEngineMsg()   {}
func (callMsg) isEngineMsg()     {}

type dirty uint8

const (
	dirtyRoom dirty = 1 << iota
	dirtyDraft
	dirtyVoice
	dirtyPending
)

type Engine struct {
	conn   Conn
	gw     *gateway.Gateway
	bus    *bus.Bus
	out    *outbox
	cat    *msgcat.Catalog
	rec    Recorder
	window normalize.Window
	audio  voice.Audio
	logger *zap.Logger
	now    func() time.Time

	inbox   chan msg
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	frameCb int
	stateCb int

	// voice sink state read from the audio goroutine
	voiceRoom atomic.Pointer[string]

	// owned by the loop goroutine
	norm      *normalize.Normalizer
	store     *room.Store
	draft     *draft.Machine
	voice     *voice.Tracker
	target    string
	password  string
	resyncing bool
	resyncSeq uint64
	connected bool
	pending   map[string]int
	startedAt time.Time
	dirty     dirty
}

type Option func(*Engine)

func WithBus(b *bus.Bus) Option { return func(e *Engine) { e.bus = b } }

func WithCatalog(c *msgcat.Catalog) Option { return func(e *Engine) { e.cat = c } }

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.rec = r } }

// WithWindow sets the dedupe window used by the normalizer.
func WithWindow(w normalize.Window) Option { return func(e *Engine) { e.window = w } }

func WithAudio(a voice.Audio) Option { return func(e *Engine) { e.audio = a } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New wires the core components and starts the loop. It stops when parent is
// cancelled or Close is called.
func New(parent context.Context, c Conn, gw *gateway.Gateway, opts ...Option) (*Engine, error) {
	e := &Engine{
		conn:    c,
		gw:      gw,
		audio:   voice.NopAudio{},
		logger:  zap.NewNop(),
		now:     time.Now,
		inbox:   make(chan msg, 256),
		done:    make(chan struct{}),
		pending: make(map[string]int),
	}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = bus.New(e.logger)
	}
	e.out = newOutbox(e.bus)

	userID := c.Identity().UserID
	e.store = room.NewStore(userID, e.logger.Named("room"))
	e.draft = draft.NewMachine(e.logger.Named("draft"))
	e.voice = voice.NewTracker(userID, e.store, voiceCommander{e},
		voice.WithAudio(e.audio),
		voice.WithLogger(e.logger.Named("voice")),
		voice.WithFrameSink(e.sendVoiceFrame))

	router := normalize.NewRouter()
	for _, r := range []struct {
		c event.Concern
		h normalize.Handler
	}{
		{event.ConcernRoom, e.handleRoom},
		{event.ConcernDraft, e.handleDraft},
		{event.ConcernVoice, e.handleVoice},
		{event.ConcernSession, e.handleSession},
	} {
		if err := router.Register(r.c, r.h); err != nil {
			return nil, err
		}
	}
	e.norm = normalize.New(e.window, router, e.logger.Named("normalize"))

	e.ctx, e.cancel = context.WithCancel(parent)
	e.frameCb = c.OnFrame(e.onFrame)
	e.stateCb = c.OnStateChange(e.onState)
	e.connected = c.IsConnected()
	go e.loop()
	return e, nil
}

// Bus is where derived views and notices are published.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Close stops the loop, delivers queued bus messages and detaches from the
// connection.
func (e *Engine) Close() {
	e.conn.RemoveFrameCallback(e.frameCb)
	e.conn.RemoveStateCallback(e.stateCb)
	e.cancel()
	<-e.done
}

// Done is closed once the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) loop() {
	defer close(e.done)
	defer e.out.close()
	for {
		select {
		case <-e.ctx.Done():
			e.voice.Reset()
			return
		case m := <-e.inbox:
			e.handle(m)
			e.flush()
		}
	}
}

func (e *Engine) handle(m msg) {
	switch m := m.(type) {
	case frameMsg:
		e.norm.Process(e.ctx, m.f)
	case stateMsg:
		e.onConnState(m.ev)
	case snapshotMsg:
		e.onSnapshot(m)
	case resultMsg:
		e.onResult(m)
	case callMsg:
		m.fn()
		close(m.done)
	}
}

func (e *Engine) post(m msg) {
	select {
	case e.inbox <- m:
	case <-e.ctx.Done():
	}
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.inbox <- callMsg{fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
}

// onFrame runs on the transport reader. Acks resolve directly in the
// gateway; everything else goes through the inbox in arrival order.
func (e *Engine) onFrame(f protocol.Frame) {
	if e.gw.HandleAck(f) {
		return
	}
	e.post(frameMsg{f: f})
}

func (e *Engine) onState(ev conn.StateEvent) {
	e.gw.OnStateChange(ev)
	e.post(stateMsg{ev: ev})
}

// flush publishes every view touched by the last message.
func (e *Engine) flush() {
	if e.dirty == 0 {
		return
	}
	d := e.dirty
	e.dirty = 0
	// the room copy carries the tracker's channels
	if d&dirtyVoice != 0 && e.store.RoomID() != "" {
		d |= dirtyRoom
	}
	if d&dirtyRoom != 0 {
		e.out.push(bus.RoomChanged{Room: e.roomView()})
	}
	if d&dirtyDraft != 0 {
		e.out.push(bus.DraftChanged{State: e.draft.State()})
	}
	if d&dirtyVoice != 0 {
		id := ""
		if e.voice.Current() != "" {
			id = e.store.RoomID()
		}
		e.voiceRoom.Store(&id)
		e.out.push(bus.VoiceChanged{Channels: e.voice.Channels(), Current: e.voice.Current()})
	}
	if d&dirtyPending != 0 {
		e.out.push(bus.PendingChanged{Intents: e.pendingList()})
	}
}
