// Package gateway sends intents to the room server and routes their acks
// back to the caller. It never touches room state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/conn"
	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/protocol"
)

var (
	ErrNotConnected = conn.ErrNotConnected
	// ErrRequestAborted fails requests still waiting for an ack when the
	// connection drops.
	ErrRequestAborted = errors.New("request aborted: connection lost")
	ErrRequestTimeout = errors.New("request timed out")
)

// RejectedError is an error ack from the server.
type RejectedError struct {
	Intent  string
	Code    domain.ErrorCode
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s rejected (%d): %s", e.Intent, e.Code, e.Message)
	}
	return fmt.Sprintf("%s rejected: %s", e.Intent, e.Message)
}

// Conn is the part of the connection manager the gateway writes through.
type Conn interface {
	IsConnected() bool
	Send(ctx context.Context, f protocol.Frame) error
}

// Result is delivered once per intent sent with a callback.
type Result struct {
	Intent string
	Ack    protocol.AckResult
	TS     int64 // server time of the ack frame
	Err    error
}

type Callback func(Result)

type pending struct {
	intent string
	cb     Callback
	timer  *time.Timer
}

type Gateway struct {
	conn    Conn
	logger  *zap.Logger
	timeout time.Duration
	settle  time.Duration
	dryrun  bool
	newID   func() string

	mu      sync.Mutex
	pending map[string]*pending
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithRequestTimeout bounds how long an ack is awaited. Zero disables it.
func WithRequestTimeout(d time.Duration) Option { return func(g *Gateway) { g.timeout = d } }

// WithSettleDelay sets the pause after join, leave and role-change intents.
func WithSettleDelay(d time.Duration) Option { return func(g *Gateway) { g.settle = d } }

// WithDryRun logs intents and acks them locally without writing.
func WithDryRun(v bool) Option { return func(g *Gateway) { g.dryrun = v } }

func WithIDGenerator(fn func() string) Option { return func(g *Gateway) { g.newID = fn } }

func New(c Conn, opts ...Option) *Gateway {
	g := &Gateway{
		conn:    c,
		logger:  zap.NewNop(),
		timeout: 10 * time.Second,
		settle:  500 * time.Millisecond,
		newID:   uuid.NewString,
		pending: make(map[string]*pending),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Send writes intent for roomID. When cb is non-nil the frame carries an ack
// id and cb receives exactly one Result. Errors returned from Send mean the
// intent was never written and cb will not be called.
func (g *Gateway) Send(ctx context.Context, intent, roomID string, payload any, cb Callback) error {
	if !g.dryrun && !g.conn.IsConnected() {
		return ErrNotConnected
	}
	f, err := protocol.NewFrame(intent, roomID, payload)
	if err != nil {
		return err
	}
	if g.dryrun {
		g.logger.Info("gateway_dryrun", zap.String("intent", intent), zap.String("room_id", roomID))
		if cb != nil {
			go cb(Result{Intent: intent, Ack: protocol.AckResult{Status: protocol.StatusSuccess}})
		}
		return nil
	}
	if cb != nil {
		f.Ack = g.newID()
		g.track(f.Ack, intent, cb)
	}
	if err := g.conn.Send(ctx, f); err != nil {
		if f.Ack != "" {
			g.take(f.Ack)
		}
		g.logger.Warn("gateway_send_failed", zap.String("intent", intent), zap.Error(err))
		return err
	}
	g.logger.Debug("gateway_sent", zap.String("intent", intent), zap.String("room_id", roomID), zap.String("ack", f.Ack))
	return nil
}

// Request sends intent and blocks for its ack. Join, leave and role-change
// intents additionally wait out the settle delay after a success.
func (g *Gateway) Request(ctx context.Context, intent, roomID string, payload any) (Result, error) {
	done := make(chan Result, 1)
	if err := g.Send(ctx, intent, roomID, payload, func(r Result) { done <- r }); err != nil {
		return Result{Intent: intent, Err: err}, err
	}
	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		return Result{Intent: intent, Err: ctx.Err()}, ctx.Err()
	}
	if res.Err != nil {
		return res, res.Err
	}
	if Settles(intent) {
		if err := g.Settle(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Settle waits for the settle delay or ctx.
func (g *Gateway) Settle(ctx context.Context) error {
	if g.settle <= 0 {
		return nil
	}
	t := time.NewTimer(g.settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settles reports whether intent changes membership or role.
func Settles(intent string) bool {
	switch intent {
	case protocol.IntentJoinRoom, protocol.IntentLeaveRoom,
		protocol.IntentJoinAsPlayer, protocol.IntentJoinAsSpectator:
		return true
	}
	return false
}

// FetchRoom asks for a fresh snapshot of roomID. The returned timestamp is
// the server time of the reply, zero when the server did not stamp it.
func (g *Gateway) FetchRoom(ctx context.Context, roomID string) (domain.Room, int64, error) {
	res, err := g.Request(ctx, protocol.IntentGetRoomDetail, roomID, protocol.RoomRequest{RoomID: roomID})
	if err != nil {
		return domain.Room{}, 0, err
	}
	var p protocol.RoomPayload
	if err := (protocol.Frame{Event: protocol.IntentGetRoomDetail, Data: res.Ack.Data}).Decode(&p); err != nil {
		return domain.Room{}, 0, err
	}
	if p.Room.ID == "" {
		return domain.Room{}, 0, fmt.Errorf("room detail for %s: empty room", roomID)
	}
	return p.Room, res.TS, nil
}

// HandleAck resolves the request f acknowledges. It reports false for frames
// that are not acks.
func (g *Gateway) HandleAck(f protocol.Frame) bool {
	if f.Event != protocol.EventAck {
		return false
	}
	p := g.take(f.Ack)
	if p == nil {
		g.logger.Debug("gateway_ack_unmatched", zap.String("ack", f.Ack))
		return true
	}
	var ack protocol.AckResult
	if err := f.Decode(&ack); err != nil {
		p.cb(Result{Intent: p.intent, TS: f.TS, Err: err})
		return true
	}
	res := Result{Intent: p.intent, Ack: ack, TS: f.TS}
	if !ack.OK() {
		res.Err = &RejectedError{Intent: p.intent, Code: domain.ErrorCode(ack.Code), Message: ack.Message}
	}
	p.cb(res)
	return true
}

// FailAll resolves every outstanding request with err.
func (g *Gateway) FailAll(err error) int {
	g.mu.Lock()
	all := g.pending
	g.pending = make(map[string]*pending)
	g.mu.Unlock()
	for _, p := range all {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.cb(Result{Intent: p.intent, Err: err})
	}
	if len(all) > 0 {
		g.logger.Info("gateway_requests_failed", zap.Int("count", len(all)), zap.Error(err))
	}
	return len(all)
}

// Outstanding counts requests waiting for an ack.
func (g *Gateway) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// OnStateChange fails outstanding requests when the connection leaves the
// connected state. Register it with conn.Manager.OnStateChange.
func (g *Gateway) OnStateChange(ev conn.StateEvent) {
	if ev.Prev == conn.StateConnected && ev.State != conn.StateConnected {
		g.FailAll(ErrRequestAborted)
	}
}

func (g *Gateway) track(id, intent string, cb Callback) {
	p := &pending{intent: intent, cb: cb}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[id] = p
	if g.timeout > 0 {
		p.timer = time.AfterFunc(g.timeout, func() {
			if q := g.take(id); q != nil {
				q.cb(Result{Intent: intent, Err: ErrRequestTimeout})
			}
		})
	}
}

func (g *Gateway) take(id string) *pending {
	g.mu.Lock()
	p, ok := g.pending[id]
	delete(g.pending, id)
	var timer *time.Timer
	if ok {
		timer = p.timer
	}
	g.mu.Unlock()
	if !ok {
		return nil
	}
	if timer != nil {
		timer.Stop()
	}
	return p
}
