package conn

import (
	"context"
	"errors"
	"net/http"

	"github.com/park285/roomlink/internal/protocol"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// StateEvent describes one transition. Err is set on terminal failure.
type StateEvent struct {
	State   State
	Prev    State
	Attempt int
	Err     error
}

// Reconnected reports a return to connected after an unexpected loss.
func (e StateEvent) Reconnected() bool {
	return e.State == StateConnected && e.Prev == StateReconnecting
}

type FrameCallback func(f protocol.Frame)

type StateCallback func(e StateEvent)

// Transport is one live connection.
type Transport interface {
	ReadFrame(ctx context.Context) (protocol.Frame, error)
	WriteFrame(ctx context.Context, f protocol.Frame) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, header http.Header) (Transport, error)
}

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
)
