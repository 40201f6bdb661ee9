package conn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/park285/roomlink/internal/protocol"
)

var errFakeClosed = errors.New("fake transport closed")

type fakeTransport struct {
	in       chan protocol.Frame
	out      chan protocol.Frame
	closed   chan struct{}
	once     sync.Once
	failPing atomic.Bool
}

func newFakeTransport(ready bool) *fakeTransport {
	t := &fakeTransport{
		in:     make(chan protocol.Frame, 64),
		out:    make(chan protocol.Frame, 64),
		closed: make(chan struct{}),
	}
	if ready {
		t.in <- protocol.Frame{Event: protocol.EventReady}
	}
	return t
}

func (t *fakeTransport) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	select {
	case f := <-t.in:
		return f, nil
	case <-t.closed:
		return protocol.Frame{}, errFakeClosed
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (t *fakeTransport) WriteFrame(ctx context.Context, f protocol.Frame) error {
	select {
	case <-t.closed:
		return errFakeClosed
	default:
	}
	t.out <- f
	return nil
}

func (t *fakeTransport) Ping(ctx context.Context) error {
	if t.failPing.Load() {
		return errors.New("no pong")
	}
	return nil
}

func (t *fakeTransport) Close(string) error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// fakeDialer hands out transports; failures counts down refused dials.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	silent   bool
	dials    int
	headers  []http.Header
	last     *fakeTransport
	dialed   chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, header http.Header) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.headers = append(d.headers, header)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport(!d.silent)
	d.last = t
	d.dialed <- t
	return t, nil
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
