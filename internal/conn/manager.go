package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/protocol"
	"github.com/park285/roomlink/internal/session"
)

var errStopped = errors.New("connection manager stopped")

type frameEntry struct {
	id       int
	callback FrameCallback
}

type stateEntry struct {
	id       int
	callback StateCallback
}

// Manager owns the transport lifecycle: authenticate, connect, detect loss,
// reconnect with bounded backoff.
type Manager struct {
	dialer Dialer
	logger *zap.Logger

	maxAttempts      int
	baseDelay        time.Duration
	handshakeTimeout time.Duration
	pingInterval     time.Duration
	writeTimeout     time.Duration
	now              func() time.Time

	stateM   sync.RWMutex
	state    State
	tr       Transport
	gen      uint64
	creds    session.Credentials
	identity session.Identity
	stopCh   chan struct{}

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	writeM sync.Mutex

	cbM      sync.RWMutex
	nextCbID int
	frameCbs []frameEntry
	stateCbs []stateEntry
}

type Option func(*Manager)

// WithRetry sets the retry ceiling and the base of the exponential delay.
func WithRetry(max int, base time.Duration) Option {
	return func(m *Manager) {
		m.maxAttempts = max
		m.baseDelay = base
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

func WithPingInterval(d time.Duration) Option {
	return func(m *Manager) { m.pingInterval = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(d Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:           d,
		logger:           zap.NewNop(),
		maxAttempts:      3,
		baseDelay:        2 * time.Second,
		handshakeTimeout: 10 * time.Second,
		pingInterval:     30 * time.Second,
		writeTimeout:     5 * time.Second,
		now:              time.Now,
		state:            StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect verifies creds locally, opens the transport and waits for the
// server's ready frame. Failed attempts are retried up to the ceiling.
func (m *Manager) Connect(ctx context.Context, creds session.Credentials) (session.Identity, error) {
	id, err := session.Verify(creds, m.now())
	if err != nil {
		return session.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	m.stateM.Lock()
	switch m.state {
	case StateConnected:
		cur := m.identity
		m.stateM.Unlock()
		return cur, nil
	case StateConnecting, StateReconnecting:
		m.stateM.Unlock()
		return session.Identity{}, errors.New("connect already in progress")
	}
	m.creds, m.identity = creds, id
	if m.rootCancel != nil {
		m.rootCancel()
	}
	m.stopCh = make(chan struct{})
	m.rootCtx, m.rootCancel = context.WithCancel(context.Background())
	stopCh := m.stopCh
	m.stateM.Unlock()

	m.setState(StateConnecting, 1, nil)
	tr, attempt, err := m.dialWithRetry(ctx, stopCh, false)
	if err != nil {
		if !errors.Is(err, errStopped) {
			m.setState(StateFailed, attempt, err)
		}
		return session.Identity{}, err
	}
	if !m.attach(tr, attempt) {
		return session.Identity{}, errStopped
	}
	return id, nil
}

// Disconnect stops reconnecting and closes the live transport.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.stateM.Lock()
	if m.stopCh != nil && !m.stoppedLocked() {
		close(m.stopCh)
	}
	tr := m.tr
	m.tr = nil
	m.gen++
	cancel := m.rootCancel
	m.stateM.Unlock()

	if tr != nil {
		_ = tr.Close("client disconnect")
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-done:
	}
	m.setState(StateDisconnected, 0, nil)
	return err
}

func (m *Manager) IsConnected() bool {
	m.stateM.RLock()
	defer m.stateM.RUnlock()
	return m.state == StateConnected && m.tr != nil
}

func (m *Manager) State() State {
	m.stateM.RLock()
	defer m.stateM.RUnlock()
	return m.state
}

// Identity is the identity verified by the last Connect.
func (m *Manager) Identity() session.Identity {
	m.stateM.RLock()
	defer m.stateM.RUnlock()
	return m.identity
}

// Send writes one frame. It fails with ErrNotConnected without touching the
// transport while no connection is live.
func (m *Manager) Send(ctx context.Context, f protocol.Frame) error {
	m.stateM.RLock()
	tr, st := m.tr, m.state
	m.stateM.RUnlock()
	if st != StateConnected || tr == nil {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.writeTimeout)
		defer cancel()
	}
	m.writeM.Lock()
	defer m.writeM.Unlock()
	return tr.WriteFrame(ctx, f)
}

func (m *Manager) dialWithRetry(ctx context.Context, stopCh <-chan struct{}, delayFirst bool) (Transport, int, error) {
	attempts := m.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 || delayFirst {
			n := attempt
			if !delayFirst {
				n = attempt - 1
			}
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-stopCh:
				return nil, attempt, errStopped
			case <-time.After(backoffDuration(m.baseDelay, n)):
			}
		}
		m.logger.Debug("conn_attempt", zap.Int("attempt", attempt), zap.Int("max", attempts))
		tr, err := m.handshake(ctx)
		if err == nil {
			return tr, attempt, nil
		}
		last = err
		m.logger.Warn("conn_attempt_failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
	}
	return nil, attempts, fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, attempts, last)
}

func (m *Manager) handshake(ctx context.Context) (Transport, error) {
	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	tr, err := m.dialer.Dial(hctx, m.buildHeaders())
	if err != nil {
		return nil, classify(ctx, hctx, err)
	}
	if err := awaitReady(hctx, tr); err != nil {
		_ = tr.Close("handshake failed")
		return nil, classify(ctx, hctx, err)
	}
	return tr, nil
}

func classify(parent, hctx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
	}
	return err
}

// awaitReady blocks until the server signals readiness. Frames before it are dropped.
func awaitReady(ctx context.Context, tr Transport) error {
	for {
		f, err := tr.ReadFrame(ctx)
		if err != nil {
			return err
		}
		switch f.Event {
		case protocol.EventReady:
			return nil
		case protocol.EventError:
			var p protocol.ErrorPayload
			_ = f.Decode(&p)
			return fmt.Errorf("handshake rejected: code=%d %s", p.Code, p.Message)
		}
	}
}

// attach installs tr as the live transport. It returns false when a
// Disconnect raced the dial.
func (m *Manager) attach(tr Transport, attempt int) bool {
	m.stateM.Lock()
	if m.stoppedLocked() {
		m.stateM.Unlock()
		_ = tr.Close("stopped")
		return false
	}
	m.gen++
	gen := m.gen
	m.tr = tr
	ctx := m.rootCtx
	m.stateM.Unlock()

	m.setState(StateConnected, attempt, nil)

	m.wg.Add(2)
	go m.listen(ctx, tr, gen)
	go m.pingLoop(ctx, tr, gen)
	return true
}

func (m *Manager) listen(ctx context.Context, tr Transport, gen uint64) {
	defer m.wg.Done()
	for {
		f, err := tr.ReadFrame(ctx)
		if err != nil {
			m.lost(gen, err)
			return
		}
		m.dispatch(f)
	}
}

func (m *Manager) pingLoop(ctx context.Context, tr Transport, gen uint64) {
	defer m.wg.Done()
	if m.pingInterval <= 0 {
		return
	}
	t := time.NewTicker(m.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !m.current(gen) {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := tr.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				m.lost(gen, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (m *Manager) current(gen uint64) bool {
	m.stateM.RLock()
	defer m.stateM.RUnlock()
	return m.gen == gen
}

// lost handles an unexpected drop of the transport of generation gen.
func (m *Manager) lost(gen uint64, cause error) {
	m.stateM.Lock()
	if gen != m.gen || m.stoppedLocked() || m.state != StateConnected {
		m.stateM.Unlock()
		return
	}
	m.gen++
	tr := m.tr
	m.tr = nil
	ctx, stopCh := m.rootCtx, m.stopCh
	m.stateM.Unlock()

	if tr != nil {
		_ = tr.Close("reconnect")
	}
	m.logger.Warn("conn_lost", zap.Error(cause))
	m.setState(StateDisconnected, 0, cause)

	if m.maxAttempts <= 0 {
		m.setState(StateFailed, 0, fmt.Errorf("%w: %w", ErrConnectionFailed, cause))
		return
	}
	m.setState(StateReconnecting, 0, nil)
	m.wg.Add(1)
	go m.reconnect(ctx, stopCh)
}

func (m *Manager) reconnect(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()
	tr, attempt, err := m.dialWithRetry(ctx, stopCh, true)
	if err != nil {
		if errors.Is(err, errStopped) || ctx.Err() != nil {
			return
		}
		m.setState(StateFailed, attempt, err)
		return
	}
	m.attach(tr, attempt)
}

func (m *Manager) stoppedLocked() bool {
	if m.stopCh == nil {
		return false
	}
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Manager) dispatch(f protocol.Frame) {
	m.cbM.RLock()
	callbacks := make([]frameEntry, len(m.frameCbs))
	copy(callbacks, m.frameCbs)
	m.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.callback(f)
	}
}

func (m *Manager) setState(s State, attempt int, err error) {
	m.stateM.Lock()
	prev := m.state
	m.state = s
	m.stateM.Unlock()
	if prev == s && err == nil {
		return
	}

	m.logger.Info("conn_state", zap.String("state", string(s)), zap.String("prev", string(prev)), zap.Int("attempt", attempt), zap.Error(err))
	ev := StateEvent{State: s, Prev: prev, Attempt: attempt, Err: err}

	m.cbM.RLock()
	callbacks := make([]stateEntry, len(m.stateCbs))
	copy(callbacks, m.stateCbs)
	m.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.callback(ev)
	}
}

func (m *Manager) OnFrame(cb FrameCallback) int {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	m.nextCbID++
	m.frameCbs = append(m.frameCbs, frameEntry{id: m.nextCbID, callback: cb})
	return m.nextCbID
}

func (m *Manager) RemoveFrameCallback(id int) {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	for i, cb := range m.frameCbs {
		if cb.id == id {
			m.frameCbs = append(m.frameCbs[:i], m.frameCbs[i+1:]...)
			break
		}
	}
}

func (m *Manager) OnStateChange(cb StateCallback) int {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	m.nextCbID++
	m.stateCbs = append(m.stateCbs, stateEntry{id: m.nextCbID, callback: cb})
	return m.nextCbID
}

func (m *Manager) RemoveStateCallback(id int) {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	for i, cb := range m.stateCbs {
		if cb.id == id {
			m.stateCbs = append(m.stateCbs[:i], m.stateCbs[i+1:]...)
			break
		}
	}
}

func (m *Manager) buildHeaders() http.Header {
	m.stateM.RLock()
	creds := m.creds
	m.stateM.RUnlock()
	hdr := http.Header{}
	for k, v := range session.Headers(creds) {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

func backoffDuration(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * base
}
