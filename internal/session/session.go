// Package session owns the single transport connection and its lifecycle:
// pairing through QR codes, reconnects, and forced logouts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/GladstoneOG/wabot/internal/eventbus"
	"github.com/GladstoneOG/wabot/internal/transport"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

const (
	DefaultLoginTimeout   = 20 * time.Second
	DefaultReconnectDelay = time.Second

	eventBuffer = 64
	dialTimeout = 30 * time.Second
)

// ErrLoginTimeout is returned by RequestLogin when nothing happened within
// the login timeout and no QR code is cached.
var ErrLoginTimeout = errors.New("session: timed out waiting for login")

type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingQR
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingQR:
		return "awaiting_qr"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is the externally visible connection summary.
type Status struct {
	Connected      bool `json:"connected"`
	HasCredentials bool `json:"hasAuth"`
}

type LoginStatus int

const (
	LoginQR LoginStatus = iota + 1
	LoginConnected
	LoginLoggedOut
)

func (s LoginStatus) String() string {
	switch s {
	case LoginQR:
		return "qr"
	case LoginConnected:
		return "connected"
	case LoginLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

type LoginResult struct {
	Status LoginStatus
	QR     string // set for LoginQR
}

type Options struct {
	LoginTimeout   time.Duration
	ReconnectDelay time.Duration
	// ResumeOnStart connects at Run when stored credentials exist.
	ResumeOnStart bool
	Bus           eventbus.Bus
	Log           logx.Logger
}

// taggedEvent carries the generation of the connection that produced it.
type taggedEvent struct {
	gen uint64
	ev  transport.Event
}

type Session struct {
	dialer         transport.Dialer
	loginTimeout   time.Duration
	reconnectDelay time.Duration
	resume         bool
	bus            eventbus.Bus
	log            logx.Logger

	events   chan taggedEvent
	done     chan struct{}
	doneOnce sync.Once
	connects singleflight.Group
	// credMu keeps dialing and credential purges from interleaving.
	credMu sync.Mutex

	mu     sync.Mutex
	runCtx context.Context
	state  State
	status Status
	conn   transport.Conn
	gen    uint64
	// epoch advances on logout and shutdown; pending reconnects from an
	// older epoch give up.
	epoch     uint64
	qr        string
	waiters   []chan LoginResult
	reconnect *time.Timer
}

func New(dialer transport.Dialer, opts Options) *Session {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	return &Session{
		dialer:         dialer,
		loginTimeout:   opts.LoginTimeout,
		reconnectDelay: opts.ReconnectDelay,
		resume:         opts.ResumeOnStart,
		bus:            opts.Bus,
		log:            opts.Log.With(logx.String("comp", "session")),
		events:         make(chan taggedEvent, eventBuffer),
		done:           make(chan struct{}),
		runCtx:         context.Background(),
	}
}

// Run consumes transport events until ctx is done. It is the only place
// transport events change session state. Run must be called once.
func (s *Session) Run(ctx context.Context) error {
	defer s.doneOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	has, err := s.dialer.HasCredentials(ctx)
	if err != nil {
		s.log.Warn("credential check failed", logx.Err(err))
	}
	s.mu.Lock()
	s.status.HasCredentials = has
	s.mu.Unlock()
	if has && s.resume {
		go func() {
			if err := s.connect(ctx); err != nil {
				s.log.Warn("resume connect failed", logx.Err(err))
				s.mu.Lock()
				s.scheduleReconnectLocked()
				s.mu.Unlock()
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case te := <-s.events:
			s.handle(ctx, te)
		}
	}
}

func (s *Session) shutdown() {
	s.mu.Lock()
	s.stopReconnectLocked()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.epoch++
	s.state = Disconnected
	s.status.Connected = false
	s.mu.Unlock()
	closeQuietly(conn)
}

func (s *Session) sinkFor(gen uint64) transport.EventSink {
	return func(ev transport.Event) {
		select {
		case s.events <- taggedEvent{gen: gen, ev: ev}:
		case <-s.done:
		}
	}
}

func (s *Session) handle(ctx context.Context, te taggedEvent) {
	s.mu.Lock()
	if te.gen != s.gen {
		s.mu.Unlock()
		s.log.Debug("stale transport event ignored",
			logx.String("kind", te.ev.Kind.String()),
			logx.Uint64("gen", te.gen),
		)
		return
	}

	switch te.ev.Kind {
	case transport.EventQR:
		s.qr = te.ev.QR
		s.state = AwaitingQR
		waiters := s.takeWaitersLocked()
		s.mu.Unlock()
		wake(waiters, LoginResult{Status: LoginQR, QR: te.ev.QR})
		s.bus.Publish(eventbus.Event{Type: eventbus.SessionQR})
		s.log.Info("qr code received")

	case transport.EventConnected:
		s.state = Connected
		s.status = Status{Connected: true, HasCredentials: true}
		s.qr = ""
		waiters := s.takeWaitersLocked()
		s.mu.Unlock()
		wake(waiters, LoginResult{Status: LoginConnected})
		s.bus.Publish(eventbus.Event{Type: eventbus.SessionConnected})
		s.log.Info("connected")

	case transport.EventClosed:
		conn := s.conn
		s.conn = nil
		s.gen++ // anything the old connection still emits is stale
		s.status.Connected = false
		s.state = Disconnected

		if te.ev.Reason != transport.ReasonLoggedOut {
			s.scheduleReconnectLocked()
			s.mu.Unlock()
			closeQuietly(conn)
			s.bus.Publish(eventbus.Event{Type: eventbus.SessionClosed, Data: te.ev.Reason.String()})
			s.log.Warn("connection closed; reconnecting",
				logx.String("reason", te.ev.Reason.String()),
				logx.Duration("delay", s.reconnectDelay),
				logx.Err(te.ev.Err),
			)
			return
		}

		s.qr = ""
		s.status.HasCredentials = false
		s.epoch++
		waiters := s.takeWaitersLocked()
		s.mu.Unlock()

		closeQuietly(conn)
		if err := s.purge(ctx); err != nil {
			s.log.Error("credential purge failed", logx.Err(err))
		}
		wake(waiters, LoginResult{Status: LoginLoggedOut})
		s.bus.Publish(eventbus.Event{Type: eventbus.SessionLoggedOut})
		s.log.Warn("logged out by transport; credentials purged", logx.Err(te.ev.Err))

	default:
		s.mu.Unlock()
	}
}

func closeQuietly(c transport.Conn) {
	if c != nil {
		_ = c.Close()
	}
}

func (s *Session) purge(ctx context.Context) error {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	return s.dialer.PurgeCredentials(ctx)
}

func (s *Session) takeWaitersLocked() []chan LoginResult {
	w := s.waiters
	s.waiters = nil
	return w
}

// wake delivers r to every waiter, in registration order. Each channel has
// room for exactly one result.
func wake(waiters []chan LoginResult, r LoginResult) {
	for _, ch := range waiters {
		ch <- r
	}
}

func (s *Session) removeWaiter(ch chan LoginResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Session) scheduleReconnectLocked() {
	s.stopReconnectLocked()
	epoch := s.epoch
	ctx := s.runCtx
	s.reconnect = time.AfterFunc(s.reconnectDelay, func() {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		stale := s.epoch != epoch || s.conn != nil
		s.mu.Unlock()
		if stale {
			return
		}
		if err := s.connect(ctx); err != nil {
			s.log.Warn("reconnect failed; retrying", logx.Err(err), logx.Duration("delay", s.reconnectDelay))
			s.mu.Lock()
			if s.epoch == epoch && s.conn == nil {
				s.scheduleReconnectLocked()
			}
			s.mu.Unlock()
		}
	})
}

func (s *Session) stopReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// connect makes sure one connection attempt exists. Concurrent callers share
// a single dial.
func (s *Session) connect(ctx context.Context) error {
	_, err, _ := s.connects.Do("connect", func() (any, error) {
		s.mu.Lock()
		if s.conn != nil {
			s.mu.Unlock()
			return nil, nil
		}
		s.stopReconnectLocked()
		s.gen++
		gen := s.gen
		s.state = Connecting
		s.mu.Unlock()

		// The dial is shared, so one caller's cancellation must not fail the rest.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
		defer cancel()
		s.credMu.Lock()
		conn, err := s.dialer.Dial(dctx, s.sinkFor(gen))
		s.credMu.Unlock()

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			if s.gen == gen {
				s.state = Disconnected
			}
			return nil, fmt.Errorf("dial: %w", err)
		}
		if s.gen != gen {
			// logged out or closed while dialing
			closeQuietly(conn)
			return nil, nil
		}
		s.conn = conn
		return nil, nil
	})
	return err
}

// RequestLogin connects if needed and reports how to proceed: a QR code to
// scan, an established connection, or a logout by the transport.
func (s *Session) RequestLogin(ctx context.Context) (LoginResult, error) {
	s.mu.Lock()
	connected := s.state == Connected
	s.mu.Unlock()
	if connected {
		return LoginResult{Status: LoginConnected}, nil
	}

	if err := s.connect(ctx); err != nil {
		return LoginResult{}, err
	}

	s.mu.Lock()
	switch {
	case s.state == Connected:
		s.mu.Unlock()
		return LoginResult{Status: LoginConnected}, nil
	case s.qr != "":
		qr := s.qr
		s.mu.Unlock()
		return LoginResult{Status: LoginQR, QR: qr}, nil
	}
	ch := make(chan LoginResult, 1)
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	timer := time.NewTimer(s.loginTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
	case <-ctx.Done():
		s.removeWaiter(ch)
		return LoginResult{}, ctx.Err()
	}

	s.removeWaiter(ch)
	select {
	case r := <-ch:
		// woken while timing out
		return r, nil
	default:
	}
	s.mu.Lock()
	qr := s.qr
	s.mu.Unlock()
	if qr != "" {
		return LoginResult{Status: LoginQR, QR: qr}, nil
	}
	return LoginResult{}, ErrLoginTimeout
}

// Logout drops the connection, asks the transport to revoke the credentials
// (best effort) and purges them locally.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.stopReconnectLocked()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.epoch++
	s.state = Disconnected
	s.status = Status{}
	s.qr = ""
	waiters := s.takeWaitersLocked()
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Logout(ctx); err != nil {
			s.log.Warn("transport logout failed", logx.Err(err))
		}
		closeQuietly(conn)
	}
	err := s.purge(ctx)
	wake(waiters, LoginResult{Status: LoginLoggedOut})
	s.bus.Publish(eventbus.Event{Type: eventbus.SessionLoggedOut})
	if err != nil {
		return fmt.Errorf("purge credentials: %w", err)
	}
	s.log.Info("logged out")
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conn returns the live connection when the session is connected. Callers
// borrow it for one operation and must not keep it.
func (s *Session) Conn() (transport.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.conn == nil {
		return nil, false
	}
	return s.conn, true
}
