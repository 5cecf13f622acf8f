// Package dryrun is a transport that connects instantly and only logs what
// it would send. It lets the whole service run without a paired phone.
package dryrun

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/GladstoneOG/wabot/internal/transport"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

// Sent is one recorded delivery.
type Sent struct {
	To      string
	Message transport.Message
}

type Dialer struct {
	log logx.Logger
	// FailTo makes Send fail for recipients containing any of these substrings.
	FailTo []string

	mu      sync.Mutex
	paired  bool
	sent    []Sent
	current *conn
}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer(log logx.Logger) *Dialer {
	return &Dialer{log: log.With(logx.String("comp", "dryrun"))}
}

func (d *Dialer) Dial(_ context.Context, sink transport.EventSink) (transport.Conn, error) {
	c := &conn{d: d, sink: sink}
	d.mu.Lock()
	d.paired = true
	d.current = c
	d.mu.Unlock()
	go sink(transport.Event{Kind: transport.EventConnected})
	d.log.Info("dry-run connection opened")
	return c, nil
}

func (d *Dialer) HasCredentials(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paired, nil
}

func (d *Dialer) PurgeCredentials(context.Context) error {
	d.mu.Lock()
	d.paired = false
	d.mu.Unlock()
	return nil
}

// Drop simulates the link going away with the given reason.
func (d *Dialer) Drop(reason transport.CloseReason) {
	d.mu.Lock()
	c := d.current
	d.mu.Unlock()
	if c != nil && !c.closed.Load() {
		c.sink(transport.Event{Kind: transport.EventClosed, Reason: reason})
	}
}

// Sent returns a copy of everything sent so far.
func (d *Dialer) Sent() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sent, len(d.sent))
	copy(out, d.sent)
	return out
}

type conn struct {
	d      *Dialer
	sink   transport.EventSink
	closed atomic.Bool
}

type sendError struct{ to string }

func (e sendError) Error() string { return "dryrun: refusing to send to " + e.to }

func (c *conn) Send(_ context.Context, to string, msg transport.Message) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	for _, f := range c.d.FailTo {
		if f != "" && strings.Contains(to, f) {
			return sendError{to: to}
		}
	}
	c.d.mu.Lock()
	c.d.sent = append(c.d.sent, Sent{To: to, Message: msg})
	c.d.mu.Unlock()
	c.d.log.Info("dry-run send",
		logx.String("to", to),
		logx.Int("text_len", len(msg.Text)),
		logx.Bool("preview", msg.Preview != nil),
	)
	return nil
}

func (c *conn) LinkPreview(context.Context, string) (*transport.Preview, error) { return nil, nil }

func (c *conn) Logout(context.Context) error { return nil }

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}
