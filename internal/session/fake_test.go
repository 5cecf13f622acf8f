package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GladstoneOG/wabot/internal/transport"
)

type fakeConn struct {
	mu        sync.Mutex
	closed    bool
	loggedOut bool
}

func (c *fakeConn) Send(context.Context, string, transport.Message) error { return nil }

func (c *fakeConn) LinkPreview(context.Context, string) (*transport.Preview, error) { return nil, nil }

func (c *fakeConn) Logout(context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return errors.New("server unreachable")
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer records each dial so tests can push events on its behalf.
type fakeDialer struct {
	mu      sync.Mutex
	sinks   []transport.EventSink
	conns   []*fakeConn
	hasCred bool
	purges  int
	dialErr error
}

func (d *fakeDialer) Dial(_ context.Context, sink transport.EventSink) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		err := d.dialErr
		d.dialErr = nil
		d.sinks = append(d.sinks, nil)
		d.conns = append(d.conns, nil)
		return nil, err
	}
	c := &fakeConn{}
	d.sinks = append(d.sinks, sink)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) HasCredentials(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasCred, nil
}

func (d *fakeDialer) PurgeCredentials(context.Context) error {
	d.mu.Lock()
	d.purges++
	d.hasCred = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sinks)
}

func (d *fakeDialer) purgeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.purges
}

// emit delivers ev through the sink of the i-th dial (0-based).
func (d *fakeDialer) emit(i int, ev transport.Event) {
	d.mu.Lock()
	sink := d.sinks[i]
	d.mu.Unlock()
	sink(ev)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
