// Package whatsapp implements the transport on top of whatsmeow, with the
// device credentials kept in a SQLite store.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/GladstoneOG/wabot/internal/transport"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

type Config struct {
	// StorePath is the SQLite file holding device keys and sessions.
	StorePath string
	// OSName is shown in the phone's linked devices list.
	OSName string
}

type Dialer struct {
	container *sqlstore.Container
	log       logx.Logger
	waLog     waLog.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer(ctx context.Context, cfg Config, log logx.Logger) (*Dialer, error) {
	path := strings.TrimSpace(cfg.StorePath)
	if path == "" {
		return nil, errors.New("whatsapp store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create whatsapp store dir: %w", err)
	}
	if name := strings.TrimSpace(cfg.OSName); name != "" {
		store.DeviceProps.Os = proto.String(name)
	}

	log = log.With(logx.String("comp", "whatsapp"))
	wl := newWALogger(log, "whatsmeow")
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, wl.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store: %w", err)
	}
	return &Dialer{container: container, log: log, waLog: wl}, nil
}

func (d *Dialer) HasCredentials(ctx context.Context) (bool, error) {
	device, err := d.container.GetFirstDevice(ctx)
	if err != nil {
		return false, err
	}
	return device.ID != nil, nil
}

func (d *Dialer) PurgeCredentials(ctx context.Context) error {
	devices, err := d.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	var errs []error
	for _, dev := range devices {
		if dev.ID == nil {
			continue
		}
		if err := dev.Delete(ctx); err != nil {
			errs = append(errs, fmt.Errorf("delete device %s: %w", dev.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Dial connects with the first stored device, or a fresh one that must be
// paired through QR codes. whatsmeow's auto reconnect is disabled: the
// session decides when to reconnect.
func (d *Dialer) Dial(ctx context.Context, sink transport.EventSink) (transport.Conn, error) {
	device, err := d.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	client := whatsmeow.NewClient(device, d.waLog.Sub("Client"))
	client.EnableAutoReconnect = false

	// The QR channel outlives the request that dialed.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{client: client, sink: sink, cancel: cancel, log: d.log}
	c.handlerID = client.AddEventHandler(c.handleEvent)

	if client.Store.ID == nil {
		qrs, err := client.GetQRChannel(connCtx)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		go c.forwardQR(qrs)
	}
	if err := client.Connect(); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

type conn struct {
	client    *whatsmeow.Client
	sink      transport.EventSink
	cancel    context.CancelFunc
	handlerID uint32
	log       logx.Logger

	closeOnce sync.Once
}

func (c *conn) forwardQR(qrs <-chan whatsmeow.QRChannelItem) {
	for item := range qrs {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.sink(transport.Event{Kind: transport.EventQR, QR: item.Code})
		case "timeout":
			c.sink(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonQRTimeout})
		case "success":
			// events.Connected follows once the post-pairing reconnect is done
		default:
			c.sink(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonUnknown, Err: item.Error})
		}
	}
}

func (c *conn) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		c.sink(transport.Event{Kind: transport.EventConnected})
	case *events.LoggedOut:
		c.sink(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonLoggedOut, Err: fmt.Errorf("logged out: %s", e.Reason)})
	case *events.Disconnected:
		c.sink(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonConnectionLost})
	case *events.StreamReplaced:
		c.sink(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonReplaced})
	case *events.ConnectFailure:
		reason := transport.ReasonConnectionLost
		if e.Reason.IsLoggedOut() {
			reason = transport.ReasonLoggedOut
		}
		c.sink(transport.Event{Kind: transport.EventClosed, Reason: reason, Err: fmt.Errorf("connect failure: %s", e.Reason)})
	case *events.TemporaryBan:
		c.log.Warn("account temporarily banned", logx.String("ban", e.String()))
		c.sink(transport.Event{Kind: transport.EventClosed, Reason: transport.ReasonUnknown})
	}
}

func (c *conn) Send(ctx context.Context, to string, msg transport.Message) error {
	if !c.client.IsConnected() {
		return transport.ErrClosed
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse jid %q: %w", to, err)
	}
	_, err = c.client.SendMessage(ctx, jid, buildMessage(msg))
	return err
}

func buildMessage(msg transport.Message) *waE2E.Message {
	if msg.Preview == nil {
		return &waE2E.Message{Conversation: proto.String(msg.Text)}
	}
	p := msg.Preview
	ext := &waE2E.ExtendedTextMessage{
		Text:        proto.String(msg.Text),
		MatchedText: proto.String(p.URL),
		Title:       proto.String(p.Title),
		Description: proto.String(p.Description),
	}
	if len(p.Thumbnail) > 0 {
		ext.JPEGThumbnail = p.Thumbnail
	}
	return &waE2E.Message{ExtendedTextMessage: ext}
}

// LinkPreview returns nothing: whatsmeow does not fetch link metadata.
func (c *conn) LinkPreview(context.Context, string) (*transport.Preview, error) {
	return nil, nil
}

func (c *conn) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.client.RemoveEventHandler(c.handlerID)
		c.cancel()
		c.client.Disconnect()
	})
	return nil
}
