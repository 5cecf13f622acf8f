// Package transport is the boundary between the session state machine and a
// concrete chat transport.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Conn after Close or after the link dropped.
var ErrClosed = errors.New("transport: connection closed")

type EventKind int

const (
	EventQR EventKind = iota + 1
	EventConnected
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventConnected:
		return "connected"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	// ReasonLoggedOut means the credentials were revoked; they are useless now.
	ReasonLoggedOut
	ReasonConnectionLost
	ReasonReplaced
	ReasonQRTimeout
)

func (r CloseReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonReplaced:
		return "replaced"
	case ReasonQRTimeout:
		return "qr_timeout"
	default:
		return "unknown"
	}
}

// Event is a connection lifecycle signal.
type Event struct {
	Kind   EventKind
	QR     string      // EventQR
	Reason CloseReason // EventClosed
	Err    error       // EventClosed, optional
}

// EventSink receives lifecycle events for one connection. Implementations
// may call it from any goroutine.
type EventSink func(Event)

// Preview is the link preview attached to an outgoing text.
type Preview struct {
	URL         string
	Title       string
	Description string
	Thumbnail   []byte // JPEG
}

type Message struct {
	Text    string
	Preview *Preview
}

// Conn is one live transport connection.
type Conn interface {
	Send(ctx context.Context, to string, msg Message) error
	// LinkPreview builds a preview natively. (nil, nil) means the transport
	// has nothing to offer and callers may use another source.
	LinkPreview(ctx context.Context, url string) (*Preview, error)
	// Logout revokes the credentials on the server side.
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens connections and manages the stored credentials.
type Dialer interface {
	// Dial starts a connection attempt. Progress (QR, connected, closed) is
	// reported through sink; Dial itself returns once the attempt is under way.
	Dial(ctx context.Context, sink EventSink) (Conn, error)
	HasCredentials(ctx context.Context) (bool, error)
	PurgeCredentials(ctx context.Context) error
}
