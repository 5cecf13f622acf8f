package broadcast

type Kind int

const (
	KindAlreadyInProgress Kind = iota + 1
	KindNotConnected
	KindNoRecipients
	KindEmptyMessage
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyInProgress:
		return "already_in_progress"
	case KindNotConnected:
		return "not_connected"
	case KindNoRecipients:
		return "no_recipients"
	case KindEmptyMessage:
		return "empty_message"
	default:
		return "unknown"
	}
}

// Error is a broadcast rejected before anything was sent.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is matches any *Error of the same Kind, so callers can use the sentinels
// below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrAlreadyInProgress = &Error{Kind: KindAlreadyInProgress, Msg: "a broadcast is already in progress"}
	ErrNotConnected      = &Error{Kind: KindNotConnected, Msg: "whatsapp is not connected"}
	ErrNoRecipients      = &Error{Kind: KindNoRecipients, Msg: "no valid recipients configured"}
	ErrEmptyMessage      = &Error{Kind: KindEmptyMessage, Msg: "message is empty"}
)
