package receiver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/tracyhatemice/gomailfetch/internal/model"
)

// Email is a fetched message.
type Email struct {
	SeqNum    uint32
	MessageID string    // from the envelope, may be empty
	Date      time.Time // envelope date
	Content   []byte    // raw RFC 5322 message bytes
}

// Mailbox is a selected mailbox that can be searched and read.
type Mailbox interface {
	// Search returns matching sequence numbers in ascending order. A zero
	// since matches every message.
	Search(ctx context.Context, since time.Time) ([]uint32, error)

	// FetchHeaders returns the From and Subject header block of one
	// message without setting \Seen.
	FetchHeaders(ctx context.Context, seqNum uint32) ([]byte, error)

	// FetchMessage returns the whole message without setting \Seen.
	FetchMessage(ctx context.Context, seqNum uint32) (*Email, error)
}

// Connector establishes the stream a session runs over.
type Connector interface {
	Connect(ctx context.Context, account model.MailAccount) (net.Conn, error)
}

// State is the lifecycle position of a Session.
type State int

const (
	StateDisconnected State = iota
	StateTransportReady
	StateTLSReady
	StateAuthenticated
	StateMailboxSelected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateTransportReady:
		return "transport ready"
	case StateTLSReady:
		return "tls ready"
	case StateAuthenticated:
		return "authenticated"
	case StateMailboxSelected:
		return "mailbox selected"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// ErrInvalidState is returned when an operation is called in a state that
// does not allow it.
var ErrInvalidState = errors.New("invalid session state")
