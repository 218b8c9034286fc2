// Package receiver drives an IMAP session over an established stream and
// picks the message to return.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
	"github.com/tracyhatemice/gomailfetch/internal/model"
)

const (
	defaultIOTimeout = 30 * time.Second
	logoutTimeout    = 5 * time.Second
)

// Options configures a Session.
type Options struct {
	// IOTimeout bounds each IMAP command.
	IOTimeout time.Duration
	Logger    *slog.Logger
}

// Session is one IMAP conversation. It is not safe for concurrent use.
type Session struct {
	conn      net.Conn
	client    *imapclient.Client
	account   model.MailAccount
	state     State
	greeted   bool
	mailbox   string
	ioTimeout time.Duration
	logger    *slog.Logger
}

// Dial connects to the account's server through connector and returns a
// session ready to log in.
func Dial(ctx context.Context, connector Connector, account model.MailAccount, opts *Options) (*Session, error) {
	conn, err := connector.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	return NewSession(conn, account.UseTLS, account, opts), nil
}

// NewSession drives an already established stream. secured tells whether
// TLS has been applied to conn.
func NewSession(conn net.Conn, secured bool, account model.MailAccount, opts *Options) *Session {
	if opts == nil {
		opts = &Options{}
	}
	s := &Session{
		conn:      conn,
		account:   account,
		state:     StateTransportReady,
		ioTimeout: opts.IOTimeout,
		logger:    opts.Logger,
	}
	if secured {
		s.state = StateTLSReady
	}
	if s.ioTimeout <= 0 {
		s.ioTimeout = defaultIOTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.client = imapclient.New(conn, &imapclient.Options{})
	return s
}

// State reports where the session is in its lifecycle.
func (s *Session) State() State {
	return s.state
}

// Login waits for the server greeting and authenticates.
func (s *Session) Login(ctx context.Context) error {
	if s.state != StateTransportReady && s.state != StateTLSReady {
		return s.invalid("login")
	}
	done := s.arm(ctx)
	defer done()

	if err := s.client.WaitGreeting(); err != nil {
		return s.ioError(fmt.Errorf("imap greeting: %w", err))
	}
	s.greeted = true
	if err := s.client.Login(s.account.Username, s.account.Password).Wait(); err != nil {
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return &mailerr.Error{Kind: mailerr.KindAuthentication, Addr: s.account.Addr(), Err: err}
		}
		return s.ioError(fmt.Errorf("imap login: %w", err))
	}
	s.state = StateAuthenticated
	s.logger.Debug("imap login ok", "user", s.account.Username)
	return nil
}

// SelectMailbox opens name read-only.
func (s *Session) SelectMailbox(ctx context.Context, name string) error {
	if s.state != StateAuthenticated {
		return s.invalid("select")
	}
	done := s.arm(ctx)
	defer done()

	data, err := s.client.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return &mailerr.Error{Kind: mailerr.KindMailboxSelect, Addr: s.account.Addr(), Detail: name, Err: err}
	}
	s.mailbox = name
	s.state = StateMailboxSelected
	s.logger.Debug("mailbox selected", "mailbox", name, "messages", data.NumMessages)
	return nil
}

func (s *Session) Search(ctx context.Context, since time.Time) ([]uint32, error) {
	if s.state != StateMailboxSelected {
		return nil, s.invalid("search")
	}
	done := s.arm(ctx)
	defer done()

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}
	data, err := s.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, s.commandError(fmt.Errorf("imap search: %w", err))
	}
	return data.AllSeqNums(), nil
}

func (s *Session) FetchHeaders(ctx context.Context, seqNum uint32) ([]byte, error) {
	if s.state != StateMailboxSelected {
		return nil, s.invalid("fetch headers")
	}
	done := s.arm(ctx)
	defer done()

	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: []string{"From", "Subject"},
		Peek:         true,
	}
	buf, err := s.fetchOne(seqNum, &imap.FetchOptions{BodySection: []*imap.FetchItemBodySection{section}})
	if err != nil {
		return nil, err
	}
	return buf.FindBodySection(section), nil
}

func (s *Session) FetchMessage(ctx context.Context, seqNum uint32) (*Email, error) {
	if s.state != StateMailboxSelected {
		return nil, s.invalid("fetch message")
	}
	done := s.arm(ctx)
	defer done()

	section := &imap.FetchItemBodySection{Peek: true}
	buf, err := s.fetchOne(seqNum, &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return nil, err
	}
	email := &Email{SeqNum: seqNum, Content: buf.FindBodySection(section)}
	if buf.Envelope != nil {
		email.MessageID = buf.Envelope.MessageID
		email.Date = buf.Envelope.Date
	}
	if len(email.Content) == 0 {
		return nil, s.fetchError(fmt.Errorf("imap fetch %d: empty body", seqNum))
	}
	return email, nil
}

func (s *Session) fetchOne(seqNum uint32, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	msgs, err := s.client.Fetch(imap.SeqSetNum(seqNum), opts).Collect()
	if err != nil {
		return nil, s.commandError(fmt.Errorf("imap fetch %d: %w", seqNum, err))
	}
	if len(msgs) == 0 {
		return nil, s.fetchError(fmt.Errorf("imap fetch %d: no such message", seqNum))
	}
	return msgs[0], nil
}

// Close logs out and closes the connection. LOGOUT is sent whenever the
// server greeted us, even if login failed. It is safe to call more than
// once.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	if s.greeted {
		s.conn.SetDeadline(time.Now().Add(logoutTimeout))
		if err := s.client.Logout().Wait(); err != nil {
			s.logger.Debug("imap logout failed", "error", err)
		}
	}
	return s.client.Close()
}

// arm bounds the next command by the I/O timeout and ctx. The returned
// func clears the deadline so the client's reader is not cut off between
// commands.
func (s *Session) arm(ctx context.Context) func() {
	s.conn.SetDeadline(deadline(ctx, s.ioTimeout))
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		s.conn.SetDeadline(time.Time{})
	}
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, s.state)
}

func (s *Session) ioError(err error) error {
	e := &mailerr.Error{Kind: mailerr.KindTCPConnect, Peer: mailerr.PeerMailServer, Addr: s.account.Addr(), Err: err}
	if mailerr.IsTimeout(err) {
		e.Reason = mailerr.ReasonTimeout
	}
	return e
}

// commandError tells a server rejection (NO/BAD), which concerns only this
// command, from a broken connection.
func (s *Session) commandError(err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return s.fetchError(err)
	}
	return s.ioError(err)
}

func (s *Session) fetchError(err error) error {
	return &mailerr.Error{Kind: mailerr.KindFetch, Addr: s.account.Addr(), Detail: s.mailbox, Err: err}
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
