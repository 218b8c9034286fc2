// Package mailerr defines the failure taxonomy shared by every stage of a
// mail fetch. Errors are tagged with their kind where they happen; the
// human-readable text is derived from the kind, never the other way round.
package mailerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Kind classifies where a fetch failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindDNS
	KindTCPConnect
	KindProxyNegotiation
	KindTLSHandshake
	KindAuthentication
	KindMailboxSelect
	KindFetch
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindDNS:
		return "DNSResolutionError"
	case KindTCPConnect:
		return "TCPConnectError"
	case KindProxyNegotiation:
		return "ProxyNegotiationError"
	case KindTLSHandshake:
		return "TLSHandshakeError"
	case KindAuthentication:
		return "AuthenticationError"
	case KindMailboxSelect:
		return "MailboxSelectError"
	case KindFetch:
		return "FetchError"
	case KindParse:
		return "ParseError"
	default:
		return "UnknownError"
	}
}

// Reason refines a Kind.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonRefused
	ReasonTimeout
	ReasonUnresolvable
	ReasonProxyAuth
	ReasonForbidden
	ReasonBadGateway
	ReasonGatewayTimeout
	ReasonNoResponse
)

// Peers named in messages.
const (
	PeerMailServer  = "mail server"
	PeerHTTPProxy   = "HTTP proxy"
	PeerSOCKS5Proxy = "SOCKS5 proxy"
)

// Route records whether an attempt went direct or through a proxy.
type Route struct {
	Proxied   bool
	ProxyKind string
	ProxyName string
}

func (r Route) String() string {
	if !r.Proxied {
		return "direct"
	}
	if r.ProxyName == "" {
		return "via proxy " + r.ProxyKind
	}
	return fmt.Sprintf("via proxy %s - %s", r.ProxyKind, r.ProxyName)
}

// Error is a categorized fetch failure.
type Error struct {
	Kind   Kind
	Reason Reason
	// Peer is what the failing stage was talking to, e.g. PeerHTTPProxy.
	Peer string
	// Addr is the host:port (or bare host) of Peer.
	Addr string
	// Detail holds kind specific context: the proxy status line, the
	// mailbox name.
	Detail string
	Route  *Route
	Err    error
}

// Message returns the user-facing description of the failure.
func (e *Error) Message() string {
	peer := e.Peer
	if peer == "" {
		peer = PeerMailServer
	}
	switch e.Kind {
	case KindDNS:
		return fmt.Sprintf("cannot resolve %s address %s", peer, e.Addr)
	case KindTCPConnect:
		switch e.Reason {
		case ReasonRefused:
			return fmt.Sprintf("%s %s refused the connection", peer, e.Addr)
		case ReasonTimeout:
			return fmt.Sprintf("connection to %s %s timed out", peer, e.Addr)
		default:
			return fmt.Sprintf("cannot connect to %s %s", peer, e.Addr)
		}
	case KindProxyNegotiation:
		switch e.Reason {
		case ReasonProxyAuth:
			return fmt.Sprintf("%s %s requires authentication: missing or invalid proxy credentials", peer, e.Addr)
		case ReasonForbidden:
			return fmt.Sprintf("%s %s forbids this destination port", peer, e.Addr)
		case ReasonBadGateway:
			return fmt.Sprintf("%s %s cannot reach the mail server", peer, e.Addr)
		case ReasonGatewayTimeout:
			return fmt.Sprintf("%s %s timed out reaching the mail server", peer, e.Addr)
		case ReasonNoResponse:
			return fmt.Sprintf("%s %s sent no response, it may not support CONNECT", peer, e.Addr)
		}
		if e.Detail != "" {
			return fmt.Sprintf("%s %s tunnel failed: %s", peer, e.Addr, e.Detail)
		}
		return fmt.Sprintf("%s %s tunnel failed", peer, e.Addr)
	case KindTLSHandshake:
		return fmt.Sprintf("TLS handshake with %s %s failed", peer, e.Addr)
	case KindAuthentication:
		return "invalid mailbox credentials"
	case KindMailboxSelect:
		return fmt.Sprintf("cannot select mailbox %s", e.Detail)
	case KindFetch:
		return "cannot read messages from the mailbox"
	case KindParse:
		return "cannot parse message"
	default:
		return "unexpected failure"
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Route != nil {
		b.WriteString(" (")
		b.WriteString(e.Route.String())
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if me, ok := As(err); ok {
		return me.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAuthError reports whether the mail server rejected the credentials.
func IsAuthError(err error) bool {
	return Is(err, KindAuthentication)
}

// Annotate attaches the route to err. Untyped errors are wrapped as
// KindUnknown so the annotation is never lost. A route already present is
// kept.
func Annotate(err error, route Route) error {
	if err == nil {
		return nil
	}
	me, ok := As(err)
	if !ok {
		me = &Error{Kind: KindUnknown, Err: err}
	}
	if me.Route == nil {
		r := route
		me.Route = &r
	}
	return me
}

// FromDial classifies a failed TCP dial to peer at addr.
func FromDial(peer, addr string, err error) *Error {
	e := &Error{Kind: KindTCPConnect, Peer: peer, Addr: addr, Err: err}
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		e.Kind = KindDNS
		e.Reason = ReasonUnresolvable
		if dnsErr.Name != "" {
			e.Addr = dnsErr.Name
		}
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Reason = ReasonRefused
	case IsTimeout(err):
		e.Reason = ReasonTimeout
	}
	return e
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
