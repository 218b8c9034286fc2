package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
	"github.com/tracyhatemice/gomailfetch/internal/model"
)

// Resolver picks the route to a mail server and establishes the stream.
type Resolver struct {
	Proxy    model.ProxyDescriptor
	Timeouts Timeouts
	// SkipVerify disables certificate chain validation.
	SkipVerify bool
	Logger     *slog.Logger
}

// NewResolver returns a Resolver with default timeouts filled in.
func NewResolver(p model.ProxyDescriptor, t Timeouts, skipVerify bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Proxy: p, Timeouts: t.withDefaults(), SkipVerify: skipVerify, Logger: logger}
}

// Route describes the path connections take.
func (r *Resolver) Route() mailerr.Route {
	if !r.Proxy.Active() {
		return mailerr.Route{}
	}
	return mailerr.Route{Proxied: true, ProxyKind: string(r.Proxy.Kind), ProxyName: r.Proxy.Name}
}

// Dialer returns a fresh dialer for the configured route.
func (r *Resolver) Dialer() Dialer {
	t := r.Timeouts.withDefaults()
	if !r.Proxy.Active() {
		return &Direct{Timeout: t.Connect}
	}
	switch r.Proxy.Kind {
	case model.ProxySOCKS5:
		return &SOCKS5{
			ProxyHost:        r.Proxy.Host,
			ProxyPort:        r.Proxy.Port,
			Username:         r.Proxy.Username,
			Password:         r.Proxy.Password,
			ProbeTimeout:     t.ProxyProbe,
			HandshakeTimeout: t.TunnelResponse,
			Logger:           r.logger(),
		}
	default:
		return &HTTPConnect{
			ProxyHost:       r.Proxy.Host,
			ProxyPort:       r.Proxy.Port,
			Username:        r.Proxy.Username,
			Password:        r.Proxy.Password,
			ProbeTimeout:    t.ProxyProbe,
			ResponseTimeout: t.TunnelResponse,
			Logger:          r.logger(),
		}
	}
}

// Dial opens the raw stream to the account's server.
func (r *Resolver) Dial(ctx context.Context, account model.MailAccount) (net.Conn, error) {
	r.logger().Debug("dialing mail server", "server", account.Addr(), "route", r.Route().String())
	conn, err := r.Dialer().Dial(ctx, account.Server, account.Port)
	if err != nil {
		return nil, mailerr.Annotate(err, r.Route())
	}
	return conn, nil
}

// Secure wraps conn in TLS when the account asks for it. conn is closed
// when the handshake fails.
func (r *Resolver) Secure(ctx context.Context, conn net.Conn, account model.MailAccount) (net.Conn, error) {
	if !account.UseTLS {
		return conn, nil
	}
	if r.SkipVerify {
		r.logger().Warn("tls certificate verification disabled", "server", account.Server)
	}
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         account.Server,
		InsecureSkipVerify: r.SkipVerify,
	})
	hctx, cancel := context.WithTimeout(ctx, r.Timeouts.withDefaults().TLSHandshake)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		conn.Close()
		return nil, mailerr.Annotate(&mailerr.Error{
			Kind: mailerr.KindTLSHandshake,
			Peer: mailerr.PeerMailServer,
			Addr: account.Addr(),
			Err:  err,
		}, r.Route())
	}
	return tlsConn, nil
}

// Connect runs Dial then Secure.
func (r *Resolver) Connect(ctx context.Context, account model.MailAccount) (net.Conn, error) {
	conn, err := r.Dial(ctx, account)
	if err != nil {
		return nil, err
	}
	return r.Secure(ctx, conn, account)
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
