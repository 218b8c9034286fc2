package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
)

// SOCKS5 tunnels through a SOCKS5 proxy. A bare TCP connect to the proxy
// runs first so that an unreachable proxy is reported as a connect failure
// rather than a handshake failure; the handshake then reuses that
// connection.
type SOCKS5 struct {
	ProxyHost string
	ProxyPort int
	Username  string
	Password  string
	// ProbeTimeout bounds the TCP connect to the proxy.
	ProbeTimeout time.Duration
	// HandshakeTimeout bounds the RFC 1928 negotiation and CONNECT.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (s *SOCKS5) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(s.ProxyHost, strconv.Itoa(s.ProxyPort))
	target := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: s.ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, mailerr.FromDial(mailerr.PeerSOCKS5Proxy, proxyAddr, err)
	}
	s.logger().Debug("socks5 proxy reachable", "proxy", proxyAddr, "target", target)

	var auth *proxy.Auth
	if s.Username != "" && s.Password != "" {
		auth = &proxy.Auth{User: s.Username, Password: s.Password}
	}
	d, err := proxy.SOCKS5("tcp", proxyAddr, auth, &preDialed{conn: conn})
	if err != nil {
		conn.Close()
		return nil, &mailerr.Error{Kind: mailerr.KindProxyNegotiation, Peer: mailerr.PeerSOCKS5Proxy, Addr: proxyAddr, Err: err}
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		conn.Close()
		return nil, &mailerr.Error{Kind: mailerr.KindProxyNegotiation, Peer: mailerr.PeerSOCKS5Proxy, Addr: proxyAddr, Err: errors.New("dialer does not support contexts")}
	}

	hctx, cancel := context.WithTimeout(ctx, s.HandshakeTimeout)
	defer cancel()
	tunnel, err := cd.DialContext(hctx, "tcp", target)
	if err != nil {
		// The socks dialer closes conn on a failed handshake.
		return nil, socksError(proxyAddr, err)
	}
	s.logger().Debug("socks5 tunnel established", "proxy", proxyAddr, "target", target)
	return tunnel, nil
}

func (s *SOCKS5) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// socksError classifies a failed SOCKS5 negotiation. golang.org/x/net only
// exposes the server's reply as text, so the reply strings of RFC 1928 are
// matched here and nowhere else.
func socksError(proxyAddr string, err error) *mailerr.Error {
	e := &mailerr.Error{
		Kind: mailerr.KindProxyNegotiation,
		Peer: mailerr.PeerSOCKS5Proxy,
		Addr: proxyAddr,
		Err:  err,
	}
	if mailerr.IsTimeout(err) {
		e.Reason = mailerr.ReasonGatewayTimeout
		return e
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "no acceptable authentication methods"):
		e.Reason = mailerr.ReasonProxyAuth
	case strings.Contains(msg, "not allowed by ruleset"):
		e.Reason = mailerr.ReasonForbidden
	case strings.Contains(msg, "host unreachable"),
		strings.Contains(msg, "network unreachable"),
		strings.Contains(msg, "connection refused"):
		e.Reason = mailerr.ReasonBadGateway
	case strings.Contains(msg, "TTL expired"):
		e.Reason = mailerr.ReasonGatewayTimeout
	}
	return e
}

// preDialed is a forward dialer that hands out one already open
// connection.
type preDialed struct {
	mu   sync.Mutex
	conn net.Conn
}

func (p *preDialed) Dial(network, addr string) (net.Conn, error) {
	return p.DialContext(context.Background(), network, addr)
}

func (p *preDialed) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, errors.New("proxy connection already used")
	}
	c := p.conn
	p.conn = nil
	return c, nil
}
