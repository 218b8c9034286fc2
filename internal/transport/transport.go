// Package transport turns a mail account and a proxy descriptor into a
// connected byte stream. Every attempt builds its own dialer; nothing here
// touches process-wide networking state.
package transport

import (
	"context"
	"net"
	"time"
)

// Dialer opens a stream to host:port.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (net.Conn, error)
}

// Timeouts bounds each network stage.
type Timeouts struct {
	// ProxyProbe bounds the TCP connect to a proxy.
	ProxyProbe time.Duration
	// TunnelResponse bounds the wait for a CONNECT reply or SOCKS handshake.
	TunnelResponse time.Duration
	TLSHandshake   time.Duration
	// Connect bounds a direct TCP connect to the mail server.
	Connect time.Duration
}

// DefaultTimeouts returns the stage timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ProxyProbe:     10 * time.Second,
		TunnelResponse: 25 * time.Second,
		TLSHandshake:   30 * time.Second,
		Connect:        10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.ProxyProbe <= 0 {
		t.ProxyProbe = d.ProxyProbe
	}
	if t.TunnelResponse <= 0 {
		t.TunnelResponse = d.TunnelResponse
	}
	if t.TLSHandshake <= 0 {
		t.TLSHandshake = d.TLSHandshake
	}
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	return t
}

// deadline returns the earlier of now+timeout and ctx's deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}
