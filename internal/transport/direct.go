package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
)

// Direct dials the mail server without a proxy.
type Direct struct {
	Timeout time.Duration
}

func (d *Direct) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mailerr.FromDial(mailerr.PeerMailServer, addr, err)
	}
	return conn, nil
}
