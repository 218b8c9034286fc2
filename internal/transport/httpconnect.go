package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
)

const userAgent = "gomailfetch/1.0"

var (
	headerEnd      = []byte("\r\n\r\n")
	connectSuccess = regexp.MustCompile(`HTTP/1\.\d 200(\s|$)`)
)

// HTTPConnect tunnels through an HTTP proxy with the CONNECT method.
type HTTPConnect struct {
	ProxyHost string
	ProxyPort int
	Username  string
	Password  string
	// ProbeTimeout bounds the TCP connect to the proxy.
	ProbeTimeout time.Duration
	// ResponseTimeout bounds the whole wait for the proxy's reply.
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

func (h *HTTPConnect) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(h.ProxyHost, strconv.Itoa(h.ProxyPort))
	target := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: h.ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, mailerr.FromDial(mailerr.PeerHTTPProxy, proxyAddr, err)
	}
	h.logger().Debug("connected to http proxy", "proxy", proxyAddr, "target", target)

	if _, err := conn.Write(h.request(target)); err != nil {
		conn.Close()
		return nil, &mailerr.Error{
			Kind: mailerr.KindProxyNegotiation,
			Peer: mailerr.PeerHTTPProxy,
			Addr: proxyAddr,
			Err:  fmt.Errorf("send CONNECT: %w", err),
		}
	}

	conn.SetReadDeadline(deadline(ctx, h.ResponseTimeout))
	head, rest := readProxyResponse(conn, h.logger())
	conn.SetReadDeadline(time.Time{})

	if err := checkConnectResponse(head, proxyAddr); err != nil {
		conn.Close()
		return nil, err
	}
	h.logger().Debug("http tunnel established", "proxy", proxyAddr, "target", target)

	if len(rest) > 0 {
		return &bufferedConn{Conn: conn, buf: rest}, nil
	}
	return conn, nil
}

func (h *HTTPConnect) request(target string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&b, "Host: %s\r\n", target)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", userAgent)
	b.WriteString("Proxy-Connection: keep-alive\r\n")
	b.WriteString("Connection: keep-alive\r\n")
	if h.Username != "" && h.Password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(h.Username + ":" + h.Password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (h *HTTPConnect) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// readProxyResponse reads until the header terminator, EOF or the read
// deadline. Whatever arrived is returned; bytes past the terminator belong
// to the tunneled stream.
func readProxyResponse(conn net.Conn, logger *slog.Logger) (head, rest []byte) {
	var data []byte
	chunk := make([]byte, 1024)
	for {
		if i := bytes.Index(data, headerEnd); i >= 0 {
			return data[:i], data[i+len(headerEnd):]
		}
		n, err := conn.Read(chunk)
		data = append(data, chunk[:n]...)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("incomplete proxy response", "error", err, "bytes", len(data))
			}
			if i := bytes.Index(data, headerEnd); i >= 0 {
				return data[:i], data[i+len(headerEnd):]
			}
			return data, nil
		}
	}
}

// checkConnectResponse accepts any line carrying an HTTP/1.x 200 status
// and classifies everything else by status code.
func checkConnectResponse(head []byte, proxyAddr string) error {
	resp := string(head)
	if strings.TrimSpace(resp) == "" {
		return &mailerr.Error{
			Kind:   mailerr.KindProxyNegotiation,
			Reason: mailerr.ReasonNoResponse,
			Peer:   mailerr.PeerHTTPProxy,
			Addr:   proxyAddr,
		}
	}
	if connectSuccess.MatchString(resp) {
		return nil
	}

	statusLine := strings.TrimSpace(strings.SplitN(resp, "\n", 2)[0])
	e := &mailerr.Error{
		Kind:   mailerr.KindProxyNegotiation,
		Peer:   mailerr.PeerHTTPProxy,
		Addr:   proxyAddr,
		Detail: statusLine,
	}
	switch statusCode(statusLine) {
	case 407:
		e.Reason = mailerr.ReasonProxyAuth
	case 403:
		e.Reason = mailerr.ReasonForbidden
	case 502:
		e.Reason = mailerr.ReasonBadGateway
	case 504:
		e.Reason = mailerr.ReasonGatewayTimeout
	}
	return e
}

func statusCode(statusLine string) int {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// bufferedConn replays bytes read past the CONNECT reply before reading
// from the socket again.
type bufferedConn struct {
	net.Conn
	buf []byte
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
