// Package diagnostics runs a connection test that stops after mailbox
// selection and reports the outcome of every stage.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
	"github.com/tracyhatemice/gomailfetch/internal/model"
	"github.com/tracyhatemice/gomailfetch/internal/receiver"
	"github.com/tracyhatemice/gomailfetch/internal/transport"
)

// Diagnostic keys.
const (
	KeyServerInfo     = "server_info"
	KeyProtocolInfo   = "protocol_info"
	KeyProxyStatus    = "proxy_status"
	KeyProxyInfo      = "proxy_info"
	KeyDNS            = "dns_resolution"
	KeyTCP            = "tcp_connection"
	KeyTunnel         = "tunnel"
	KeySSL            = "ssl_status"
	KeyAuth           = "auth_status"
	KeyMailbox        = "mailbox_access"
	KeyConnectionTest = "connection_test"
	KeyException      = "exception_error"
)

const (
	okMark   = "✅ "
	failMark = "❌ "
	skipMark = "⚠️ "
)

// HostResolver looks up host addresses. *net.Resolver satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Reporter runs connection tests.
type Reporter struct {
	resolver  *transport.Resolver
	dns       HostResolver
	mailbox   string
	ioTimeout time.Duration
	logger    *slog.Logger
}

// Options configures a Reporter.
type Options struct {
	Mailbox   string
	IOTimeout time.Duration
	// DNS defaults to net.DefaultResolver.
	DNS    HostResolver
	Logger *slog.Logger
}

// New returns a Reporter that connects through resolver.
func New(resolver *transport.Resolver, opts Options) *Reporter {
	r := &Reporter{
		resolver:  resolver,
		dns:       opts.DNS,
		mailbox:   opts.Mailbox,
		ioTimeout: opts.IOTimeout,
		logger:    opts.Logger,
	}
	if r.dns == nil {
		r.dns = net.DefaultResolver
	}
	if r.mailbox == "" {
		r.mailbox = "INBOX"
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// run holds the state of one test.
type run struct {
	diag  map[string]string
	route mailerr.Route
}

func (r *run) set(key, mark, text string) {
	r.diag[key] = mark + text
}

// Test probes account and returns a result carrying the diagnostics map.
// Failures are reported in the result, never returned.
func (r *Reporter) Test(ctx context.Context, account model.MailAccount) (result model.FetchResult) {
	route := r.resolver.Route()
	st := &run{diag: map[string]string{}, route: route}
	result.Proxy = r.resolver.Proxy.Echo()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("connection test panicked", "panic", p)
			st.set(KeyException, failMark, fmt.Sprintf("test aborted: %v", p))
			result = model.FetchResult{
				Success:     false,
				Message:     fmt.Sprintf("%sconnection test aborted: %v (%s)", failMark, p, route),
				Proxy:       r.resolver.Proxy.Echo(),
				Diagnostics: st.diag,
				ErrorType:   mailerr.TypeTestException,
			}
		}
	}()

	st.diag[KeyServerInfo] = account.Addr()
	st.diag[KeyProtocolInfo] = protocolInfo(account)
	st.diag[KeyProxyStatus] = "disabled"
	if route.Proxied {
		p := r.resolver.Proxy
		st.diag[KeyProxyStatus] = fmt.Sprintf("enabled - %s (%s)", p.Kind, p.Name)
		st.diag[KeyProxyInfo] = p.Addr()
	}
	r.logger.Info("starting connection test", "server", account.Addr(), "route", route.String())

	if err := r.probe(ctx, account, st); err != nil {
		st.set(KeyConnectionTest, failMark, "connection failed: "+err.Error())
		result.Message = failMark + "connection test failed: " + err.Error()
		result.Diagnostics = st.diag
		result.ErrorType = mailerr.ErrorType(err)
		r.logger.Warn("connection test failed", "error", err, "error_type", result.ErrorType)
		return result
	}

	st.set(KeyConnectionTest, okMark, fmt.Sprintf("mailbox connection succeeded (%s)", route))
	result.Success = true
	result.Message = fmt.Sprintf("%sconnection test succeeded (%s)", okMark, route)
	result.Diagnostics = st.diag
	r.logger.Info("connection test succeeded")
	return result
}

// probe runs each stage in order and records its outcome. The first
// failing stage stops the test.
func (r *Reporter) probe(ctx context.Context, account model.MailAccount, st *run) error {
	if st.route.Proxied {
		st.set(KeyDNS, skipMark, "connecting through proxy, DNS test skipped")
		st.set(KeyTCP, skipMark, "connecting through proxy, TCP test skipped")
	} else {
		addrs, err := r.dns.LookupHost(ctx, account.Server)
		if err != nil {
			err = mailerr.Annotate(mailerr.FromDial(mailerr.PeerMailServer, account.Server, err), st.route)
			st.set(KeyDNS, failMark, "DNS resolution failed: "+err.Error())
			return err
		}
		st.set(KeyDNS, okMark, "server address resolved (IP: "+strings.Join(addrs, ", ")+")")
	}

	conn, err := r.resolver.Dial(ctx, account)
	if err != nil {
		key := KeyTCP
		if st.route.Proxied {
			key = KeyTunnel
		}
		st.set(key, failMark, err.Error())
		return err
	}
	if st.route.Proxied {
		st.set(KeyTunnel, okMark, fmt.Sprintf("%s tunnel to %s established via %s", r.resolver.Proxy.Kind, account.Addr(), r.resolver.Proxy.Addr()))
	} else {
		st.set(KeyTCP, okMark, "TCP connection established")
	}

	conn, err = r.resolver.Secure(ctx, conn, account)
	if err != nil {
		st.set(KeySSL, failMark, err.Error())
		return err
	}
	if account.UseTLS {
		st.set(KeySSL, okMark, "TLS handshake completed")
	} else {
		st.set(KeySSL, skipMark, "TLS disabled for this account")
	}

	session := receiver.NewSession(conn, account.UseTLS, account, &receiver.Options{IOTimeout: r.ioTimeout, Logger: r.logger})
	defer session.Close()

	if err := session.Login(ctx); err != nil {
		err = mailerr.Annotate(err, st.route)
		st.set(KeyAuth, failMark, err.Error())
		return err
	}
	st.set(KeyAuth, okMark, "authentication succeeded")

	if err := session.SelectMailbox(ctx, r.mailbox); err != nil {
		err = mailerr.Annotate(err, st.route)
		st.set(KeyMailbox, failMark, err.Error())
		return err
	}
	st.set(KeyMailbox, okMark, "mailbox "+r.mailbox+" accessible")
	return nil
}

func protocolInfo(account model.MailAccount) string {
	protocol := account.Protocol
	if protocol == "" {
		protocol = model.ProtocolIMAP
	}
	if account.UseTLS {
		return strings.ToUpper(protocol) + " with SSL"
	}
	return strings.ToUpper(protocol) + " without SSL"
}
