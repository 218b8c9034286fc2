package diagnostics

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
	"github.com/tracyhatemice/gomailfetch/internal/model"
	"github.com/tracyhatemice/gomailfetch/internal/testutil"
	"github.com/tracyhatemice/gomailfetch/internal/transport"
)

type stubDNS struct {
	addrs []string
	err   error
}

func (s stubDNS) LookupHost(context.Context, string) ([]string, error) {
	return s.addrs, s.err
}

type panicDNS struct{}

func (panicDNS) LookupHost(context.Context, string) ([]string, error) {
	panic("resolver exploded")
}

func newReporter(p model.ProxyDescriptor, dns HostResolver) *Reporter {
	r := transport.NewResolver(p, transport.Timeouts{Connect: 2 * time.Second, ProxyProbe: 2 * time.Second}, true, nil)
	return New(r, Options{IOTimeout: 5 * time.Second, DNS: dns})
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestDirectSuccess(t *testing.T) {
	srv := testutil.StartIMAPSServer(t, nil)
	res := newReporter(model.ProxyDescriptor{}, nil).Test(context.Background(), srv.Account())

	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "(direct)")
	assert.Empty(t, res.ErrorType)
	assert.False(t, res.Proxy.Enabled)

	d := res.Diagnostics
	assert.Equal(t, srv.Account().Addr(), d[KeyServerInfo])
	assert.Equal(t, "IMAP with SSL", d[KeyProtocolInfo])
	assert.Equal(t, "disabled", d[KeyProxyStatus])
	assert.NotContains(t, d, KeyProxyInfo)
	assert.NotContains(t, d, KeyTunnel)
	for _, k := range []string{KeyDNS, KeyTCP, KeySSL, KeyAuth, KeyMailbox, KeyConnectionTest} {
		assert.True(t, strings.HasPrefix(d[k], okMark), "%s = %q", k, d[k])
	}
	assert.Contains(t, d[KeyDNS], "127.0.0.1")
}

func TestPlainAccountSkipsTLS(t *testing.T) {
	srv := testutil.StartIMAPServer(t, nil)
	res := newReporter(model.ProxyDescriptor{}, nil).Test(context.Background(), srv.Account())

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "IMAP without SSL", res.Diagnostics[KeyProtocolInfo])
	assert.True(t, strings.HasPrefix(res.Diagnostics[KeySSL], skipMark))
}

func TestFailures(t *testing.T) {
	srv := testutil.StartIMAPServer(t, nil)

	cases := []struct {
		name     string
		account  func() model.MailAccount
		dns      HostResolver
		errType  string
		failedAt string
		notSet   []string
	}{
		{
			name:     "unresolvable host",
			account:  func() model.MailAccount { a := srv.Account(); a.Server = "nowhere.invalid"; return a },
			dns:      stubDNS{err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}},
			errType:  mailerr.TypeDNS,
			failedAt: KeyDNS,
			notSet:   []string{KeyTCP, KeySSL, KeyAuth},
		},
		{
			name:     "refused",
			account:  func() model.MailAccount { a := srv.Account(); a.Port = closedPort(t); return a },
			errType:  mailerr.TypeConnectionRefused,
			failedAt: KeyTCP,
			notSet:   []string{KeySSL, KeyAuth},
		},
		{
			name:     "tls against plaintext",
			account:  func() model.MailAccount { a := srv.Account(); a.UseTLS = true; return a },
			errType:  mailerr.TypeSSL,
			failedAt: KeySSL,
			notSet:   []string{KeyAuth},
		},
		{
			name:     "bad password",
			account:  func() model.MailAccount { a := srv.Account(); a.Password = "wrong"; return a },
			errType:  mailerr.TypeAuthFailed,
			failedAt: KeyAuth,
			notSet:   []string{KeyMailbox},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := newReporter(model.ProxyDescriptor{}, tc.dns).Test(context.Background(), tc.account())
			assert.False(t, res.Success)
			assert.Equal(t, tc.errType, res.ErrorType)
			assert.Contains(t, res.Message, "(direct)")
			assert.True(t, strings.HasPrefix(res.Diagnostics[tc.failedAt], failMark), res.Diagnostics[tc.failedAt])
			assert.True(t, strings.HasPrefix(res.Diagnostics[KeyConnectionTest], failMark))
			for _, k := range tc.notSet {
				assert.NotContains(t, res.Diagnostics, k)
			}
		})
	}
}

func TestMissingMailbox(t *testing.T) {
	srv := testutil.StartIMAPServer(t, nil)
	r := newReporter(model.ProxyDescriptor{}, nil)
	r.mailbox = "Archive"
	res := r.Test(context.Background(), srv.Account())

	assert.False(t, res.Success)
	assert.Equal(t, mailerr.TypeConnectionFailed, res.ErrorType)
	assert.Contains(t, res.Diagnostics[KeyMailbox], "Archive")
	assert.True(t, strings.HasPrefix(res.Diagnostics[KeyAuth], okMark))
}

func TestProxiedSkipsDirectProbes(t *testing.T) {
	p := model.ProxyDescriptor{Enabled: true, Kind: model.ProxyHTTP, Name: "office", Host: "127.0.0.1", Port: closedPort(t)}
	account := model.MailAccount{Server: "imap.example.com", Port: 993, UseTLS: true, Username: "u", Password: "p"}
	res := newReporter(p, panicDNS{}).Test(context.Background(), account)

	assert.False(t, res.Success)
	assert.Equal(t, mailerr.TypeConnectionRefused, res.ErrorType)
	assert.Contains(t, res.Message, "via proxy http - office")
	assert.True(t, res.Proxy.Enabled)
	require.NotNil(t, res.Proxy.Info)
	assert.Equal(t, "office", res.Proxy.Info.Name)

	d := res.Diagnostics
	assert.Equal(t, "enabled - http (office)", d[KeyProxyStatus])
	assert.Equal(t, p.Addr(), d[KeyProxyInfo])
	assert.True(t, strings.HasPrefix(d[KeyDNS], skipMark))
	assert.True(t, strings.HasPrefix(d[KeyTCP], skipMark))
	assert.True(t, strings.HasPrefix(d[KeyTunnel], failMark))
	assert.Contains(t, d[KeyTunnel], p.Addr())
}

func TestPanicBecomesTestException(t *testing.T) {
	srv := testutil.StartIMAPServer(t, nil)
	res := newReporter(model.ProxyDescriptor{}, panicDNS{}).Test(context.Background(), srv.Account())

	assert.False(t, res.Success)
	assert.Equal(t, mailerr.TypeTestException, res.ErrorType)
	assert.Contains(t, res.Message, "resolver exploded")
	assert.Contains(t, res.Diagnostics[KeyException], "resolver exploded")
	assert.Equal(t, srv.Account().Addr(), res.Diagnostics[KeyServerInfo])
}
