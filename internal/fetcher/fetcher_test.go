package fetcher

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
	"github.com/tracyhatemice/gomailfetch/internal/model"
	"github.com/tracyhatemice/gomailfetch/internal/testutil"
	"github.com/tracyhatemice/gomailfetch/internal/transport"
)

func newFetcher(p model.ProxyDescriptor, now time.Time) *Fetcher {
	r := transport.NewResolver(p, transport.Timeouts{Connect: 2 * time.Second, ProxyProbe: 2 * time.Second}, true, nil)
	return New(r, Options{IOTimeout: 5 * time.Second, Now: func() time.Time { return now }})
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func intPtr(n int) *int { return &n }

func TestDirectIMAPSFetch(t *testing.T) {
	now := time.Now()
	srv := testutil.StartIMAPSServer(t, []testutil.Message{
		{From: "Alice <alice@example.com>", Subject: "Hello", Body: "hi there", Received: now},
	})

	res, err := newFetcher(model.ProxyDescriptor{}, now).Fetch(context.Background(), srv.Account(), model.FilterCriteria{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Mail)
	assert.Equal(t, "Hello", res.Mail.Subject)
	assert.Equal(t, "Alice <alice@example.com>", res.Mail.From)
	assert.Equal(t, model.BodyText, res.Mail.BodyType)
	assert.Equal(t, "hi there", res.Mail.Body)
	assert.Empty(t, res.Mail.FilterApplied)
	assert.False(t, res.Proxy.Enabled)
}

func TestEmptyMailbox(t *testing.T) {
	srv := testutil.StartIMAPServer(t, nil)

	res, err := newFetcher(model.ProxyDescriptor{}, time.Now()).Fetch(context.Background(), srv.Account(), model.FilterCriteria{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Mail)
	assert.Equal(t, MsgNoMail, res.Message)
}

func TestDayWindowExcludesOlderMail(t *testing.T) {
	now := time.Now()
	srv := testutil.StartIMAPServer(t, []testutil.Message{
		{From: "a@example.com", Subject: "old", Body: "x", Received: now.Add(-72 * time.Hour)},
	})

	res, err := newFetcher(model.ProxyDescriptor{}, now).Fetch(context.Background(), srv.Account(), model.FilterCriteria{Days: intPtr(1)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Mail)
	assert.Equal(t, MsgNoMail, res.Message)
}

func TestUnreachableHTTPProxy(t *testing.T) {
	p := model.ProxyDescriptor{Enabled: true, Kind: model.ProxyHTTP, Name: "office", Host: "127.0.0.1", Port: closedPort(t)}
	account := model.MailAccount{Server: "imap.example.com", Port: 993, UseTLS: true, Username: "u", Password: "p"}

	res, err := newFetcher(p, time.Now()).Fetch(context.Background(), account, model.FilterCriteria{})
	require.Error(t, err)
	assert.Equal(t, mailerr.KindTCPConnect, mailerr.KindOf(err))
	assert.False(t, res.Success)
	assert.Nil(t, res.Mail)
	assert.Contains(t, res.Message, net.JoinHostPort("127.0.0.1", strconv.Itoa(p.Port)))
	assert.Contains(t, res.Message, "(via proxy http - office)")
	assert.True(t, res.Proxy.Enabled)
}

func TestFetchThroughHTTPProxy(t *testing.T) {
	now := time.Now()
	srv := testutil.StartIMAPServer(t, []testutil.Message{
		{From: "codes@service.example", Subject: "Your code 4711", Body: "4711", Received: now.Add(-time.Hour)},
		{From: "news@example.com", Subject: "Weekly", Body: "news", Received: now},
	})
	px := testutil.StartHTTPProxy(t)
	p := model.ProxyDescriptor{Enabled: true, Kind: model.ProxyHTTP, Name: "relay", Host: px.Host, Port: px.Port}

	c := model.FilterCriteria{Days: intPtr(2), Senders: []string{"service.example"}, Keywords: []string{"code"}}
	res, err := newFetcher(p, now).Fetch(context.Background(), srv.Account(), c)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Mail)
	assert.Equal(t, "Your code 4711", res.Mail.Subject)
	assert.Equal(t, "within last 2 days; sender: service.example; keyword: code", res.Mail.FilterApplied)
	assert.Equal(t, int32(1), px.Tunnels.Load())
	require.NotNil(t, res.Proxy.Info)
	assert.Equal(t, "relay", res.Proxy.Info.Name)
}

func TestNoFilterMatch(t *testing.T) {
	srv := testutil.StartIMAPServer(t, []testutil.Message{
		{From: "news@example.com", Subject: "Weekly", Body: "news", Received: time.Now()},
	})
	c := model.FilterCriteria{Days: intPtr(3), Keywords: []string{"otp"}}

	res, err := newFetcher(model.ProxyDescriptor{}, time.Now()).Fetch(context.Background(), srv.Account(), c)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Mail)
	assert.Equal(t, "no mail matches filters (keyword: otp)", res.Message)
}

func TestBadCredentials(t *testing.T) {
	srv := testutil.StartIMAPServer(t, nil)
	account := srv.Account()
	account.Password = "nope"

	res, err := newFetcher(model.ProxyDescriptor{}, time.Now()).Fetch(context.Background(), account, model.FilterCriteria{})
	assert.True(t, mailerr.IsAuthError(err))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "invalid mailbox credentials")
	assert.Contains(t, res.Message, "(direct)")
}
