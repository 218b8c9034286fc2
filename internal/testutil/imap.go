// Package testutil provides in-process servers for package tests.
package testutil

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/tracyhatemice/gomailfetch/internal/model"
)

const (
	DefaultUser = "user@example.com"
	DefaultPass = "secret"
)

// Message is a message stored in the test INBOX.
type Message struct {
	From    string
	Subject string
	Body    string
	// Received is the internal date used by SEARCH SINCE.
	Received time.Time
}

// Raw renders m as an RFC 5322 message.
func (m Message) Raw() []byte {
	var b strings.Builder
	b.WriteString("From: " + m.From + "\r\n")
	b.WriteString("To: " + DefaultUser + "\r\n")
	b.WriteString("Subject: " + m.Subject + "\r\n")
	b.WriteString("Date: " + m.Received.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + strconv.FormatInt(m.Received.UnixNano(), 36) + "@test.example.com>\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return []byte(b.String())
}

// IMAPServer is an in-memory IMAP server on a loopback port.
type IMAPServer struct {
	Host string
	Port int
	TLS  bool
}

// Account returns credentials for the default user.
func (s *IMAPServer) Account() model.MailAccount {
	return model.MailAccount{
		Email:    DefaultUser,
		Server:   s.Host,
		Port:     s.Port,
		Protocol: model.ProtocolIMAP,
		Username: DefaultUser,
		Password: DefaultPass,
		UseTLS:   s.TLS,
	}
}

// StartIMAPServer serves msgs in INBOX over plaintext IMAP, appended in
// order so the last message has the highest sequence number.
func StartIMAPServer(t testing.TB, msgs []Message) *IMAPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serve(t, ln, msgs, false)
}

// StartIMAPSServer is StartIMAPServer over implicit TLS with a self-signed
// certificate.
func StartIMAPSServer(t testing.TB, msgs []Message) *IMAPServer {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{selfSigned(t)}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serve(t, ln, msgs, true)
}

func serve(t testing.TB, ln net.Listener, msgs []Message, secure bool) *IMAPServer {
	t.Helper()
	mem := imapmemserver.New()
	user := imapmemserver.NewUser(DefaultUser, DefaultPass)
	// INBOX may already exist depending on the server version.
	_ = user.Create("INBOX", nil)
	for _, m := range msgs {
		raw := m.Raw()
		if _, err := user.Append("INBOX", bytes.NewReader(raw), &imap.AppendOptions{Time: m.Received}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	mem.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}},
	})
	go server.Serve(ln)
	t.Cleanup(func() {
		server.Close()
		ln.Close()
	})

	host, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(p)
	return &IMAPServer{Host: host, Port: port, TLS: secure}
}

func selfSigned(t testing.TB) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}
