package decoder

import (
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in       string
		wantName string
		wantAddr string
	}{
		{"", Unknown, Unknown},
		{"alice@example.com", "alice@example.com", "alice@example.com"},
		{"Alice <alice@example.com>", "Alice", "alice@example.com"},
		{`"Smith, Bob" <bob@example.com>, carol@example.com`, "Smith, Bob", "bob@example.com"},
		{"=?UTF-8?Q?Caf=C3=A9?= <cafe@example.com>", "Café", "cafe@example.com"},
		{"dave@example.com (Dave)", "Dave", "dave@example.com"},
		// rejected by the RFC 5322 parser, split by hand
		{"Broken Name <not an address>", "Broken Name", "not an address"},
		{"just garbage", "just garbage", "just garbage"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			name, addr := ParseAddress(tc.in)
			assert.Equal(t, tc.wantName, name)
			assert.Equal(t, tc.wantAddr, addr)
		})
	}
}

func TestFormatSender(t *testing.T) {
	assert.Equal(t, "Alice <a@example.com>", FormatSender("Alice", "a@example.com"))
	assert.Equal(t, "a@example.com", FormatSender("a@example.com", "a@example.com"))
	assert.Equal(t, "a@example.com", FormatSender("", "a@example.com"))
	assert.Equal(t, Unknown, FormatSender(Unknown, Unknown))
	assert.Equal(t, Unknown, FormatSender("", ""))
}

func TestFormatDateUnparseable(t *testing.T) {
	h := mail.HeaderFromMap(map[string][]string{"Date": {"sometime last week"}})
	assert.Equal(t, "sometime last week", FormatDate(h))

	assert.Equal(t, Unknown, FormatDate(mail.HeaderFromMap(nil)))
}

func TestParseSummary(t *testing.T) {
	raw := []byte("From: =?UTF-8?Q?J=C3=BCrgen?= <JUERGEN@Example.com>\r\nSubject: =?UTF-8?Q?Your_code_is_1234?=\r\n\r\n")
	s := ParseSummary(raw)
	assert.Equal(t, "JUERGEN@Example.com", s.FromAddress)
	assert.Equal(t, "Your code is 1234", s.Subject)

	assert.Equal(t, Summary{}, ParseSummary(nil))

	// header block cut short by the server
	s = ParseSummary([]byte("Subject: partial\r\n"))
	assert.Equal(t, "partial", s.Subject)
	assert.Empty(t, s.FromAddress)
}

func TestDecodeWords(t *testing.T) {
	assert.Equal(t, "hello world", DecodeWords("=?ISO-8859-1?Q?hello_world?="))
	assert.Equal(t, "=?bogus", DecodeWords("=?bogus"))
	assert.Equal(t, "", DecodeWords(""))
}
