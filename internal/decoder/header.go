package decoder

import (
	"bufio"
	"bytes"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Unknown stands in for a header that is missing.
const Unknown = "unknown"

// DateLayout is the layout of ParsedMail.Date.
const DateLayout = "2006-01-02 15:04:05"

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeWords decodes RFC 2047 encoded words. Undecodable input is returned
// as is.
func DecodeWords(s string) string {
	if s == "" {
		return ""
	}
	dec, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return dec
}

// ParseAddress splits an address header into display name and bare
// address. The first address of a list wins. Headers the RFC 5322 parser
// rejects are split by hand: "Name <addr>", "addr (Name)" or a bare
// address. The name falls back to the address.
func ParseAddress(value string) (name, addr string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Unknown, Unknown
	}
	if list, err := mail.ParseAddressList(value); err == nil && len(list) > 0 {
		a := list[0]
		if a.Name != "" {
			return a.Name, a.Address
		}
		return a.Address, a.Address
	}
	return splitAddress(value)
}

func splitAddress(value string) (name, addr string) {
	if lt := strings.Index(value, "<"); lt >= 0 && strings.Contains(value[lt:], ">") {
		addr = strings.TrimSpace(value[lt+1 : lt+strings.Index(value[lt:], ">")])
		name = DecodeWords(strings.Trim(strings.TrimSpace(value[:lt]), `"`))
		if name == "" {
			name = addr
		}
		return name, addr
	}
	if lp := strings.Index(value, "("); lp >= 0 && strings.Contains(value[lp:], ")") {
		addr = strings.TrimSpace(value[:lp])
		name = strings.TrimSpace(value[lp+1 : lp+strings.Index(value[lp:], ")")])
		if name == "" {
			name = addr
		}
		return name, addr
	}
	return value, value
}

// FormatSender renders "Name <addr>" when both parts are known and
// differ, otherwise whichever is known.
func FormatSender(name, addr string) string {
	switch {
	case name != "" && addr != "" && name != addr:
		return name + " <" + addr + ">"
	case addr != "" && addr != Unknown:
		return addr
	case name != "":
		return name
	default:
		return Unknown
	}
}

// FormatDate renders the Date header in local time. An unparseable header
// is returned raw.
func FormatDate(h mail.Header) string {
	raw := strings.TrimSpace(h.Get("Date"))
	if raw == "" {
		return Unknown
	}
	t, err := h.Date()
	if err != nil || t.IsZero() {
		return raw
	}
	return t.In(time.Local).Format(DateLayout)
}

// subject returns the decoded subject. go-message hands back the raw value
// alongside a decode error.
func subject(h mail.Header) string {
	s, _ := h.Subject()
	return s
}

func messageID(h mail.Header) string {
	id, err := h.MessageID()
	if err != nil || id == "" {
		return strings.TrimSpace(h.Get("Message-Id"))
	}
	return "<" + id + ">"
}

// Summary is what the filter engine needs from a message.
type Summary struct {
	FromAddress string
	Subject     string
}

// ParseSummary reads a header block such as the reply to a
// BODY.PEEK[HEADER.FIELDS (FROM SUBJECT)] fetch. A truncated block yields
// whatever fields were complete.
func ParseSummary(raw []byte) Summary {
	th, _ := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	h := mail.Header{Header: message.Header{Header: th}}
	_, addr := ParseAddress(h.Get("From"))
	if addr == Unknown {
		addr = ""
	}
	return Summary{FromAddress: addr, Subject: subject(h)}
}
