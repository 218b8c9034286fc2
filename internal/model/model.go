// Package model holds the values passed into and out of a mail fetch.
package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ProtocolIMAP is the only supported mailbox protocol.
const ProtocolIMAP = "imap"

// MailAccount is the mailbox credential record handed to the core.
type MailAccount struct {
	Email    string `db:"email"`
	Server   string `db:"server"`
	Port     int    `db:"port"`
	Protocol string `db:"protocol"`
	Username string `db:"username"`
	Password string `db:"password"`
	UseTLS   bool   `db:"ssl"`
}

// Addr returns the mail server's host:port.
func (a MailAccount) Addr() string {
	return net.JoinHostPort(a.Server, strconv.Itoa(a.Port))
}

// ProxyKind names a forward proxy protocol.
type ProxyKind string

const (
	ProxyNone   ProxyKind = "none"
	ProxyHTTP   ProxyKind = "http"
	ProxySOCKS5 ProxyKind = "socks5"
)

// ProxyDescriptor is the operator-selected forward proxy. The zero value is
// a disabled proxy.
type ProxyDescriptor struct {
	Enabled  bool      `json:"-"`
	Kind     ProxyKind `json:"type"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Username string    `json:"username,omitempty"`
	Password string    `json:"-"`
	Name     string    `json:"name"`
}

// Active reports whether connections must go through this proxy.
func (p ProxyDescriptor) Active() bool {
	return p.Enabled && (p.Kind == ProxyHTTP || p.Kind == ProxySOCKS5)
}

// Addr returns the proxy's host:port.
func (p ProxyDescriptor) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasAuth reports whether proxy credentials are configured.
func (p ProxyDescriptor) HasAuth() bool {
	return p.Username != "" && p.Password != ""
}

// ProxyEcho is the proxy section of a FetchResult.
type ProxyEcho struct {
	Enabled bool             `json:"enabled"`
	Info    *ProxyDescriptor `json:"info"`
}

// Echo reports proxy usage for a result.
func (p ProxyDescriptor) Echo() ProxyEcho {
	if !p.Active() {
		return ProxyEcho{}
	}
	info := p
	return ProxyEcho{Enabled: true, Info: &info}
}

// FilterCriteria narrows which message is picked. Nil or empty fields are
// absent criteria.
type FilterCriteria struct {
	Days     *int
	Senders  []string
	Keywords []string
}

// ParseList splits comma separated input into trimmed, lower-cased,
// non-empty entries.
func ParseList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// HasHeaderFilters reports whether per-message header checks are needed.
func (c FilterCriteria) HasHeaderFilters() bool {
	return len(c.Senders) > 0 || len(c.Keywords) > 0
}

// HasDays reports whether a day window is set.
func (c FilterCriteria) HasDays() bool {
	return c.Days != nil && *c.Days > 0
}

// Active reports whether any criterion is present.
func (c FilterCriteria) Active() bool {
	return c.HasDays() || c.HasHeaderFilters()
}

// Describe renders the active criteria for display.
func (c FilterCriteria) Describe() string {
	var parts []string
	if c.HasDays() {
		parts = append(parts, fmt.Sprintf("within last %d days", *c.Days))
	}
	return strings.Join(append(parts, c.describeHeaders()...), "; ")
}

// DescribeHeaderFilters renders only the sender and keyword criteria.
func (c FilterCriteria) DescribeHeaderFilters() string {
	return strings.Join(c.describeHeaders(), "; ")
}

func (c FilterCriteria) describeHeaders() []string {
	var parts []string
	if len(c.Senders) > 0 {
		parts = append(parts, "sender: "+strings.Join(c.Senders, ", "))
	}
	if len(c.Keywords) > 0 {
		parts = append(parts, "keyword: "+strings.Join(c.Keywords, ", "))
	}
	return parts
}

// BodyKind says which representation ParsedMail.Body carries.
type BodyKind string

const (
	BodyText  BodyKind = "text"
	BodyHTML  BodyKind = "html"
	BodyImage BodyKind = "image"
)

// Attachment is an extracted image or file, payload base64 encoded.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Content  string `json:"content"`
}

// ParsedMail is the JSON-safe rendering of one message.
type ParsedMail struct {
	Subject       string       `json:"subject"`
	From          string       `json:"from"`
	FromEmail     string       `json:"from_email"`
	To            string       `json:"to"`
	Date          string       `json:"date"`
	MessageID     string       `json:"message_id"`
	BodyType      BodyKind     `json:"body_type"`
	Body          string       `json:"body"`
	Images        []Attachment `json:"images"`
	Attachments   []Attachment `json:"attachments"`
	FilterApplied string       `json:"filter_applied,omitempty"`
}

// FetchResult is the single object written at the process boundary.
type FetchResult struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message,omitempty"`
	Mail        *ParsedMail       `json:"mail"`
	Proxy       ProxyEcho         `json:"proxy"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
	ErrorType   string            `json:"error_type,omitempty"`
}
