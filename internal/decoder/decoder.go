// Package decoder renders a raw RFC 5322 message as a model.ParsedMail.
// Decoding never fails: unreadable parts are skipped and text that cannot
// be converted from its declared charset is repaired as UTF-8.
package decoder

import (
	"bytes"
	"encoding/base64"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/tracyhatemice/gomailfetch/internal/model"
)

// Placeholder is the body used when no readable content was found.
const Placeholder = "unable to read message content"

// Decoder converts fetched messages.
type Decoder struct {
	logger *slog.Logger
}

// New returns a Decoder that logs degraded parts to logger.
func New(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

type bodyParts struct {
	text        string
	html        string
	images      []model.Attachment
	attachments []model.Attachment
}

// Decode parses raw into a ParsedMail.
func (d *Decoder) Decode(raw []byte) *model.ParsedMail {
	entity, err := message.Read(bytes.NewReader(raw))
	if entity == nil {
		d.logger.Warn("cannot parse message", "error", err)
		return d.fallback(raw)
	}
	if err != nil {
		d.logger.Debug("message read with warnings", "error", err)
	}

	h := mail.Header{Header: entity.Header}
	name, addr := ParseAddress(h.Get("From"))
	_, to := ParseAddress(h.Get("To"))

	var parts bodyParts
	if isMultipart(entity) {
		d.walk(entity, &parts)
	} else {
		d.single(entity, err, &parts)
	}

	pm := &model.ParsedMail{
		Subject:     subject(h),
		From:        FormatSender(name, addr),
		FromEmail:   addr,
		To:          to,
		Date:        FormatDate(h),
		MessageID:   messageID(h),
		Images:      parts.images,
		Attachments: parts.attachments,
	}
	if pm.Images == nil {
		pm.Images = []model.Attachment{}
	}
	if pm.Attachments == nil {
		pm.Attachments = []model.Attachment{}
	}

	switch {
	case parts.html != "":
		pm.BodyType, pm.Body = model.BodyHTML, parts.html
	case parts.text != "":
		pm.BodyType, pm.Body = model.BodyText, parts.text
	case len(parts.images) > 0:
		pm.BodyType, pm.Body = model.BodyImage, Placeholder
	default:
		pm.BodyType, pm.Body = model.BodyText, Placeholder
	}
	return pm
}

// single handles a non-multipart message. Anything that is not HTML is
// taken as plain text.
func (d *Decoder) single(e *message.Entity, readErr error, parts *bodyParts) {
	mediaType, _, _ := e.Header.ContentType()
	content := d.readText(e, readErr)
	if strings.EqualFold(mediaType, "text/html") {
		parts.html = content
		return
	}
	parts.text = content
}

func (d *Decoder) walk(root *message.Entity, parts *bodyParts) {
	err := root.Walk(func(path []int, e *message.Entity, err error) error {
		if isMultipart(e) {
			return nil
		}
		d.part(e, err, parts)
		return nil
	})
	if err != nil {
		d.logger.Warn("multipart walk stopped early", "error", err)
	}
}

func (d *Decoder) part(e *message.Entity, readErr error, parts *bodyParts) {
	mediaType, _, _ := e.Header.ContentType()
	mediaType = strings.ToLower(mediaType)
	if mediaType == "" {
		mediaType = "text/plain"
	}
	disp, _, _ := e.Header.ContentDisposition()
	isAttachment := strings.EqualFold(disp, "attachment")
	ah := mail.AttachmentHeader{Header: e.Header}
	filename, _ := ah.Filename()

	switch {
	case mediaType == "text/plain" && !isAttachment:
		if parts.text == "" {
			parts.text = d.readText(e, readErr)
		}
	case mediaType == "text/html" && !isAttachment:
		if parts.html == "" {
			parts.html = d.readText(e, readErr)
		}
	case strings.HasPrefix(mediaType, "image/"):
		if filename == "" {
			filename = "image." + strings.TrimPrefix(mediaType, "image/")
		}
		a, ok := d.readBinary(e, filename, mediaType)
		if !ok {
			return
		}
		if isAttachment {
			parts.attachments = append(parts.attachments, a)
		} else {
			parts.images = append(parts.images, a)
		}
	case filename != "" || isAttachment:
		if filename == "" {
			filename = "attachment"
		}
		if a, ok := d.readBinary(e, filename, mediaType); ok {
			parts.attachments = append(parts.attachments, a)
		}
	}
}

func (d *Decoder) readText(e *message.Entity, readErr error) string {
	if message.IsUnknownCharset(readErr) {
		d.logger.Debug("unknown charset, decoding as utf-8", "error", readErr)
	}
	b, err := io.ReadAll(e.Body)
	if err != nil {
		d.logger.Debug("partial part body", "error", err, "bytes", len(b))
	}
	return toUTF8(b)
}

func (d *Decoder) readBinary(e *message.Entity, filename, mediaType string) (model.Attachment, bool) {
	b, err := io.ReadAll(e.Body)
	if err != nil {
		d.logger.Warn("skipping unreadable part", "filename", filename, "error", err)
		return model.Attachment{}, false
	}
	if len(b) == 0 {
		return model.Attachment{}, false
	}
	return model.Attachment{
		Filename: filename,
		MIMEType: mediaType,
		Content:  base64.StdEncoding.EncodeToString(b),
	}, true
}

// fallback builds a result from a message whose header block could not
// be read.
func (d *Decoder) fallback(raw []byte) *model.ParsedMail {
	s := ParseSummary(raw)
	from := s.FromAddress
	if from == "" {
		from = Unknown
	}
	return &model.ParsedMail{
		Subject:     s.Subject,
		From:        from,
		FromEmail:   from,
		To:          Unknown,
		Date:        Unknown,
		BodyType:    model.BodyText,
		Body:        Placeholder,
		Images:      []model.Attachment{},
		Attachments: []model.Attachment{},
	}
}

// isMultipart reports whether e can be split into parts. A multipart type
// without a boundary is read as a single part.
func isMultipart(e *message.Entity) bool {
	mediaType, params, _ := e.Header.ContentType()
	return strings.HasPrefix(strings.ToLower(mediaType), "multipart/") && params["boundary"] != ""
}

// toUTF8 replaces invalid UTF-8 sequences with U+FFFD.
func toUTF8(b []byte) string {
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("�")))
	}
	return string(out)
}
