// Package fetcher retrieves the latest matching message from one mailbox.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracyhatemice/gomailfetch/internal/decoder"
	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
	"github.com/tracyhatemice/gomailfetch/internal/model"
	"github.com/tracyhatemice/gomailfetch/internal/receiver"
	"github.com/tracyhatemice/gomailfetch/internal/transport"
)

// Result messages.
const (
	MsgNoMail        = "no mail matches the criteria in the mailbox"
	msgNoFilterMatch = "no mail matches filters (%s)"
	msgFailed        = "failed to fetch mail: "
)

// Options configures a Fetcher.
type Options struct {
	// Mailbox defaults to INBOX.
	Mailbox   string
	IOTimeout time.Duration
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Fetcher runs one fetch per call. It keeps no state between calls.
type Fetcher struct {
	resolver  *transport.Resolver
	decoder   *decoder.Decoder
	mailbox   string
	ioTimeout time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Fetcher that connects through resolver.
func New(resolver *transport.Resolver, opts Options) *Fetcher {
	f := &Fetcher{
		resolver:  resolver,
		mailbox:   opts.Mailbox,
		ioTimeout: opts.IOTimeout,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if f.mailbox == "" {
		f.mailbox = "INBOX"
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.decoder = decoder.New(f.logger)
	return f
}

// Fetch returns the newest message in account's mailbox satisfying c.
// The result is always usable; err is the typed failure behind an
// unsuccessful result and nil otherwise.
func (f *Fetcher) Fetch(ctx context.Context, account model.MailAccount, c model.FilterCriteria) (model.FetchResult, error) {
	result := model.FetchResult{Proxy: f.resolver.Proxy.Echo()}

	mail, msg, err := f.fetch(ctx, account, c)
	if err != nil {
		err = mailerr.Annotate(err, f.resolver.Route())
		f.logger.Error("fetch failed", "server", account.Addr(), "kind", mailerr.KindOf(err).String(), "error", err)
		result.Message = msgFailed + err.Error()
		return result, err
	}
	result.Success = true
	result.Mail = mail
	result.Message = msg
	return result, nil
}

func (f *Fetcher) fetch(ctx context.Context, account model.MailAccount, c model.FilterCriteria) (*model.ParsedMail, string, error) {
	f.logger.Info("fetching latest mail",
		"server", account.Addr(),
		"route", f.resolver.Route().String(),
		"filters", c.Describe(),
	)

	session, err := receiver.Dial(ctx, f.resolver, account, &receiver.Options{IOTimeout: f.ioTimeout, Logger: f.logger})
	if err != nil {
		return nil, "", err
	}
	defer session.Close()

	if err := session.Login(ctx); err != nil {
		return nil, "", err
	}
	if err := session.SelectMailbox(ctx, f.mailbox); err != nil {
		return nil, "", err
	}

	sel, err := receiver.SelectLatest(ctx, session, c, f.now(), f.logger)
	if err != nil {
		return nil, "", err
	}
	if !sel.Found {
		if sel.Candidates == 0 || !c.HasHeaderFilters() {
			f.logger.Info("no mail found", "filters", c.Describe())
			return nil, MsgNoMail, nil
		}
		f.logger.Info("no mail matches filters", "candidates", sel.Candidates, "scanned", sel.Scanned)
		return nil, fmt.Sprintf(msgNoFilterMatch, c.DescribeHeaderFilters()), nil
	}

	email, err := session.FetchMessage(ctx, sel.SeqNum)
	if err != nil {
		return nil, "", err
	}
	mail := f.decoder.Decode(email.Content)
	if c.Active() {
		mail.FilterApplied = c.Describe()
	}
	f.logger.Info("fetched mail", "seq", sel.SeqNum, "message_id", mail.MessageID, "body_type", mail.BodyType)
	return mail, "", nil
}
