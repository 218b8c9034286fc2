package receiver

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/tracyhatemice/gomailfetch/internal/decoder"
	"github.com/tracyhatemice/gomailfetch/internal/mailerr"
	"github.com/tracyhatemice/gomailfetch/internal/model"
)

// Selection is the outcome of SelectLatest.
type Selection struct {
	SeqNum uint32
	// Found is false when the mailbox is empty or nothing matched.
	Found bool
	// Candidates is how many messages the server search returned.
	Candidates int
	// Scanned is how many header blocks were fetched.
	Scanned int
}

// SelectLatest picks the newest message satisfying c. The day window is
// evaluated by the server; sender and keyword criteria are checked locally
// against From and Subject, newest first, stopping at the first match.
// Only header fields are fetched while scanning.
func SelectLatest(ctx context.Context, mb Mailbox, c model.FilterCriteria, now time.Time, logger *slog.Logger) (Selection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var since time.Time
	if c.HasDays() {
		since = now.AddDate(0, 0, -*c.Days)
	}
	ids, err := mb.Search(ctx, since)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{Candidates: len(ids)}
	if len(ids) == 0 {
		return sel, nil
	}
	ids = slices.Clone(ids)
	slices.Sort(ids)
	slices.Reverse(ids)

	if !c.HasHeaderFilters() {
		sel.SeqNum, sel.Found = ids[0], true
		return sel, nil
	}

	for _, id := range ids {
		raw, err := mb.FetchHeaders(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return sel, ctx.Err()
			}
			// A rejected fetch affects one message; anything else means
			// the connection is gone.
			if !mailerr.Is(err, mailerr.KindFetch) {
				return sel, err
			}
			logger.Warn("skipping message, header fetch failed", "seq", id, "error", err)
			continue
		}
		sel.Scanned++
		if Matches(decoder.ParseSummary(raw), c) {
			sel.SeqNum, sel.Found = id, true
			return sel, nil
		}
	}
	return sel, nil
}

// Matches reports whether a message's sender and subject satisfy the
// sender and keyword criteria. Absent criteria match everything.
func Matches(s decoder.Summary, c model.FilterCriteria) bool {
	return containsAny(strings.ToLower(s.FromAddress), c.Senders) &&
		containsAny(strings.ToLower(s.Subject), c.Keywords)
}

func containsAny(haystack string, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
