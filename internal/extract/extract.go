// Package extract turns quick-add phrases like "dinner with Alex
// tomorrow at 7pm #datenight" into records. Parsing is heuristic on
// purpose: the phrase comes from a chat bot or a command palette, and a
// slightly wrong guess the user can edit beats a rejection.
package extract

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/errors"
)

// DefaultDuration is assumed when the phrase names a start but no end.
const DefaultDuration = time.Hour

// partnerMarker flags a record as partner-relevant and is stripped from
// the title.
const partnerMarker = "+partner"

// Parser extracts records from natural-language phrases.
type Parser struct {
	w *when.Parser
}

// New builds a parser with the English and common rule sets.
func New() *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w}
}

// Parse builds an unsaved record from a quick-add phrase.
//
// The time phrase is resolved relative to now in the given location, so
// "tomorrow at 7pm" means the user's tomorrow, not the server's. What
// remains after removing the time phrase becomes the title, with three
// kinds of tokens peeled off first:
//
//   - "#tag" tokens become Tags
//   - "+partner" sets PartnerRelevant and is dropped
//   - a trailing "at <place>" becomes Location
//
// "with <name>" also sets PartnerRelevant but stays in the title; it
// reads as part of the phrase. A phrase with no time, or nothing left
// for a title, is rejected.
func (p *Parser) Parse(text string, now time.Time, loc *time.Location) (*domain.Record, error) {
	if loc == nil {
		loc = time.UTC
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.Validation("nothing to parse")
	}

	match, err := p.w.Parse(trimmed, now.In(loc))
	if err != nil {
		return nil, errors.Validationf("parsing %q: %v", trimmed, err)
	}
	if match == nil {
		return nil, errors.Validation("no date or time found in the phrase")
	}

	rec := &domain.Record{
		Start: match.Time,
		End:   match.Time.Add(DefaultDuration),
	}

	remainder := trimmed[:match.Index] + trimmed[match.Index+len(match.Text):]

	var words []string
	for _, tok := range strings.Fields(remainder) {
		switch {
		case strings.EqualFold(tok, partnerMarker):
			rec.PartnerRelevant = true
		case len(tok) > 1 && strings.HasPrefix(tok, "#"):
			rec.Tags = append(rec.Tags, strings.Trim(tok[1:], ",.;:"))
		default:
			words = append(words, tok)
		}
	}

	for i, w := range words {
		if strings.EqualFold(w, "with") && i+1 < len(words) {
			rec.PartnerRelevant = true
			break
		}
	}

	title := words
	if at := lastIndexFold(words, "at"); at >= 0 && at+1 < len(words) {
		rec.Location = trimPhrase(strings.Join(words[at+1:], " "))
		title = words[:at]
	}

	rec.Title = trimPhrase(strings.Join(title, " "))
	if rec.Title == "" {
		return nil, errors.Validation("no title left after removing the time phrase")
	}
	return rec, nil
}

// lastIndexFold returns the last case-insensitive occurrence of word, or
// -1. The last one wins so that places win over phrases like "glance at
// the plan".
func lastIndexFold(words []string, word string) int {
	for i := len(words) - 1; i >= 0; i-- {
		if strings.EqualFold(words[i], word) {
			return i
		}
	}
	return -1
}

// trimPhrase drops the punctuation the time-phrase splice tends to leave
// at the edges.
func trimPhrase(s string) string {
	return strings.Trim(s, " ,.;:-–")
}
