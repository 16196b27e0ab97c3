// Package dedup implements content fingerprinting for duplicate record
// detection.
//
// A fingerprint collapses a record to the fields a human would use to
// recognize "the same appointment": title, start minute, and location.
// Two records with equal fingerprints are treated as duplicates even if
// their descriptions or tags differ. The mapping is deliberately lossy;
// it exists to recover lost sync links, not to compare full content.
package dedup

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tandemapp/tandem-server/internal/domain"
)

// sep joins fingerprint fields. The unit separator never survives text
// normalization, so fields cannot bleed into each other.
const sep = "\x1f"

// Fingerprint derives the duplicate-detection key for a record:
// the normalized title, the start time truncated to the minute in UTC,
// and the normalized location.
//
// Examples that fingerprint identically:
//
//	"Dentist  Appointment" and "dentist appointment"
//	starts at 15:04:05 and 15:04:59 on the same day
//	the same instant expressed in different timezones
func Fingerprint(r *domain.Record) string {
	var b strings.Builder
	b.WriteString(NormalizeText(r.Title))
	b.WriteString(sep)
	if !r.Start.IsZero() {
		b.WriteString(r.Start.UTC().Truncate(time.Minute).Format(time.RFC3339))
	}
	b.WriteString(sep)
	b.WriteString(NormalizeText(r.Location))
	return b.String()
}

// NormalizeText canonicalizes free-form text for comparison:
//  1. Unicode NFKC normalization (full-width forms, ligatures)
//  2. Case folding
//  3. Whitespace trimmed and collapsed to single spaces
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	// Casers are stateful; build one per call rather than sharing.
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// OwnedBy returns a candidate filter accepting only records mirrored on
// behalf of the given user.
func OwnedBy(userID string) func(*domain.Record) bool {
	return func(r *domain.Record) bool {
		return r.SourceUserID == userID
	}
}

// FindMatch returns the first candidate sharing the target's fingerprint
// and accepted by keep. A nil keep accepts every candidate. Candidates
// are scanned in order, so callers control tie-breaking by ordering the
// slice. Returns nil if nothing matches.
func FindMatch(target *domain.Record, candidates []*domain.Record, keep func(*domain.Record) bool) *domain.Record {
	want := Fingerprint(target)
	for _, c := range candidates {
		if c == nil || c == target {
			continue
		}
		if keep != nil && !keep(c) {
			continue
		}
		if Fingerprint(c) == want {
			return c
		}
	}
	return nil
}

// Groups partitions records into duplicate clusters, returning only
// clusters with at least two members. Clusters appear in the order their
// first member appears in the input, and members keep input order.
func Groups(records []*domain.Record) [][]*domain.Record {
	byPrint := make(map[string][]*domain.Record)
	var order []string

	for _, r := range records {
		if r == nil {
			continue
		}
		fp := Fingerprint(r)
		if _, seen := byPrint[fp]; !seen {
			order = append(order, fp)
		}
		byPrint[fp] = append(byPrint[fp], r)
	}

	var groups [][]*domain.Record
	for _, fp := range order {
		if members := byPrint[fp]; len(members) >= 2 {
			groups = append(groups, members)
		}
	}
	return groups
}
