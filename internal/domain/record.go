// Package domain contains the core business entities for the Tandem assistant.
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// TitleMaxLen is the maximum number of runes allowed in a record title.
// The hosted records API rejects longer titles with a validation error,
// so we enforce the same limit before going over the wire.
const TitleMaxLen = 200

// Record is a plan entry owned by one user: an appointment, errand, or
// reminder. Records live in remote databases behind the records API; the
// ID is assigned by the store on creation and is empty until the record
// has been persisted.
//
// The cross-reference fields encode the sync relationship between a
// private record and its shared mirror. They are populated exclusively
// by the sync engine, never by user-facing handlers.
type Record struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`

	// PartnerRelevant marks a private record for mirroring into the
	// couple's shared database. On a mirror it is true by construction
	// and is never serialized to the shared store.
	PartnerRelevant bool `json:"partner_relevant"`

	CreatedAt time.Time `json:"created_at,omitempty"`

	// SyncedToSharedID is the private-side pointer to the mirror in the
	// shared store. It may be stale (the mirror can be deleted out of
	// band) and must be verified before use.
	SyncedToSharedID string `json:"synced_to_shared_id,omitempty"`

	// SourcePrivateID and SourceUserID are carried on the shared-side
	// mirror: the private record it was mirrored from and the owning
	// user. Both are empty for records created directly in the shared
	// database by some other means.
	SourcePrivateID string `json:"source_private_id,omitempty"`
	SourceUserID    string `json:"source_user_id,omitempty"`
}

// Validate checks the structural invariants a record must satisfy before
// it can be persisted: a non-empty title within the length limit, a start
// time, and an end time after the start when one is set.
func (r *Record) Validate() error {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return fmt.Errorf("record title must not be empty")
	}
	if utf8.RuneCountInString(title) > TitleMaxLen {
		return fmt.Errorf("record title exceeds %d characters", TitleMaxLen)
	}
	if r.Start.IsZero() {
		return fmt.Errorf("record start time must be set")
	}
	if !r.End.IsZero() && !r.End.After(r.Start) {
		return fmt.Errorf("record end time must be after start time")
	}
	return nil
}

// Persisted reports whether the record has been stored remotely and
// therefore carries a store-assigned identifier.
func (r *Record) Persisted() bool {
	return r.ID != ""
}

// Linked reports whether the private record currently points at a shared
// mirror. The pointer is authoritative but may be stale; callers must
// verify the mirror still exists before relying on it.
func (r *Record) Linked() bool {
	return r.SyncedToSharedID != ""
}

// Mirror builds the shared-store copy of a private record for the given
// owner. Content fields are copied, the cross-reference is set, and the
// mirror is partner-relevant by construction. The mirror's ID is left
// empty; the shared store assigns one on creation.
func (r *Record) Mirror(userID string) *Record {
	m := &Record{
		Title:           r.Title,
		Start:           r.Start,
		End:             r.End,
		Location:        r.Location,
		Description:     r.Description,
		PartnerRelevant: true,
		SourcePrivateID: r.ID,
		SourceUserID:    userID,
	}
	if len(r.Tags) > 0 {
		m.Tags = append([]string(nil), r.Tags...)
	}
	return m
}

// ApplyMirrorFields recomputes a mirror's content from the current state
// of its source record, preserving the mirror's identity and
// cross-reference fields. Used when re-pushing an edit to an existing
// mirror.
func (r *Record) ApplyMirrorFields(src *Record) {
	r.Title = src.Title
	r.Start = src.Start
	r.End = src.End
	r.Location = src.Location
	r.Description = src.Description
	r.Tags = nil
	if len(src.Tags) > 0 {
		r.Tags = append([]string(nil), src.Tags...)
	}
	r.PartnerRelevant = true
}

// ContentEquals reports whether two records carry the same user-visible
// content: title, times, location, description, and tags. Identity and
// cross-reference fields are ignored, so a mirror compares equal to its
// source as long as no edit is pending. Times compare by instant, not by
// timezone representation.
func (r *Record) ContentEquals(o *Record) bool {
	return r.Title == o.Title &&
		r.Start.Equal(o.Start) &&
		r.End.Equal(o.End) &&
		r.Location == o.Location &&
		r.Description == o.Description &&
		slices.Equal(r.Tags, o.Tags)
}

// IsMirrorOf reports whether this shared record was mirrored from the
// given private record.
func (r *Record) IsMirrorOf(privateID string) bool {
	return privateID != "" && r.SourcePrivateID == privateID
}
