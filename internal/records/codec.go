package records

import (
	"time"

	"github.com/tandemapp/tandem-server/internal/domain"
)

// payload is the fields object of a record envelope. One wire shape
// serves both database flavors; the codecs decide which bookkeeping
// fields actually cross the wire in each direction.
type payload struct {
	Title       string     `json:"title"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`

	// Private databases only.
	PartnerRelevant  *bool   `json:"partner_relevant,omitempty"`
	SyncedToSharedID *string `json:"synced_to_shared_id,omitempty"`

	// Shared databases only.
	SourcePrivateID string `json:"source_private_id,omitempty"`
	SourceUserID    string `json:"source_user_id,omitempty"`
}

// codec translates between domain records and the wire payload of one
// database flavor.
type codec interface {
	encode(r *domain.Record) payload
	decode(env *recordEnvelope) *domain.Record
}

// privateCodec serializes records for a user's private database: the
// relevance flag and the pointer at the shared mirror travel, mirror
// provenance never does.
type privateCodec struct{}

func (privateCodec) encode(r *domain.Record) payload {
	p := basePayload(r)
	relevant := r.PartnerRelevant
	p.PartnerRelevant = &relevant
	// The pointer is serialized even when empty. Clearing a stale link
	// must reach the wire, and omitted fields keep their previous value
	// under PATCH semantics.
	pointer := r.SyncedToSharedID
	p.SyncedToSharedID = &pointer
	return p
}

func (privateCodec) decode(env *recordEnvelope) *domain.Record {
	r := baseRecord(env)
	if env.Fields.PartnerRelevant != nil {
		r.PartnerRelevant = *env.Fields.PartnerRelevant
	}
	if env.Fields.SyncedToSharedID != nil {
		r.SyncedToSharedID = *env.Fields.SyncedToSharedID
	}
	return r
}

// sharedCodec serializes records for the couple's shared database.
// Mirrors carry provenance (source record and owning user) and are
// partner-relevant by construction, so the flag itself stays off the
// wire in this flavor.
type sharedCodec struct{}

func (sharedCodec) encode(r *domain.Record) payload {
	p := basePayload(r)
	p.SourcePrivateID = r.SourcePrivateID
	p.SourceUserID = r.SourceUserID
	return p
}

func (sharedCodec) decode(env *recordEnvelope) *domain.Record {
	r := baseRecord(env)
	r.PartnerRelevant = true
	r.SourcePrivateID = env.Fields.SourcePrivateID
	r.SourceUserID = env.Fields.SourceUserID
	return r
}

// basePayload copies the content fields every flavor shares.
func basePayload(r *domain.Record) payload {
	p := payload{
		Title:       r.Title,
		Start:       r.Start,
		Location:    r.Location,
		Description: r.Description,
	}
	if !r.End.IsZero() {
		end := r.End
		p.End = &end
	}
	if len(r.Tags) > 0 {
		p.Tags = append([]string(nil), r.Tags...)
	}
	return p
}

// baseRecord rebuilds the content fields every flavor shares.
func baseRecord(env *recordEnvelope) *domain.Record {
	r := &domain.Record{
		ID:          env.ID,
		Title:       env.Fields.Title,
		Start:       env.Fields.Start,
		Location:    env.Fields.Location,
		Description: env.Fields.Description,
		CreatedAt:   env.CreatedTime,
	}
	if env.Fields.End != nil {
		r.End = *env.Fields.End
	}
	if len(env.Fields.Tags) > 0 {
		r.Tags = append([]string(nil), env.Fields.Tags...)
	}
	return r
}
