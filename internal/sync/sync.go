// Package sync mirrors partner-relevant records from each user's private
// database into the couple's shared database.
//
// Key design principles:
//   - The remote stores are the only state. Nothing about a record's sync
//     status is kept locally; it is derived from the cross-reference
//     fields on every pass.
//   - Passes converge, they do not transact. A pass is allowed to finish
//     with drift remaining (a failed create, an unreached orphan) because
//     the next pass picks up where it left off.
//   - Records of one user are processed strictly in order. Two in-flight
//     syncs for the same record could race to create two mirrors; the
//     content-fingerprint fallback exists for cross-user races only.
package sync

import (
	"context"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/records"
)

// RecordStore is the slice of the records client the engine needs. It is
// satisfied by *records.Store; tests substitute an in-memory fake.
type RecordStore interface {
	DatabaseID() string
	Create(ctx context.Context, r *domain.Record) (string, error)
	Get(ctx context.Context, id string) (*domain.Record, error)
	Update(ctx context.Context, id string, r *domain.Record) error
	Archive(ctx context.Context, id string) error
	QueryAll(ctx context.Context, q records.Query) ([]*domain.Record, error)
}

// Stores bundles the two handles one user's sync works against. Shared
// is nil until the user is paired; every sync for such a user is a
// no-op skip.
type Stores struct {
	Private RecordStore
	Shared  RecordStore
}

// Opener builds per-user store handles. Handles are requested fresh for
// every operation so credential rotation takes effect without a restart.
type Opener interface {
	ForUser(u *domain.User) (Stores, error)
}

// RunRecorder persists reconciliation outcomes. The registry implements
// it; a nil recorder disables history.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

// NewOpener adapts the records opener to the engine's interface.
func NewOpener(o *records.Opener) Opener {
	return recordsOpener{o}
}

type recordsOpener struct {
	o *records.Opener
}

func (a recordsOpener) ForUser(u *domain.User) (Stores, error) {
	h, err := a.o.ForUser(u)
	if err != nil {
		return Stores{}, err
	}
	s := Stores{Private: h.Private}
	// Assign through the nil check so an unpaired user ends up with a
	// nil interface, not an interface holding a nil pointer.
	if h.Shared != nil {
		s.Shared = h.Shared
	}
	return s, nil
}
