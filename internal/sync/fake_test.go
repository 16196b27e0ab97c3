package sync_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tandemapp/tandem-server/internal/backoff"
	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/records"
	"github.com/tandemapp/tandem-server/internal/sync"
)

// fakeStore is an in-memory stand-in for one remote records database. It
// reproduces the semantics the engine leans on: store-assigned IDs,
// archived records reading as not found, provenance and relevance
// filters on queries, and deterministic listing order. Failures can be
// scripted per operation to drive the retry policy; each scripted error
// is consumed by one call.
type fakeStore struct {
	id       string
	seq      int
	order    []string
	recs     map[string]*domain.Record
	archived map[string]bool

	fail    map[string][]error
	panicOn map[string]bool
	calls   map[string]int
}

func newFakeStore(id string) *fakeStore {
	return &fakeStore{
		id:       id,
		recs:     make(map[string]*domain.Record),
		archived: make(map[string]bool),
		fail:     make(map[string][]error),
		panicOn:  make(map[string]bool),
		calls:    make(map[string]int),
	}
}

// failWith queues errors for the named operation, consumed one per call.
func (f *fakeStore) failWith(op string, errs ...error) {
	f.fail[op] = append(f.fail[op], errs...)
}

func (f *fakeStore) scripted(op string) error {
	f.calls[op]++
	if f.panicOn[op] {
		panic("records store exploded")
	}
	q := f.fail[op]
	if len(q) == 0 {
		return nil
	}
	f.fail[op] = q[1:]
	return q[0]
}

func cloneRecord(r *domain.Record) *domain.Record {
	c := *r
	if len(r.Tags) > 0 {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return &c
}

// put seeds a record without consuming scripted failures. Records without
// an ID get one assigned. The stored copy is returned so tests can hold a
// handle that matches what the store has.
func (f *fakeStore) put(r *domain.Record) *domain.Record {
	c := cloneRecord(r)
	if c.ID == "" {
		f.seq++
		c.ID = fmt.Sprintf("%s-%d", f.id, f.seq)
	}
	if _, ok := f.recs[c.ID]; !ok {
		f.order = append(f.order, c.ID)
	}
	f.recs[c.ID] = c
	f.archived[c.ID] = false
	return cloneRecord(c)
}

// live returns the unarchived records in insertion order.
func (f *fakeStore) live() []*domain.Record {
	var out []*domain.Record
	for _, id := range f.order {
		if !f.archived[id] {
			out = append(out, cloneRecord(f.recs[id]))
		}
	}
	return out
}

// stored returns the current stored copy regardless of archive state.
func (f *fakeStore) stored(id string) *domain.Record {
	r, ok := f.recs[id]
	if !ok {
		return nil
	}
	return cloneRecord(r)
}

func (f *fakeStore) DatabaseID() string { return f.id }

func (f *fakeStore) Create(_ context.Context, r *domain.Record) (string, error) {
	if err := f.scripted("create"); err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("%s-%d", f.id, f.seq)
	c := cloneRecord(r)
	c.ID = id
	f.recs[id] = c
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*domain.Record, error) {
	if err := f.scripted("get"); err != nil {
		return nil, err
	}
	r, ok := f.recs[id]
	if !ok || f.archived[id] {
		return nil, records.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (f *fakeStore) Update(_ context.Context, id string, r *domain.Record) error {
	if err := f.scripted("update"); err != nil {
		return err
	}
	if _, ok := f.recs[id]; !ok || f.archived[id] {
		return records.ErrNotFound
	}
	c := cloneRecord(r)
	c.ID = id
	f.recs[id] = c
	return nil
}

func (f *fakeStore) Archive(_ context.Context, id string) error {
	if err := f.scripted("archive"); err != nil {
		return err
	}
	if _, ok := f.recs[id]; !ok || f.archived[id] {
		return records.ErrNotFound
	}
	f.archived[id] = true
	return nil
}

func (f *fakeStore) QueryAll(_ context.Context, q records.Query) ([]*domain.Record, error) {
	if err := f.scripted("query"); err != nil {
		return nil, err
	}
	var out []*domain.Record
	for _, id := range f.order {
		if f.archived[id] {
			continue
		}
		r := f.recs[id]
		if q.SourcePrivateID != "" && r.SourcePrivateID != q.SourcePrivateID {
			continue
		}
		if q.SourceUserID != "" && r.SourceUserID != q.SourceUserID {
			continue
		}
		if q.PartnerRelevant != nil && r.PartnerRelevant != *q.PartnerRelevant {
			continue
		}
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

// fakeOpener hands out store pairs per user. A nil shared store models an
// unpaired user; errs scripts per-user open failures.
type fakeOpener struct {
	privates map[string]*fakeStore
	shared   *fakeStore
	errs     map[string]error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		privates: make(map[string]*fakeStore),
		errs:     make(map[string]error),
	}
}

// privateFor returns the user's private store, creating an empty one on
// first use so tests can seed it before or after building the opener.
func (f *fakeOpener) privateFor(userID string) *fakeStore {
	p, ok := f.privates[userID]
	if !ok {
		p = newFakeStore("priv-" + userID)
		f.privates[userID] = p
	}
	return p
}

func (f *fakeOpener) ForUser(u *domain.User) (sync.Stores, error) {
	if err := f.errs[u.ID]; err != nil {
		return sync.Stores{}, err
	}
	s := sync.Stores{Private: f.privateFor(u.ID)}
	if f.shared != nil {
		s.Shared = f.shared
	}
	return s, nil
}

type fakeRecorder struct {
	runs []*domain.Run
	err  error
}

func (f *fakeRecorder) SaveRun(_ context.Context, run *domain.Run) error {
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, run)
	return nil
}

type fakeUserSource struct {
	users []*domain.User
	err   error
	calls atomic.Int32
}

func (f *fakeUserSource) ListUsers(context.Context) ([]*domain.User, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.users, nil
}

// testPolicy retries twice with negligible delays so failure-path tests
// stay fast.
var testPolicy = backoff.Policy{
	MaxRetries:   2,
	InitialDelay: time.Millisecond,
	Factor:       1,
	MaxDelay:     time.Millisecond,
}

func newTestEngine(opener sync.Opener, runs sync.RunRecorder) *sync.Engine {
	return sync.NewEngine(opener, runs, sync.Config{Policy: testPolicy}, nil)
}

func testUser(id string) *domain.User {
	return &domain.User{
		Tracked:           domain.Tracked{ID: id},
		DisplayName:       "Dana",
		PrivateDatabaseID: "db-" + id,
		PrivateToken:      "tok-" + id,
		SharedDatabaseID:  "db-shared",
		SharedAccess:      domain.AccessOwner,
	}
}

func testRecord(title string) *domain.Record {
	return &domain.Record{
		Title:           title,
		Start:           time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC),
		End:             time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		Location:        "Café Luna",
		PartnerRelevant: true,
	}
}
