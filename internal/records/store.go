package records

import (
	"context"
	"fmt"

	"github.com/tandemapp/tandem-server/internal/domain"
)

// maxQueryPages caps cursor-following in QueryAll so a server that
// keeps handing back cursors cannot pin a sync pass forever.
const maxQueryPages = 1000

// Query selects records from a database. Zero-value fields are not
// filtered on; the zero Query selects everything live in server order.
type Query struct {
	SourcePrivateID string
	SourceUserID    string
	PartnerRelevant *bool
	SortBy          string
	Descending      bool
	PageSize        int
	Cursor          string
}

// Page is one page of query results.
type Page struct {
	Records    []*domain.Record
	HasMore    bool
	NextCursor string
}

// Store reads and writes one remote database through a flavor-specific
// codec. Stores are cheap to build; credentials, connection pooling and
// rate limiting all live on the underlying client.
type Store struct {
	client     *Client
	databaseID string
	codec      codec
}

// NewPrivateStore returns a store bound to a user's private database.
func NewPrivateStore(c *Client, databaseID string) *Store {
	return &Store{client: c, databaseID: databaseID, codec: privateCodec{}}
}

// NewSharedStore returns a store bound to a couple's shared database.
func NewSharedStore(c *Client, databaseID string) *Store {
	return &Store{client: c, databaseID: databaseID, codec: sharedCodec{}}
}

// DatabaseID returns the remote database this store is bound to.
func (s *Store) DatabaseID() string {
	return s.databaseID
}

// Create writes a new record and returns the store-assigned ID.
func (s *Store) Create(ctx context.Context, r *domain.Record) (string, error) {
	env, err := s.client.createRecord(ctx, s.databaseID, s.codec.encode(r))
	if err != nil {
		return "", wrapError("create", s.databaseID, "", err)
	}
	return env.ID, nil
}

// Get fetches a record by ID. Archived records count as gone and come
// back as ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	env, err := s.client.getRecord(ctx, s.databaseID, id)
	if err != nil {
		return nil, wrapError("get", s.databaseID, id, err)
	}
	if env.Archived {
		return nil, wrapError("get", s.databaseID, id, ErrNotFound)
	}
	return s.codec.decode(env), nil
}

// Update overwrites a record's fields.
func (s *Store) Update(ctx context.Context, id string, r *domain.Record) error {
	if err := s.client.updateRecord(ctx, s.databaseID, id, s.codec.encode(r)); err != nil {
		return wrapError("update", s.databaseID, id, err)
	}
	return nil
}

// Archive soft-deletes a record. Archiving a record that is already
// gone returns ErrNotFound; callers that only want the record absent
// can treat that as success.
func (s *Store) Archive(ctx context.Context, id string) error {
	if err := s.client.archiveRecord(ctx, s.databaseID, id); err != nil {
		return wrapError("archive", s.databaseID, id, err)
	}
	return nil
}

// Query fetches one page of live records matching q.
func (s *Store) Query(ctx context.Context, q Query) (*Page, error) {
	req := queryRequest{
		PageSize: q.PageSize,
		Cursor:   q.Cursor,
	}
	if q.SourcePrivateID != "" || q.SourceUserID != "" || q.PartnerRelevant != nil {
		req.Filter = &queryFilter{
			SourcePrivateID: q.SourcePrivateID,
			SourceUserID:    q.SourceUserID,
			PartnerRelevant: q.PartnerRelevant,
		}
	}
	if q.SortBy != "" {
		direction := "asc"
		if q.Descending {
			direction = "desc"
		}
		req.Sort = &querySort{Field: q.SortBy, Direction: direction}
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	resp, err := s.client.queryRecords(ctx, s.databaseID, req)
	if err != nil {
		return nil, wrapError("query", s.databaseID, "", err)
	}

	page := &Page{
		Records:    make([]*domain.Record, 0, len(resp.Records)),
		HasMore:    resp.HasMore,
		NextCursor: resp.NextCursor,
	}
	for i := range resp.Records {
		if resp.Records[i].Archived {
			continue
		}
		page.Records = append(page.Records, s.codec.decode(&resp.Records[i]))
	}
	return page, nil
}

// QueryAll follows cursors until the query is exhausted and returns
// every live match.
func (s *Store) QueryAll(ctx context.Context, q Query) ([]*domain.Record, error) {
	var all []*domain.Record
	for i := 0; i < maxQueryPages; i++ {
		page, err := s.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Records...)
		if !page.HasMore || page.NextCursor == "" {
			return all, nil
		}
		q.Cursor = page.NextCursor
	}
	return nil, wrapError("query", s.databaseID, "",
		fmt.Errorf("pagination did not terminate after %d pages", maxQueryPages))
}
