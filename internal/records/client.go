// Package records is a client for the hosted records API: the remote
// database service holding each user's private plans and the couple's
// shared database. The API is transactionless; every call here is a
// single record-level operation, and anything multi-step built on top
// must tolerate partial completion.
package records

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tandemapp/tandem-server/internal/ratelimit"
)

const (
	// Rate limit: 3 requests per second per database, burst of 5. The
	// hosted service enforces its own limits; staying under them keeps
	// 429s rare.
	defaultRPS   = 3.0
	defaultBurst = 5

	// HTTP client settings
	defaultTimeout = 30 * time.Second

	// Query pagination
	defaultPageSize = 100
	maxPageSize     = 100

	// headerVersion pins the wire format we speak.
	headerVersion  = "X-Records-Version"
	defaultVersion = "2024-01"
)

// Config carries connection settings for the records service, usually
// populated from the application config. Zero fields fall back to the
// package defaults.
type Config struct {
	BaseURL string
	Version string // value for the X-Records-Version header
	Timeout time.Duration
	RPS     float64 // per-database request rate
	Burst   int
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = defaultVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RPS <= 0 {
		c.RPS = defaultRPS
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	return c
}

// Client is a rate-limited HTTP client for the records API, bound to a
// single integration token. The limiter is keyed by database ID and
// shared between clients, so per-database rates hold no matter how many
// tokens reach the same database.
type Client struct {
	http    *http.Client
	baseURL string
	version string
	token   string
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// NewClient creates a client for one integration token.
func NewClient(cfg Config, token string, limiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		version: cfg.Version,
		token:   token,
		limiter: limiter,
		logger:  logger,
	}
}

// Ping probes the service root without touching any database. Health
// checks use it; the endpoint needs no token.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/ping", "", nil, nil)
}

// recordEnvelope is the wire shape of a single record.
type recordEnvelope struct {
	ID          string    `json:"id"`
	CreatedTime time.Time `json:"created_time"`
	Archived    bool      `json:"archived,omitempty"`
	Fields      payload   `json:"fields"`
}

type createRequest struct {
	Fields payload `json:"fields"`
}

type updateRequest struct {
	Fields payload `json:"fields"`
}

// queryFilter matches records by exact field value. Zero fields are
// not filtered on.
type queryFilter struct {
	SourcePrivateID string `json:"source_private_id,omitempty"`
	SourceUserID    string `json:"source_user_id,omitempty"`
	PartnerRelevant *bool  `json:"partner_relevant,omitempty"`
}

type querySort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type queryRequest struct {
	Filter   *queryFilter `json:"filter,omitempty"`
	Sort     *querySort   `json:"sort,omitempty"`
	PageSize int          `json:"page_size,omitempty"`
	Cursor   string       `json:"cursor,omitempty"`
}

type queryResponse struct {
	Records    []recordEnvelope `json:"records"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (c *Client) createRecord(ctx context.Context, database string, fields payload) (*recordEnvelope, error) {
	var env recordEnvelope
	path := "/v1/databases/" + database + "/records"
	if err := c.do(ctx, http.MethodPost, path, database, createRequest{Fields: fields}, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *Client) getRecord(ctx context.Context, database, recordID string) (*recordEnvelope, error) {
	var env recordEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/records/"+recordID, database, nil, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *Client) updateRecord(ctx context.Context, database, recordID string, fields payload) error {
	return c.do(ctx, http.MethodPatch, "/v1/records/"+recordID, database, updateRequest{Fields: fields}, nil)
}

func (c *Client) archiveRecord(ctx context.Context, database, recordID string) error {
	return c.do(ctx, http.MethodPost, "/v1/records/"+recordID+"/archive", database, nil, nil)
}

func (c *Client) queryRecords(ctx context.Context, database string, q queryRequest) (*queryResponse, error) {
	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/v1/databases/"+database+"/query", database, q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes one API call: wait for the rate limiter, send, map the
// status code onto the package sentinels. database keys the limiter and
// may be empty for endpoints that touch no database.
func (c *Client) do(ctx context.Context, method, path, database string, in, out any) error {
	if database != "" {
		if err := c.limiter.Wait(ctx, database); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerVersion, c.version)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("records request",
		"method", method,
		"path", path,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		// No HTTP response at all. Join keeps context errors visible to
		// errors.Is alongside the sentinel.
		return errors.Join(ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(string(data)))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return ErrServer
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}
}
