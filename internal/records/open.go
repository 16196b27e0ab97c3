package records

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/ratelimit"
)

// Handles bundles the per-user stores a sync pass works with. The
// shared handle is nil until the user is paired.
type Handles struct {
	Private *Store
	Shared  *Store
}

// Opener builds per-user database handles. Clients are cached per
// token so connection pools are reused; handles themselves are rebuilt
// on every call so credential rotation in the registry takes effect on
// the next sync, not after a restart.
type Opener struct {
	cfg     Config
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewOpener creates an opener. It owns the per-database rate limiter
// shared by every client it hands out; call Close when done.
func NewOpener(cfg Config, logger *slog.Logger) *Opener {
	cfg = cfg.withDefaults()
	return &Opener{
		cfg:     cfg,
		limiter: ratelimit.New(cfg.RPS, cfg.Burst),
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// ForUser returns handles for the user's databases. The private handle
// is always present; the shared handle is nil when the user is not
// paired for sync.
func (o *Opener) ForUser(u *domain.User) (*Handles, error) {
	if u.PrivateDatabaseID == "" || u.PrivateToken == "" {
		return nil, wrapError("open", "", "",
			fmt.Errorf("user %s has no private database credentials", u.ID))
	}
	h := &Handles{
		Private: NewPrivateStore(o.client(u.PrivateToken), u.PrivateDatabaseID),
	}
	if u.SyncEnabled() {
		h.Shared = NewSharedStore(o.client(u.SharedCredential()), u.SharedDatabaseID)
	}
	return h, nil
}

// Ping probes the records service. Health checks use it.
func (o *Opener) Ping(ctx context.Context) error {
	return o.client("").Ping(ctx)
}

// Close stops the shared rate limiter and drops cached clients.
func (o *Opener) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limiter.Stop()
	clear(o.clients)
}

func (o *Opener) client(token string) *Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[token]; ok {
		return c
	}
	c := NewClient(o.cfg, token, o.limiter, o.logger)
	o.clients[token] = c
	return c
}
