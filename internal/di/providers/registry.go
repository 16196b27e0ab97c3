package providers

import (
	"context"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/tandemapp/tandem-server/internal/config"
	"github.com/tandemapp/tandem-server/internal/logger"
	"github.com/tandemapp/tandem-server/internal/store"
)

// StoreHandle wraps the registry store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideRegistry provides the user registry.
func ProvideRegistry(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	dbPath := filepath.Join(cfg.Data.BasePath, "registry")
	db, err := store.New(dbPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Registry initialized", "path", dbPath)

	return &StoreHandle{Store: db}, nil
}

// SeedState reports the startup seed import.
type SeedState struct {
	Path   string
	Result *store.SeedResult
}

// ProvideSeedState imports the users seed file at startup. With no seed
// path configured the registry starts as-is and users are managed via
// the API; a configured but unreadable seed file fails startup.
func ProvideSeedState(i do.Injector) (*SeedState, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	if cfg.Seed.Path == "" {
		log.Info("No seed file configured - users are managed via API")
		return &SeedState{}, nil
	}

	result, err := storeHandle.ImportSeedFile(context.Background(), cfg.Seed.Path)
	if err != nil {
		return nil, err
	}

	log.Info("Seed file imported",
		"path", cfg.Seed.Path,
		"added", result.Added,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
	)

	return &SeedState{Path: cfg.Seed.Path, Result: result}, nil
}

// SeedWatcherHandle wraps the seed file watcher with shutdown
// capability. The watcher is nil when seeding or watching is disabled.
type SeedWatcherHandle struct {
	*store.SeedWatcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SeedWatcherHandle) Shutdown() error {
	if h.SeedWatcher == nil {
		return nil
	}
	h.cancel()
	return h.SeedWatcher.Stop()
}

// ProvideSeedWatcher provides hot reload of the seed file.
func ProvideSeedWatcher(i do.Injector) (*SeedWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	seed := do.MustInvoke[*SeedState](i)

	if seed.Path == "" || !cfg.Seed.Watch {
		return &SeedWatcherHandle{}, nil
	}

	w, err := store.NewSeedWatcher(storeHandle.Store, seed.Path, log.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	return &SeedWatcherHandle{SeedWatcher: w, cancel: cancel}, nil
}
