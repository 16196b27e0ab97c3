package providers

import (
	"github.com/samber/do/v2"

	"github.com/tandemapp/tandem-server/internal/backoff"
	"github.com/tandemapp/tandem-server/internal/config"
	"github.com/tandemapp/tandem-server/internal/logger"
	"github.com/tandemapp/tandem-server/internal/sync"
)

// ProvideSyncEngine provides the record synchronization engine.
func ProvideSyncEngine(i do.Injector) (*sync.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	openerHandle := do.MustInvoke[*OpenerHandle](i)

	engine := sync.NewEngine(
		sync.NewOpener(openerHandle.Opener),
		storeHandle.Store,
		sync.Config{
			Policy: backoff.Policy{
				MaxRetries:   cfg.Sync.MaxRetries,
				InitialDelay: cfg.Sync.InitialBackoff,
				Factor:       cfg.Sync.BackoffFactor,
				MaxDelay:     cfg.Sync.MaxBackoff,
			},
			Timeout: cfg.Sync.Timeout,
		},
		log.Logger,
	)

	return engine, nil
}

// SyncLoopHandle wraps the background reconciliation loop with shutdown
// capability. The loop is nil when disabled by configuration.
type SyncLoopHandle struct {
	*sync.Loop
	started bool
}

// Shutdown implements do.Shutdownable.
func (h *SyncLoopHandle) Shutdown() error {
	if h.started && h.Loop != nil {
		h.Loop.Stop()
	}
	return nil
}

// ProvideSyncLoop provides the scheduled reconciliation loop. It
// depends on the seed import so the initial pass covers seeded users.
func ProvideSyncLoop(i do.Injector) (*SyncLoopHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	engine := do.MustInvoke[*sync.Engine](i)
	_ = do.MustInvoke[*SeedState](i)

	if !cfg.Sync.LoopEnabled {
		log.Info("Background sync disabled by configuration")
		return &SyncLoopHandle{}, nil
	}

	loop, err := sync.NewLoop(engine, storeHandle.Store, sync.LoopConfig{
		Schedule: cfg.Sync.Schedule,
	}, log.Logger)
	if err != nil {
		return nil, err
	}

	loop.Start()

	return &SyncLoopHandle{Loop: loop, started: true}, nil
}
