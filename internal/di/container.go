// Package di provides dependency injection configuration for the Tandem server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/tandemapp/tandem-server/internal/config"
	"github.com/tandemapp/tandem-server/internal/di/providers"
	"github.com/tandemapp/tandem-server/internal/logger"
	"github.com/tandemapp/tandem-server/internal/sync"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Registry layer
	do.Provide(injector, providers.ProvideRegistry)
	do.Provide(injector, providers.ProvideSeedState)
	do.Provide(injector, providers.ProvideSeedWatcher)

	// Records access
	do.Provide(injector, providers.ProvideRecordsOpener)

	// Sync layer
	do.Provide(injector, providers.ProvideSyncEngine)
	do.Provide(injector, providers.ProvideSyncLoop)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services in dependency order, stopping at
// the first failure.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SeedState](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.OpenerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*sync.Engine](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SyncLoopHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SeedWatcherHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}
	return nil
}
