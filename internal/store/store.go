// Package store is the local registry: a small BadgerDB holding user
// configurations and reconciliation run history. Plan records never
// live here; those stay in the remote records databases.
package store

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/tandemapp/tandem-server/internal/domain"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// Users holds pair-member configurations keyed by user ID.
	Users *Entity[domain.User]
}

// New opens the registry at the given path. A nil logger discards.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Credentials and run history must survive crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger,
	}
	store.Users = NewEntity[domain.User](store, userPrefix)

	logger.Info("registry opened", "path", path)

	return store, nil
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	s.logger.Info("closing registry")
	return s.db.Close()
}
