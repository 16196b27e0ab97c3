package store

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/tandemapp/tandem-server/internal/domain"
)

// maxRunsPerUser bounds the run history kept per user. Older runs are
// pruned on save; the registry is operational state, not an audit log.
const maxRunsPerUser = 50

// runKey builds "run:<userID>:<reverse-ts>:<runID>". The reversed
// timestamp makes prefix iteration yield the newest runs first.
func runKey(userID string, run *domain.Run) []byte {
	reverse := math.MaxInt64 - run.StartedAt.UnixNano()
	return []byte(fmt.Sprintf("%s%s:%020d:%s", runPrefix, userID, reverse, run.ID))
}

func runUserPrefix(userID string) []byte {
	return []byte(runPrefix + userID + ":")
}

// SaveRun records a reconciliation outcome and prunes history beyond
// maxRunsPerUser.
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.UserID == "" {
		return ErrInvalidInput.WithMessage("run has no user id")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	prefix := runUserPrefix(run.UserID)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(runKey(run.UserID, run), data); err != nil {
			return err
		}

		// Walk newest-first and collect everything past the cap. The
		// iterator sees the pending Set above, so the new run counts.
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		var stale [][]byte
		it := txn.NewIterator(opts)
		seen := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			seen++
			if seen > maxRunsPerUser {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("prune run: %w", err)
			}
		}
		return nil
	})
}

// ListRuns returns a user's most recent runs, newest first, at most
// limit entries. limit <= 0 means the full retained history.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]*domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxRunsPerUser {
		limit = maxRunsPerUser
	}

	prefix := runUserPrefix(userID)
	var runs []*domain.Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(runs) < limit; it.Next() {
			var run domain.Run
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				return fmt.Errorf("unmarshal run: %w", err)
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// deleteRuns drops a user's entire run history.
func (s *Store) deleteRuns(userID string) error {
	prefix := runUserPrefix(userID)
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
