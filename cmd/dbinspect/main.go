// Package main dumps a summary of the Tandem registry for debugging.
// The database is opened read-only; tokens are never printed.
package main

import (
	"encoding/json/v2"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tandemapp/tandem-server/internal/domain"
)

func main() {
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = os.ExpandEnv("$HOME/Tandem/data")
	}
	dbPath := filepath.Join(dataPath, "registry")

	opts := badger.DefaultOptions(dbPath).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open registry: %v", err)
	}
	defer db.Close()

	fmt.Println("=== Registry Inspection ===")
	fmt.Println()

	userCount := 0
	pairedCount := 0
	totalRuns := 0

	err = db.View(func(txn *badger.Txn) error {
		userOpts := badger.DefaultIteratorOptions
		userOpts.Prefix = []byte("user:")
		it := txn.NewIterator(userOpts)

		var users []domain.User
		for it.Seek([]byte("user:")); it.ValidForPrefix([]byte("user:")); it.Next() {
			var user domain.User
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			})
			if err != nil {
				log.Printf("Error reading user %s: %v", it.Item().Key(), err)
				continue
			}
			users = append(users, user)
		}
		it.Close()

		for _, user := range users {
			userCount++
			if user.SyncEnabled() {
				pairedCount++
			}

			fmt.Printf("User: %s\n", user.DisplayName)
			fmt.Printf("  ID: %s\n", user.ID)
			fmt.Printf("  Private DB: %s\n", user.PrivateDatabaseID)
			if user.SharedDatabaseID != "" {
				fmt.Printf("  Shared DB: %s (%s access)\n", user.SharedDatabaseID, user.SharedAccess)
			} else {
				fmt.Printf("  Shared DB: (not paired)\n")
			}
			if user.Timezone != "" {
				fmt.Printf("  Timezone: %s\n", user.Timezone)
			}
			fmt.Printf("  Created: %s\n", user.CreatedAt.Format(time.RFC3339))

			// Run keys sort newest first, so the first few are the
			// most recent.
			runPrefix := []byte("run:" + user.ID + ":")
			runOpts := badger.DefaultIteratorOptions
			runOpts.Prefix = runPrefix
			rit := txn.NewIterator(runOpts)

			runCount := 0
			shown := 0
			for rit.Seek(runPrefix); rit.ValidForPrefix(runPrefix); rit.Next() {
				runCount++
				if shown >= 3 {
					continue
				}
				var run domain.Run
				err := rit.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &run)
				})
				if err != nil {
					log.Printf("Error reading run %s: %v", rit.Item().Key(), err)
					continue
				}
				shown++
				status := "clean"
				if !run.Clean() {
					status = fmt.Sprintf("%d errors", run.Errors)
				}
				fmt.Printf("    [%s] %s: processed=%d created=%d updated=%d removed=%d skipped=%d (%s, %s)\n",
					run.StartedAt.Format("2006-01-02 15:04"),
					run.Trigger,
					run.Processed, run.Created, run.Updated, run.Removed, run.Skipped,
					status,
					run.Duration().Round(time.Millisecond),
				)
			}
			rit.Close()

			totalRuns += runCount
			if runCount > shown {
				fmt.Printf("    ... and %d more runs\n", runCount-shown)
			}
			if runCount == 0 {
				fmt.Printf("    (no runs recorded)\n")
			}
			fmt.Println()
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Error iterating registry: %v", err)
	}

	fmt.Println("=== Summary ===")
	fmt.Printf("Total users: %d\n", userCount)
	fmt.Printf("Paired users: %d\n", pairedCount)
	fmt.Printf("Unpaired users: %d\n", userCount-pairedCount)
	fmt.Printf("Recorded runs: %d\n", totalRuns)
	if userCount > 0 {
		fmt.Printf("Average runs per user: %.1f\n", float64(totalRuns)/float64(userCount))
	}
}
