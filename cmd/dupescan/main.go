// Package main provides a duplicate scanner for a user's shared
// database. It groups live records by content fingerprint and prints
// every group with more than one member, so an operator can decide
// which mirrors to archive by hand.
//
// Usage:
//
//	RECORDS_URL=https://api.records.example.com go run ./cmd/dupescan -user usr-abc123
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tandemapp/tandem-server/internal/dedup"
	"github.com/tandemapp/tandem-server/internal/records"
	"github.com/tandemapp/tandem-server/internal/store"
)

var (
	dataPath       = flag.String("data", "", "Registry data directory (default: $DATA_PATH or ~/Tandem/data)")
	userID         = flag.String("user", "", "User whose shared database to scan (required)")
	recordsURL     = flag.String("records-url", "", "Records API base URL (default: $RECORDS_URL)")
	recordsVersion = flag.String("records-version", "", "Records API version header")
	recordsTimeout = flag.Duration("records-timeout", 30*time.Second, "Records API request timeout")
	recordsRPS     = flag.Float64("records-rps", 3, "Records API requests per second per database")
	recordsBurst   = flag.Int("records-burst", 3, "Records API burst size per database")
)

func main() {
	flag.Parse()

	if *userID == "" {
		log.Fatal("Specify a user with -user")
	}

	baseURL := *recordsURL
	if baseURL == "" {
		baseURL = os.Getenv("RECORDS_URL")
	}
	if baseURL == "" {
		log.Fatal("Records API URL required: set -records-url or $RECORDS_URL")
	}

	path := *dataPath
	if path == "" {
		path = os.Getenv("DATA_PATH")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to resolve home directory: %v", err)
		}
		path = filepath.Join(home, "Tandem", "data")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	st, err := store.New(filepath.Join(path, "registry"), logger)
	if err != nil {
		log.Fatalf("Failed to open registry: %v", err)
	}
	defer st.Close()

	user, err := st.GetUser(ctx, *userID)
	if err != nil {
		log.Fatalf("Failed to load user %s: %v", *userID, err)
	}
	if !user.SyncEnabled() {
		log.Fatalf("User %s has no shared database to scan", user.ID)
	}

	opener := records.NewOpener(records.Config{
		BaseURL: baseURL,
		Version: *recordsVersion,
		Timeout: *recordsTimeout,
		RPS:     *recordsRPS,
		Burst:   *recordsBurst,
	}, logger)
	defer opener.Close()

	handles, err := opener.ForUser(user)
	if err != nil {
		log.Fatalf("Failed to open databases for %s: %v", user.ID, err)
	}

	// An unfiltered query matches every live record in the database.
	// Sorting by start keeps group output stable between runs.
	all, err := handles.Shared.QueryAll(ctx, records.Query{SortBy: "start"})
	if err != nil {
		log.Fatalf("Failed to scan shared database %s: %v", user.SharedDatabaseID, err)
	}

	fmt.Printf("Scanned %d records in shared database %s\n", len(all), user.SharedDatabaseID)

	groups := dedup.Groups(all)
	if len(groups) == 0 {
		fmt.Println("No duplicates found.")
		return
	}

	fmt.Printf("Found %d duplicate groups:\n\n", len(groups))
	for i, group := range groups {
		fmt.Printf("Group %d: %q (%d records)\n", i+1, group[0].Title, len(group))
		for _, rec := range group {
			owner := rec.SourceUserID
			if owner == "" {
				owner = "unknown"
			}
			fmt.Printf("  %s  start=%s  source=%s  owner=%s\n",
				rec.ID,
				rec.Start.Format(time.RFC3339),
				rec.SourcePrivateID,
				owner,
			)
		}
		fmt.Println()
	}
}
