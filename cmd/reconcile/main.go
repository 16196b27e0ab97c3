// Package main provides a one-shot reconciliation tool for the Tandem
// registry. It runs the same engine the server's background loop uses,
// once, and prints a per-user stats table.
//
// The registry takes an exclusive lock, so stop the server before
// running this against a live data directory.
//
// Usage:
//
//	RECORDS_URL=https://api.records.example.com go run ./cmd/reconcile -all
//	go run ./cmd/reconcile -data ~/Tandem/data -user usr-abc123 -records-url https://...
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/records"
	"github.com/tandemapp/tandem-server/internal/store"
	"github.com/tandemapp/tandem-server/internal/sync"
)

var (
	dataPath       = flag.String("data", "", "Registry data directory (default: $DATA_PATH or ~/Tandem/data)")
	userID         = flag.String("user", "", "Reconcile a single user by ID")
	allUsers       = flag.Bool("all", false, "Reconcile every user in the registry")
	recordsURL     = flag.String("records-url", "", "Records API base URL (default: $RECORDS_URL)")
	recordsVersion = flag.String("records-version", "", "Records API version header")
	recordsTimeout = flag.Duration("records-timeout", 30*time.Second, "Records API request timeout")
	recordsRPS     = flag.Float64("records-rps", 3, "Records API requests per second per database")
	recordsBurst   = flag.Int("records-burst", 3, "Records API burst size per database")
)

func main() {
	flag.Parse()

	if (*userID != "") == *allUsers {
		log.Fatal("Specify exactly one of -user or -all")
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

	// Engine chatter goes to stderr so the stats table stays parseable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(filepath.Join(path, "registry"), logger)
	if err != nil {
		log.Fatalf("Failed to open registry: %v", err)
	}

	opener := records.NewOpener(records.Config{
		BaseURL: baseURL,
		Version: *recordsVersion,
		Timeout: *recordsTimeout,
		RPS:     *recordsRPS,
		Burst:   *recordsBurst,
	}, logger)

	engine := sync.NewEngine(sync.NewOpener(opener), st, sync.Config{}, logger)

	var users []*domain.User
	if *allUsers {
		users, err = st.ListUsers(ctx)
		if err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
	} else {
		user, err := st.GetUser(ctx, *userID)
		if err != nil {
			log.Fatalf("Failed to load user %s: %v", *userID, err)
		}
		users = []*domain.User{user}
	}

	clean := true
	if len(users) == 0 {
		fmt.Println("No users in registry, nothing to do.")
	} else {
		clean = reconcile(ctx, engine, users)
	}

	opener.Close()
	if err := st.Close(); err != nil {
		log.Printf("Failed to close registry: %v", err)
	}

	if !clean {
		os.Exit(1)
	}
}

// reconcile runs every user through the engine and prints one table
// row per user. It returns false when any user failed outright or
// finished with record-level errors.
func reconcile(ctx context.Context, engine *sync.Engine, users []*domain.User) bool {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tNAME\tPROCESSED\tCREATED\tUPDATED\tREMOVED\tSKIPPED\tERRORS\tDURATION\tNOTE")

	started := time.Now()
	var reconciled, skipped, failed, recordErrors int

	for _, user := range users {
		if ctx.Err() != nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t-\t-\t-\tinterrupted\n", user.ID, user.DisplayName)
			failed++
			continue
		}
		if !user.SyncEnabled() {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t-\t-\t-\tsync disabled\n", user.ID, user.DisplayName)
			skipped++
			continue
		}

		run, err := engine.ReconcileUser(ctx, user, domain.TriggerManual)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t-\t-\t-\t%v\n", user.ID, user.DisplayName, err)
			failed++
			continue
		}

		reconciled++
		recordErrors += run.Errors
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			user.ID, user.DisplayName,
			run.Processed, run.Created, run.Updated, run.Removed, run.Skipped, run.Errors,
			run.Duration().Round(time.Millisecond))
	}

	w.Flush()

	fmt.Printf("\nReconciled %d of %d users in %s", reconciled, len(users), time.Since(started).Round(time.Millisecond))
	if skipped > 0 {
		fmt.Printf(" (%d skipped)", skipped)
	}
	fmt.Println()

	if failed > 0 {
		fmt.Printf("%d users failed\n", failed)
	}
	if recordErrors > 0 {
		fmt.Printf("%d records failed to sync\n", recordErrors)
	}

	return failed == 0 && recordErrors == 0
}
