package sync

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/tandemapp/tandem-server/internal/backoff"
	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/errors"
	"github.com/tandemapp/tandem-server/internal/id"
	"github.com/tandemapp/tandem-server/internal/records"
)

// Summary aggregates the outcome of reconciling a set of users.
type Summary struct {
	// Reconciled counts users whose reconciliation ran to completion,
	// whether or not individual records inside it failed.
	Reconciled int
	// Skipped counts users that have sync disabled.
	Skipped int
	// Failed counts users whose reconciliation could not run at all.
	Failed int
	// Runs holds the per-user run reports in input order.
	Runs []*domain.Run
}

// RecordErrors sums the per-record error counts across all runs.
func (s *Summary) RecordErrors() int {
	var n int
	for _, r := range s.Runs {
		n += r.Errors
	}
	return n
}

// ReconcileAll reconciles every given user in sequence. Per-user failures
// and panics are contained so one broken account cannot starve the rest
// of the pass; they surface in the Summary instead.
func (e *Engine) ReconcileAll(ctx context.Context, users []*domain.User, trigger domain.RunTrigger) *Summary {
	sum := &Summary{}
	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		if !user.SyncEnabled() {
			e.logger.Debug("sync not enabled, skipping user", "user_id", user.ID)
			sum.Skipped++
			continue
		}
		run, err := e.reconcileGuarded(ctx, user, trigger)
		if err != nil {
			e.logger.Error("reconciliation failed", "user_id", user.ID, "error", err)
			sum.Failed++
			continue
		}
		sum.Reconciled++
		sum.Runs = append(sum.Runs, run)
	}
	return sum
}

// reconcileGuarded shields the caller from panics inside one user's
// reconciliation.
func (e *Engine) reconcileGuarded(ctx context.Context, user *domain.User, trigger domain.RunTrigger) (run *domain.Run, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during reconciliation",
				"user_id", user.ID, "panic", r, "stack", string(debug.Stack()))
			run, err = nil, errors.Internalf("reconciliation panicked: %v", r)
		}
	}()
	return e.ReconcileUser(ctx, user, trigger)
}

// ReconcileUser brings one user's shared mirrors in agreement with their
// private database. It works in two passes: first every partner-relevant
// private record is pushed through the per-record procedure, then shared
// records owned by this user whose source is no longer relevant are
// archived. Running the second pass against the listing taken in the
// first keeps a crashed predecessor from leaving orphans forever.
//
// Per-record failures are counted in the returned run, not raised; the
// returned error covers only conditions under which no reconciliation
// could happen at all.
func (e *Engine) ReconcileUser(ctx context.Context, user *domain.User, trigger domain.RunTrigger) (*domain.Run, error) {
	if !user.SyncEnabled() {
		return nil, errors.Conflictf("sync is not enabled for user %s", user.ID)
	}
	stores, err := e.opener.ForUser(user)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:        id.NewRunID(),
		UserID:    user.ID,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	e.logger.Info("reconciliation started", "user_id", user.ID, "trigger", trigger)

	relevant, ok := e.pushPass(ctx, user, stores, run)
	if ok && ctx.Err() == nil {
		e.reclaimPass(ctx, user, stores, run, relevant)
	}

	run.FinishedAt = time.Now().UTC()
	e.logger.Info("reconciliation finished",
		"user_id", user.ID,
		"run_id", run.ID,
		"processed", run.Processed,
		"created", run.Created,
		"updated", run.Updated,
		"removed", run.Removed,
		"skipped", run.Skipped,
		"errors", run.Errors,
		"duration", run.Duration(),
	)
	e.recordRun(ctx, run)
	return run, nil
}

// pushPass syncs every partner-relevant private record and returns the
// set of their IDs. ok is false when the listing itself failed; the
// reclaim pass must not run then, because an empty relevant set would
// read as "archive everything".
func (e *Engine) pushPass(ctx context.Context, user *domain.User, stores Stores, run *domain.Run) (map[string]bool, bool) {
	relevantOnly := true
	recs, err := e.listWithRetry(ctx, user, func(ctx context.Context) ([]*domain.Record, error) {
		return stores.Private.QueryAll(ctx, records.Query{PartnerRelevant: &relevantOnly})
	})
	if err != nil {
		e.logger.Error("listing partner-relevant records failed", "user_id", user.ID, "error", err)
		run.Errors++
		return nil, false
	}

	// The relevant set is taken from the listing, not from sync outcomes:
	// a record whose sync failed is still relevant, and its mirror must
	// survive the reclaim pass.
	relevant := make(map[string]bool, len(recs))
	for _, rec := range recs {
		relevant[rec.ID] = true
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		res := e.syncRecord(ctx, user, stores, rec, false)
		if res.Err != nil {
			e.logger.Error("record sync failed",
				"user_id", user.ID, "record_id", rec.ID, "error", res.Err)
		}
		tally(run, res)
	}
	return relevant, true
}

// reclaimPass archives shared records owned by this user whose source
// does not appear in the relevant set, and clears the pointer on sources
// that still exist, so that a record toggled off converges in one pass.
func (e *Engine) reclaimPass(ctx context.Context, user *domain.User, stores Stores, run *domain.Run, relevant map[string]bool) {
	mirrors, err := e.listWithRetry(ctx, user, func(ctx context.Context) ([]*domain.Record, error) {
		return stores.Shared.QueryAll(ctx, records.Query{SourceUserID: user.ID})
	})
	if err != nil {
		e.logger.Error("listing shared mirrors failed", "user_id", user.ID, "error", err)
		run.Errors++
		return
	}

	for _, mirror := range mirrors {
		if ctx.Err() != nil {
			return
		}
		if relevant[mirror.SourcePrivateID] {
			continue
		}
		res := e.syncWithRetry(ctx, user, mirror.SourcePrivateID, func(ctx context.Context) Result {
			return e.reapOrphan(ctx, stores, mirror)
		})
		if res.Err != nil {
			e.logger.Error("reclaiming orphaned mirror failed",
				"user_id", user.ID, "shared_id", mirror.ID, "error", res.Err)
		} else {
			e.logger.Debug("orphaned mirror archived",
				"user_id", user.ID, "shared_id", mirror.ID, "record_id", mirror.SourcePrivateID)
		}
		tally(run, res)
	}
}

// reapOrphan archives one orphaned mirror and detaches its source.
func (e *Engine) reapOrphan(ctx context.Context, stores Stores, mirror *domain.Record) Result {
	if err := stores.Shared.Archive(ctx, mirror.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
		return Result{Err: err}
	}
	if err := e.clearSourcePointer(ctx, stores, mirror); err != nil {
		return Result{Err: err}
	}
	return Result{Action: ActionRemoved, TargetID: mirror.ID}
}

// clearSourcePointer drops the mirror pointer from the mirror's source
// record when that record still exists and still points at the mirror.
// A vanished source is the normal case for an orphan and is no error.
func (e *Engine) clearSourcePointer(ctx context.Context, stores Stores, mirror *domain.Record) error {
	if mirror.SourcePrivateID == "" {
		return nil
	}
	rec, err := stores.Private.Get(ctx, mirror.SourcePrivateID)
	switch {
	case errors.Is(err, records.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if rec.SyncedToSharedID != mirror.ID {
		return nil
	}
	return e.setPointer(ctx, stores, rec, "")
}

// listWithRetry drives a listing call through the retry policy with the
// engine's per-attempt timeout.
func (e *Engine) listWithRetry(ctx context.Context, user *domain.User, list func(ctx context.Context) ([]*domain.Record, error)) ([]*domain.Record, error) {
	var out []*domain.Record
	op := func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		var err error
		out, err = list(actx)
		return err
	}
	obs := func(n int, err error, next time.Duration) {
		if next > 0 {
			e.logger.Warn("listing records failed, backing off",
				"user_id", user.ID, "attempt", n+1, "retry_in", next, "error", err)
		}
	}
	if err := backoff.Retry(ctx, e.policy, e.classes, op, obs); err != nil {
		return nil, err
	}
	return out, nil
}

// tally folds one record outcome into the run counters.
func tally(run *domain.Run, res Result) {
	run.Processed++
	if res.Err != nil {
		run.Errors++
		return
	}
	switch res.Action {
	case ActionCreated:
		run.Created++
	case ActionUpdated:
		run.Updated++
	case ActionRemoved:
		run.Removed++
	case ActionSkipped:
		run.Skipped++
	}
}
