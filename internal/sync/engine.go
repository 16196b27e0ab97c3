package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/tandemapp/tandem-server/internal/backoff"
	"github.com/tandemapp/tandem-server/internal/dedup"
	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/errors"
	"github.com/tandemapp/tandem-server/internal/id"
	"github.com/tandemapp/tandem-server/internal/records"
)

// DefaultPolicy is the retry schedule used when none is configured: up
// to four attempts, starting at one second and doubling, capped at two
// minutes per wait.
var DefaultPolicy = backoff.Policy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	Factor:       2,
	MaxDelay:     2 * time.Minute,
}

// defaultTimeout bounds one attempt of the decision procedure.
const defaultTimeout = 30 * time.Second

// Config tunes the engine.
type Config struct {
	// Policy is the retry schedule for transient failures.
	Policy backoff.Policy
	// Timeout bounds a single attempt of a record sync, covering every
	// remote call the attempt makes. A timed-out attempt counts as
	// transient and is retried by the policy.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Policy == (backoff.Policy{}) {
		c.Policy = DefaultPolicy
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Engine decides, record by record, what the shared database should look
// like and makes it so. All methods are safe for concurrent use across
// users; records of a single user must be synced from one goroutine.
type Engine struct {
	opener  Opener
	runs    RunRecorder
	policy  backoff.Policy
	classes *backoff.Classifier
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine creates a sync engine. runs may be nil when no history
// should be kept, e.g. in one-shot tooling.
func NewEngine(opener Opener, runs RunRecorder, cfg Config, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		opener:  opener,
		runs:    runs,
		policy:  cfg.Policy,
		classes: newClassifier(),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// newClassifier splits the records client's error surface into failures
// worth retrying and failures that will not improve. Unknown errors are
// permanent: burning retries against an unclassified failure only delays
// the report.
func newClassifier() *backoff.Classifier {
	return backoff.NewClassifier(
		[]error{
			records.ErrRateLimited,
			records.ErrServer,
			records.ErrUnreachable,
			context.DeadlineExceeded,
		},
		[]error{
			records.ErrInvalid,
			records.ErrUnauthorized,
			records.ErrNotFound,
			errors.ErrSyncConflict,
			errors.ErrValidation,
		},
	)
}

// SyncRecord pushes one private record toward the shared database: it
// creates, refreshes, re-links, or removes the record's mirror as its
// relevance flag dictates. force pushes the mirror even when the record
// is not flagged partner-relevant.
//
// The record's cross-reference fields are updated in place and reflect
// the persisted state when the call returns. Failures are retried per
// the engine's policy and come back inside the Result, never as a
// panic; callers that must not fail (a record-creation handler) can
// fire and continue.
func (e *Engine) SyncRecord(ctx context.Context, user *domain.User, rec *domain.Record, force bool) Result {
	stores, err := e.opener.ForUser(user)
	if err != nil {
		return Result{Err: err}
	}
	started := time.Now().UTC()
	res := e.syncRecord(ctx, user, stores, rec, force)
	e.recordSingle(ctx, user, started, res)
	return res
}

// SyncRecordByID fetches a private record and syncs it. The fetch runs
// inside the retry loop, so every attempt works on fresh state.
func (e *Engine) SyncRecordByID(ctx context.Context, user *domain.User, recordID string, force bool) Result {
	stores, err := e.opener.ForUser(user)
	if err != nil {
		return Result{Err: err}
	}
	started := time.Now().UTC()
	res := e.syncWithRetry(ctx, user, recordID, func(ctx context.Context) Result {
		rec, err := stores.Private.Get(ctx, recordID)
		if err != nil {
			return Result{Err: err}
		}
		return e.syncOnce(ctx, user, stores, rec, force)
	})
	e.recordSingle(ctx, user, started, res)
	return res
}

// RemoveMirror archives whatever shared mirror exists for the given
// private record ID and clears the cross-reference if the source record
// still exists. It reports whether a mirror was archived. This is the
// path for records that were deleted outright, where there is nothing
// left to derive relevance from.
func (e *Engine) RemoveMirror(ctx context.Context, user *domain.User, privateID string) (bool, error) {
	stores, err := e.opener.ForUser(user)
	if err != nil {
		return false, err
	}
	if stores.Shared == nil {
		return false, nil
	}
	res := e.syncWithRetry(ctx, user, privateID, func(ctx context.Context) Result {
		rec, err := stores.Private.Get(ctx, privateID)
		switch {
		case err == nil:
			return e.removeOnce(ctx, stores, rec)
		case errors.Is(err, records.ErrNotFound):
			// The source is gone; reap whatever mirror it left behind.
			targetID, aerr := e.archiveMirrors(ctx, stores, privateID)
			if aerr != nil {
				return Result{Err: aerr}
			}
			if targetID == "" {
				return Result{Action: ActionSkipped}
			}
			return Result{Action: ActionRemoved, TargetID: targetID}
		default:
			return Result{Err: err}
		}
	})
	return res.Action == ActionRemoved, res.Err
}

// syncRecord runs the decision procedure for one record with retry,
// reusing handles the caller already opened.
func (e *Engine) syncRecord(ctx context.Context, user *domain.User, stores Stores, rec *domain.Record, force bool) Result {
	return e.syncWithRetry(ctx, user, rec.ID, func(ctx context.Context) Result {
		return e.syncOnce(ctx, user, stores, rec, force)
	})
}

// syncWithRetry drives attempt through the backoff policy, bounding each
// attempt by the engine timeout. The last attempt's Result is returned;
// when the context dies before any attempt ran, the context error is the
// result.
func (e *Engine) syncWithRetry(ctx context.Context, user *domain.User, recordID string, attempt func(ctx context.Context) Result) Result {
	var res Result
	op := func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		res = attempt(actx)
		return res.Err
	}
	obs := func(n int, err error, next time.Duration) {
		if next > 0 {
			e.logger.Warn("sync attempt failed, backing off",
				"user_id", user.ID,
				"record_id", recordID,
				"attempt", n+1,
				"retry_in", next,
				"error", err,
			)
		}
	}
	if err := backoff.Retry(ctx, e.policy, e.classes, op, obs); err != nil && res.Err == nil {
		res = Result{Err: err}
	}
	return res
}

// syncOnce is a single attempt of the decision procedure:
//
//  1. A record without an identifier cannot sync; fail permanently.
//  2. A record that is not partner-relevant gets its mirror removed
//     instead, unless the sync is forced.
//  3. A linked mirror is verified and refreshed in place. A vanished
//     mirror drops the stale pointer and falls through.
//  4. An unlinked record adopts a content-matching mirror this user
//     already owns rather than creating a second one.
//  5. A content match owned by anyone else is a conflict: creating next
//     to it would duplicate the entry on the shared board, and merging
//     would hand one partner's record to the other.
//  6. Only then is a fresh mirror created and the pointer written back.
func (e *Engine) syncOnce(ctx context.Context, user *domain.User, stores Stores, rec *domain.Record, force bool) Result {
	if !rec.Persisted() {
		return Result{Err: errors.Validation("record has no identifier; it must be stored before it can sync")}
	}
	if stores.Shared == nil {
		e.logger.Debug("sync disabled for user, skipping", "user_id", user.ID, "record_id", rec.ID)
		return Result{Action: ActionSkipped}
	}
	if !rec.PartnerRelevant && !force {
		return e.removeOnce(ctx, stores, rec)
	}

	state, mirror, err := e.resolveLink(ctx, stores, rec)
	if err != nil {
		return Result{Err: err}
	}

	if state == domain.StateLinked {
		if mirror.ContentEquals(rec) && mirror.IsMirrorOf(rec.ID) {
			return Result{Action: ActionSkipped, TargetID: mirror.ID}
		}
		mirror.ApplyMirrorFields(rec)
		mirror.SourcePrivateID = rec.ID
		err := stores.Shared.Update(ctx, mirror.ID, mirror)
		switch {
		case err == nil:
			return Result{Action: ActionUpdated, TargetID: mirror.ID}
		case e.classes.Retryable(err):
			return Result{Err: err}
		}
		// The mirror exists but rejects the refresh. Recreating can
		// still converge; giving up cannot.
		e.logger.Warn("mirror update rejected, attempting recreation",
			"user_id", user.ID, "record_id", rec.ID, "shared_id", mirror.ID, "error", err)
		state = domain.StateStaleLink
	}

	if state == domain.StateStaleLink {
		if err := e.setPointer(ctx, stores, rec, ""); err != nil {
			return Result{Err: err}
		}
	}

	// Adopt a mirror this user already owns before creating a new one.
	// The pointer is lost whenever a crash lands between mirror creation
	// and the write-back below; content matching recovers the link.
	owned, err := stores.Shared.QueryAll(ctx, records.Query{SourceUserID: user.ID})
	if err != nil {
		return Result{Err: err}
	}
	if match := dedup.FindMatch(rec, owned, nil); match != nil {
		return e.adopt(ctx, stores, rec, match)
	}

	// Nothing of ours matches; scan everything before creating. A match
	// here appeared outside this user's pass and must not be duplicated
	// or silently taken over.
	everyone, err := stores.Shared.QueryAll(ctx, records.Query{})
	if err != nil {
		return Result{Err: err}
	}
	if match := dedup.FindMatch(rec, everyone, nil); match != nil {
		e.logger.Warn("shared record with matching content already exists, not creating a duplicate",
			"user_id", user.ID, "record_id", rec.ID, "shared_id", match.ID, "shared_owner", match.SourceUserID)
		return Result{Err: errors.SyncConflict("a shared record with matching content already exists").
			WithDetails(map[string]string{"shared_id": match.ID, "owner_id": match.SourceUserID})}
	}

	return e.create(ctx, user, stores, rec)
}

// resolveLink classifies the record's pointer against the shared store.
// Read failures other than a clean not-found are returned as-is for the
// retry policy to judge.
func (e *Engine) resolveLink(ctx context.Context, stores Stores, rec *domain.Record) (domain.SyncState, *domain.Record, error) {
	if !rec.Linked() {
		return domain.StateUnsynced, nil, nil
	}
	mirror, err := stores.Shared.Get(ctx, rec.SyncedToSharedID)
	switch {
	case err == nil:
		return domain.SyncStateOf(rec, true), mirror, nil
	case errors.Is(err, records.ErrNotFound):
		return domain.SyncStateOf(rec, false), nil, nil
	default:
		return domain.StateUnsynced, nil, err
	}
}

// adopt links rec to a mirror discovered by content match and refreshes
// the mirror in place. The mirror may predate a delete-and-recreate of
// its source, so provenance is repointed at the current record; without
// that the reclaim pass would archive the mirror as an orphan.
func (e *Engine) adopt(ctx context.Context, stores Stores, rec *domain.Record, mirror *domain.Record) Result {
	if err := e.setPointer(ctx, stores, rec, mirror.ID); err != nil {
		return Result{Err: err}
	}
	if mirror.ContentEquals(rec) && mirror.IsMirrorOf(rec.ID) {
		return Result{Action: ActionUpdated, TargetID: mirror.ID}
	}
	mirror.ApplyMirrorFields(rec)
	mirror.SourcePrivateID = rec.ID
	if err := stores.Shared.Update(ctx, mirror.ID, mirror); err != nil {
		return Result{Err: err}
	}
	return Result{Action: ActionUpdated, TargetID: mirror.ID}
}

// create writes a fresh mirror and links the source record to it.
func (e *Engine) create(ctx context.Context, user *domain.User, stores Stores, rec *domain.Record) Result {
	mirror := rec.Mirror(user.ID)
	sharedID, err := stores.Shared.Create(ctx, mirror)
	if err != nil {
		return Result{Err: err}
	}
	if err := e.setPointer(ctx, stores, rec, sharedID); err != nil {
		// The mirror exists but the source does not know it yet. The
		// retried attempt, or the next pass, adopts it by content match.
		e.logger.Warn("mirror created but pointer write-back failed",
			"user_id", user.ID, "record_id", rec.ID, "shared_id", sharedID, "error", err)
		return Result{TargetID: sharedID, Err: err}
	}
	e.logger.Debug("mirror created",
		"user_id", user.ID, "record_id", rec.ID, "shared_id", sharedID)
	return Result{Action: ActionCreated, TargetID: sharedID}
}

// removeOnce tears down whatever mirror exists for a record that should
// not be shared: archive by provenance, then drop the pointer. Finding
// nothing to archive is success; the goal is absence.
func (e *Engine) removeOnce(ctx context.Context, stores Stores, rec *domain.Record) Result {
	targetID, err := e.archiveMirrors(ctx, stores, rec.ID)
	if err != nil {
		return Result{Err: err}
	}
	if rec.Linked() {
		if err := e.setPointer(ctx, stores, rec, ""); err != nil {
			return Result{Err: err}
		}
	}
	if targetID == "" {
		return Result{Action: ActionSkipped}
	}
	return Result{Action: ActionRemoved, TargetID: targetID}
}

// archiveMirrors archives every shared record mirrored from privateID
// and returns the last archived ID, empty when nothing was found. A
// mirror that is already gone counts as archived.
func (e *Engine) archiveMirrors(ctx context.Context, stores Stores, privateID string) (string, error) {
	matches, err := stores.Shared.QueryAll(ctx, records.Query{SourcePrivateID: privateID})
	if err != nil {
		return "", err
	}
	var last string
	for _, m := range matches {
		if err := stores.Shared.Archive(ctx, m.ID); err != nil && !errors.Is(err, records.ErrNotFound) {
			return last, err
		}
		last = m.ID
	}
	return last, nil
}

// setPointer persists a new mirror pointer on the private record. The
// in-memory record is kept consistent with the store: on failure the
// previous pointer is restored so a retried attempt starts from the
// state the remote actually has.
func (e *Engine) setPointer(ctx context.Context, stores Stores, rec *domain.Record, sharedID string) error {
	prev := rec.SyncedToSharedID
	rec.SyncedToSharedID = sharedID
	if err := stores.Private.Update(ctx, rec.ID, rec); err != nil {
		rec.SyncedToSharedID = prev
		return err
	}
	return nil
}

// recordSingle writes a one-record run history entry.
func (e *Engine) recordSingle(ctx context.Context, user *domain.User, started time.Time, res Result) {
	run := &domain.Run{
		ID:         id.NewRunID(),
		UserID:     user.ID,
		Trigger:    domain.TriggerRecord,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	tally(run, res)
	e.recordRun(ctx, run)
}

// recordRun persists a run outcome. History is best-effort: a failure to
// record never fails the sync that produced it, and a canceled sync
// still gets its history written.
func (e *Engine) recordRun(ctx context.Context, run *domain.Run) {
	if e.runs == nil {
		return
	}
	if err := e.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.Error("run history write failed",
			"user_id", run.UserID, "run_id", run.ID, "error", err)
	}
}
