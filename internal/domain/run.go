package domain

import "time"

// RunTrigger records what started a reconciliation run.
type RunTrigger string

const (
	// TriggerScheduled marks runs started by the background loop.
	TriggerScheduled RunTrigger = "scheduled"
	// TriggerManual marks runs requested through the admin API or CLI.
	TriggerManual RunTrigger = "manual"
	// TriggerRecord marks single-record syncs kicked off by a record
	// mutation, e.g. a relevance toggle.
	TriggerRecord RunTrigger = "record"
)

// Run is the outcome of one reconciliation pass for one user. Runs are
// kept in the local registry so operators can see what the engine did
// and when, without grepping logs.
type Run struct {
	ID      string     `json:"id"`
	UserID  string     `json:"user_id"`
	Trigger RunTrigger `json:"trigger"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Counters mirror the engine's per-pass tallies. Processed counts
	// partner-relevant records the engine looked at; the rest count the
	// actions it took. Errors counts records whose sync failed after
	// retries were exhausted, not individual attempts.
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clean reports whether the run finished without any record-level
// failures.
func (r *Run) Clean() bool {
	return r.Errors == 0
}
