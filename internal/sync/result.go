package sync

// Action classifies what a sync did with one record.
type Action string

const (
	// ActionCreated means a new mirror was written to the shared store.
	ActionCreated Action = "created"
	// ActionUpdated means an existing mirror was refreshed or re-linked.
	ActionUpdated Action = "updated"
	// ActionRemoved means a mirror was archived.
	ActionRemoved Action = "removed"
	// ActionSkipped means the stores were already consistent.
	ActionSkipped Action = "skipped"
)

// Result is the outcome of syncing a single record.
type Result struct {
	// Action is what happened. Empty when the sync failed.
	Action Action
	// TargetID identifies the shared record involved, when one is known.
	// It is set even on some failures, e.g. when a mirror was created but
	// the pointer write-back did not land.
	TargetID string
	// Err is the terminal error after the retry policy gave up, or the
	// permanent error that made retrying pointless.
	Err error
}

// Success reports whether the sync completed.
func (r Result) Success() bool {
	return r.Err == nil
}
