package domain

// SyncState classifies the link between a private record and the shared
// database at a point in time.
type SyncState string

const (
	// StateUnsynced means the record carries no mirror pointer.
	StateUnsynced SyncState = "unsynced"

	// StateLinked means the record points at a mirror that was confirmed
	// to exist the last time it was checked.
	StateLinked SyncState = "linked"

	// StateStaleLink means the record points at a mirror that could not
	// be found; the pointer is left intact until a sync pass clears it.
	StateStaleLink SyncState = "stale"
)

// String implements fmt.Stringer.
func (s SyncState) String() string {
	return string(s)
}

// SyncStateOf derives the state of a private record given whether its
// mirror was found on the last verification. Records without a pointer
// are always unsynced regardless of verification.
func SyncStateOf(r *Record, mirrorFound bool) SyncState {
	if !r.Linked() {
		return StateUnsynced
	}
	if mirrorFound {
		return StateLinked
	}
	return StateStaleLink
}
