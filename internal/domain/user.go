package domain

// SharedAccess describes how a user reaches the couple's shared database.
type SharedAccess string

const (
	// AccessOwner means the user's own integration token has access to
	// the shared database, typically because they created it.
	AccessOwner SharedAccess = "owner"
	// AccessDelegate means the shared database belongs to the partner's
	// workspace and this user reaches it through a separate token.
	AccessDelegate SharedAccess = "delegate"
)

// User is a registered member of a household pair. Each user owns a
// private database in the remote records store and shares one common
// database with their partner.
type User struct {
	Tracked
	DisplayName string `json:"display_name"`

	// PrivateDatabaseID and PrivateToken locate and authorize the user's
	// private database. Every user has one.
	PrivateDatabaseID string `json:"private_database_id"`
	PrivateToken      string `json:"private_token,omitempty"` // Filter from API responses

	// SharedDatabaseID is the database mirrors are written to. Empty
	// means the user has not been paired yet and sync is disabled.
	SharedDatabaseID string `json:"shared_database_id,omitempty"`

	// SharedToken authorizes access to the shared database for delegate
	// users. Owners reach it with their private token instead.
	SharedToken string `json:"shared_token,omitempty"` // Filter from API responses

	SharedAccess SharedAccess `json:"shared_access,omitempty"` // owner or delegate
	PartnerID    string       `json:"partner_id,omitempty"`
	Timezone     string       `json:"timezone,omitempty"` // IANA name, e.g. "Europe/Berlin"
}

// SharedCredential returns the token that authorizes operations against
// the shared database. Owners use their private token; delegates use the
// dedicated shared token. Empty means no credential is configured.
func (u *User) SharedCredential() string {
	if u.SharedAccess == AccessDelegate {
		return u.SharedToken
	}
	return u.PrivateToken
}

// SyncEnabled returns true if the user is fully paired: a shared database
// is configured and a credential exists to reach it. Users with sync
// disabled are skipped by reconciliation runs.
func (u *User) SyncEnabled() bool {
	return u.SharedDatabaseID != "" && u.SharedCredential() != ""
}

// Paired returns true if the user has been linked to a partner.
func (u *User) Paired() bool {
	return u.PartnerID != ""
}
