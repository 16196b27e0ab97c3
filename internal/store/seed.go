package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/validation"
)

// SeedUser is one entry in the users seed file. The ID is optional;
// entries without one are matched to existing users by private database
// ID so repeated imports stay idempotent.
type SeedUser struct {
	ID                string `yaml:"id" json:"id"`
	DisplayName       string `yaml:"display_name" json:"display_name" validate:"required"`
	PrivateDatabaseID string `yaml:"private_database_id" json:"private_database_id" validate:"required"`
	PrivateToken      string `yaml:"private_token" json:"private_token" validate:"required"`
	SharedDatabaseID  string `yaml:"shared_database_id" json:"shared_database_id" validate:"required_with=PartnerID"`
	SharedToken       string `yaml:"shared_token" json:"shared_token"`
	SharedAccess      string `yaml:"shared_access" json:"shared_access" validate:"omitempty,oneof=owner delegate"`
	PartnerID         string `yaml:"partner_id" json:"partner_id"`
	Timezone          string `yaml:"timezone" json:"timezone" validate:"omitempty,timezone"`
}

// User converts the seed entry to a domain user.
func (su *SeedUser) User() *domain.User {
	u := &domain.User{
		DisplayName:       su.DisplayName,
		PrivateDatabaseID: su.PrivateDatabaseID,
		PrivateToken:      su.PrivateToken,
		SharedDatabaseID:  su.SharedDatabaseID,
		SharedToken:       su.SharedToken,
		SharedAccess:      domain.SharedAccess(su.SharedAccess),
		PartnerID:         su.PartnerID,
		Timezone:          su.Timezone,
	}
	u.ID = su.ID
	return u
}

// SeedFile is the on-disk shape of the users seed file.
type SeedFile struct {
	Users []SeedUser `yaml:"users" json:"users"`
}

// SeedResult summarizes one import.
type SeedResult struct {
	Added     int
	Updated   int
	Unchanged int
}

// LoadSeedFile reads and validates a seed file. A file that fails
// validation is rejected whole; a partial household configuration is
// worse than a stale one.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, ErrInvalidInput.WithMessage("seed file is not valid YAML").WithCause(err)
	}

	v := validation.New()
	for i := range file.Users {
		if err := v.Validate(&file.Users[i]); err != nil {
			return nil, fmt.Errorf("seed user %d (%q): %w", i, file.Users[i].DisplayName, err)
		}
	}

	return &file, nil
}

// ImportSeed upserts every seed entry into the registry. Existing users
// are matched by ID when the entry carries one, otherwise by private
// database ID. Matched users keep their identity and CreatedAt; the
// rest of the configuration is overwritten, since the seed file is the
// operator's source of truth.
func (s *Store) ImportSeed(ctx context.Context, seed *SeedFile) (*SeedResult, error) {
	existing, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.User, len(existing))
	byPrivateDB := make(map[string]*domain.User, len(existing))
	for _, u := range existing {
		byID[u.ID] = u
		if u.PrivateDatabaseID != "" {
			byPrivateDB[u.PrivateDatabaseID] = u
		}
	}

	result := &SeedResult{}
	for i := range seed.Users {
		entry := &seed.Users[i]
		incoming := entry.User()

		var current *domain.User
		if incoming.ID != "" {
			current = byID[incoming.ID]
		}
		if current == nil {
			current = byPrivateDB[incoming.PrivateDatabaseID]
		}

		if current == nil {
			if err := s.CreateUser(ctx, incoming); err != nil {
				return result, fmt.Errorf("seed user %q: %w", entry.DisplayName, err)
			}
			byID[incoming.ID] = incoming
			byPrivateDB[incoming.PrivateDatabaseID] = incoming
			result.Added++
			continue
		}

		if sameConfig(current, incoming) {
			result.Unchanged++
			continue
		}

		incoming.ID = current.ID
		incoming.CreatedAt = current.CreatedAt
		if err := s.UpdateUser(ctx, incoming); err != nil {
			return result, fmt.Errorf("seed user %q: %w", entry.DisplayName, err)
		}
		byID[incoming.ID] = incoming
		byPrivateDB[incoming.PrivateDatabaseID] = incoming
		result.Updated++
	}

	s.logger.Info("seed imported",
		"added", result.Added,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
	)
	return result, nil
}

// ImportSeedFile loads and imports a seed file in one step.
func (s *Store) ImportSeedFile(ctx context.Context, path string) (*SeedResult, error) {
	seed, err := LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	return s.ImportSeed(ctx, seed)
}

// sameConfig reports whether two users carry the same configuration,
// ignoring identity and timestamps. Unchanged seed entries skip the
// write so repeated imports do not churn UpdatedAt.
func sameConfig(a, b *domain.User) bool {
	return a.DisplayName == b.DisplayName &&
		a.PrivateDatabaseID == b.PrivateDatabaseID &&
		a.PrivateToken == b.PrivateToken &&
		a.SharedDatabaseID == b.SharedDatabaseID &&
		a.SharedToken == b.SharedToken &&
		a.SharedAccess == b.SharedAccess &&
		a.PartnerID == b.PartnerID &&
		a.Timezone == b.Timezone
}
