package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/id"
)

const (
	userPrefix = "user:"
	runPrefix  = "run:"
)

// CreateUser stores a new user configuration, assigning a usr- ID when
// the caller did not bring one. Returns ErrAlreadyExists for an ID that
// is already taken.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		generated, err := id.Generate(id.PrefixUser)
		if err != nil {
			return fmt.Errorf("generate user id: %w", err)
		}
		user.ID = generated
	}
	user.InitTimestamps()

	if err := s.Users.Create(ctx, user.ID, user); err != nil {
		return err
	}

	s.logger.Info("user created",
		"user_id", user.ID,
		"display_name", user.DisplayName,
		"sync_enabled", user.SyncEnabled(),
	)
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.Users.Get(ctx, userID)
}

// UpdateUser updates an existing user and refreshes its UpdatedAt.
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	user.Touch()
	return s.Users.Update(ctx, user.ID, user)
}

// DeleteUser removes a user and their run history. Deleting an unknown
// user is a no-op, matching Entity.Delete.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := s.Users.Delete(ctx, userID); err != nil {
		return err
	}
	if err := s.deleteRuns(userID); err != nil {
		return fmt.Errorf("delete run history: %w", err)
	}

	s.logger.Info("user deleted", "user_id", userID)
	return nil
}

// ListUsers returns all users ordered by creation time, oldest first.
// The order is what the reconciliation loop walks, so it must be stable
// across restarts.
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	for u, err := range s.Users.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, u)
	}

	slices.SortFunc(users, func(a, b *domain.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return users, nil
}

// CountUsers returns the number of registered users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	n := 0
	for _, err := range s.Users.List(ctx) {
		if err != nil {
			return 0, fmt.Errorf("count users: %w", err)
		}
		n++
	}
	return n, nil
}
