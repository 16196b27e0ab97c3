package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tandemapp/tandem-server/internal/domain"
)

func (s *Server) registerUserRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "createUser",
		Method:      http.MethodPost,
		Path:        "/api/v1/users",
		Summary:     "Create user",
		Description: "Registers a user configuration: database IDs, tokens and pairing",
		Tags:        []string{"Users"},
	}, s.handleCreateUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "listUsers",
		Method:      http.MethodGet,
		Path:        "/api/v1/users",
		Summary:     "List users",
		Description: "Returns all configured users",
		Tags:        []string{"Users"},
	}, s.handleListUsers)

	huma.Register(s.api, huma.Operation{
		OperationID: "getUser",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}",
		Summary:     "Get user",
		Description: "Returns a user configuration by ID",
		Tags:        []string{"Users"},
	}, s.handleGetUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteUser",
		Method:      http.MethodDelete,
		Path:        "/api/v1/users/{id}",
		Summary:     "Delete user",
		Description: "Removes a user configuration and its run history",
		Tags:        []string{"Users"},
	}, s.handleDeleteUser)
}

// === DTOs ===

// UserResponse contains user configuration in API responses. Tokens
// never appear here; they are write-only credentials.
type UserResponse struct {
	ID                string    `json:"id" doc:"User ID"`
	DisplayName       string    `json:"display_name" doc:"Display name"`
	PrivateDatabaseID string    `json:"private_database_id" doc:"Private records database"`
	SharedDatabaseID  string    `json:"shared_database_id,omitempty" doc:"Shared records database"`
	SharedAccess      string    `json:"shared_access,omitempty" doc:"How the shared database is reached: owner or delegate"`
	PartnerID         string    `json:"partner_id,omitempty" doc:"Paired partner's user ID"`
	Timezone          string    `json:"timezone,omitempty" doc:"IANA timezone for quick-add parsing"`
	SyncEnabled       bool      `json:"sync_enabled" doc:"Whether reconciliation runs for this user"`
	CreatedAt         time.Time `json:"created_at" doc:"Creation time"`
	UpdatedAt         time.Time `json:"updated_at" doc:"Last update time"`
}

func userResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:                u.ID,
		DisplayName:       u.DisplayName,
		PrivateDatabaseID: u.PrivateDatabaseID,
		SharedDatabaseID:  u.SharedDatabaseID,
		SharedAccess:      string(u.SharedAccess),
		PartnerID:         u.PartnerID,
		Timezone:          u.Timezone,
		SyncEnabled:       u.SyncEnabled(),
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

// CreateUserRequest is the request body for registering a user.
type CreateUserRequest struct {
	DisplayName       string `json:"display_name" validate:"required,max=100" doc:"Display name"`
	PrivateDatabaseID string `json:"private_database_id" validate:"required" doc:"Private records database ID"`
	PrivateToken      string `json:"private_token" validate:"required" doc:"Integration token for the private database"`
	SharedDatabaseID  string `json:"shared_database_id,omitempty" validate:"required_with=PartnerID" doc:"Shared records database ID (empty until paired)"`
	SharedToken       string `json:"shared_token,omitempty" doc:"Integration token for the shared database (delegates only)"`
	SharedAccess      string `json:"shared_access,omitempty" validate:"omitempty,oneof=owner delegate" doc:"How the shared database is reached"`
	PartnerID         string `json:"partner_id,omitempty" doc:"Paired partner's user ID"`
	Timezone          string `json:"timezone,omitempty" validate:"omitempty,timezone" doc:"IANA timezone, e.g. Europe/Berlin"`
}

// CreateUserInput wraps the create user request for Huma.
type CreateUserInput struct {
	Body CreateUserRequest
}

// UserOutput wraps the user response for Huma.
type UserOutput struct {
	Body UserResponse
}

// ListUsersResponse contains a list of users.
type ListUsersResponse struct {
	Users []UserResponse `json:"users" doc:"Configured users"`
}

// ListUsersOutput wraps the list users response for Huma.
type ListUsersOutput struct {
	Body ListUsersResponse
}

// GetUserInput contains parameters for getting a user.
type GetUserInput struct {
	ID string `path:"id" doc:"User ID"`
}

// DeleteUserInput contains parameters for deleting a user.
type DeleteUserInput struct {
	ID string `path:"id" doc:"User ID"`
}

// MessageResponse contains a simple message.
type MessageResponse struct {
	Message string `json:"message" doc:"Success message"`
}

// MessageOutput wraps the message response for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// === Handlers ===

func (s *Server) handleCreateUser(ctx context.Context, input *CreateUserInput) (*UserOutput, error) {
	if err := s.validate.Validate(&input.Body); err != nil {
		return nil, err
	}

	user := &domain.User{
		DisplayName:       input.Body.DisplayName,
		PrivateDatabaseID: input.Body.PrivateDatabaseID,
		PrivateToken:      input.Body.PrivateToken,
		SharedDatabaseID:  input.Body.SharedDatabaseID,
		SharedToken:       input.Body.SharedToken,
		SharedAccess:      domain.SharedAccess(input.Body.SharedAccess),
		PartnerID:         input.Body.PartnerID,
		Timezone:          input.Body.Timezone,
	}

	if err := s.registry.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user_id", user.ID, "sync_enabled", user.SyncEnabled())

	return &UserOutput{Body: userResponse(user)}, nil
}

func (s *Server) handleListUsers(ctx context.Context, _ *struct{}) (*ListUsersOutput, error) {
	users, err := s.registry.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	resp := make([]UserResponse, len(users))
	for i, u := range users {
		resp[i] = userResponse(u)
	}

	return &ListUsersOutput{Body: ListUsersResponse{Users: resp}}, nil
}

func (s *Server) handleGetUser(ctx context.Context, input *GetUserInput) (*UserOutput, error) {
	user, err := s.registry.GetUser(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &UserOutput{Body: userResponse(user)}, nil
}

func (s *Server) handleDeleteUser(ctx context.Context, input *DeleteUserInput) (*MessageOutput, error) {
	if err := s.registry.DeleteUser(ctx, input.ID); err != nil {
		return nil, err
	}

	s.logger.Info("user deleted", "user_id", input.ID)

	return &MessageOutput{Body: MessageResponse{Message: "User deleted"}}, nil
}
