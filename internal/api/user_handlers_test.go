package api

import (
	"encoding/json/v2"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser_ReturnsConfiguration(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/users", map[string]any{
		"display_name":        "Dana",
		"private_database_id": "db-dana",
		"private_token":       "tok-dana",
		"shared_database_id":  sharedDB,
		"shared_access":       "owner",
		"timezone":            "Europe/Berlin",
	})
	require.Equal(t, http.StatusOK, resp.Code, "create failed: %s", resp.Body.String())

	var envelope testEnvelope[UserResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	assert.True(t, envelope.Success)
	assert.True(t, strings.HasPrefix(envelope.Data.ID, "usr-"), "ID should have usr- prefix, got %s", envelope.Data.ID)
	assert.Equal(t, "Dana", envelope.Data.DisplayName)
	assert.Equal(t, "db-dana", envelope.Data.PrivateDatabaseID)
	assert.Equal(t, sharedDB, envelope.Data.SharedDatabaseID)
	assert.Equal(t, "owner", envelope.Data.SharedAccess)
	assert.Equal(t, "Europe/Berlin", envelope.Data.Timezone)
	assert.True(t, envelope.Data.SyncEnabled)
	assert.False(t, envelope.Data.CreatedAt.IsZero())
}

func TestCreateUser_TokensNeverReturned(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/users", map[string]any{
		"display_name":        "Dana",
		"private_database_id": "db-dana",
		"private_token":       "tok-private-secret",
		"shared_database_id":  sharedDB,
		"shared_token":        "tok-shared-secret",
		"shared_access":       "delegate",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	// Tokens are write-only credentials; no response may echo them.
	body := resp.Body.String()
	assert.NotContains(t, body, "tok-private-secret")
	assert.NotContains(t, body, "tok-shared-secret")
}

func TestCreateUser_UnpairedHasSyncDisabled(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Solo", false)

	assert.False(t, user.SyncEnabled)
	assert.Empty(t, user.SharedDatabaseID)
}

func TestCreateUser_MissingRequiredFields(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	// No private_token. The request never reaches the handler; the
	// schema rejects it.
	resp := ts.api.Post("/api/v1/users", map[string]any{
		"display_name":        "Dana",
		"private_database_id": "db-dana",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestCreateUser_RejectsBadValues(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "unknown shared access",
			body: map[string]any{
				"display_name":        "Dana",
				"private_database_id": "db-dana",
				"private_token":       "tok-dana",
				"shared_access":       "sometimes",
			},
		},
		{
			name: "bad timezone",
			body: map[string]any{
				"display_name":        "Dana",
				"private_database_id": "db-dana",
				"private_token":       "tok-dana",
				"timezone":            "Mars/Olympus",
			},
		},
		{
			name: "display name too long",
			body: map[string]any{
				"display_name":        strings.Repeat("x", 101),
				"private_database_id": "db-dana",
				"private_token":       "tok-dana",
			},
		},
		{
			name: "partner without shared database",
			body: map[string]any{
				"display_name":        "Dana",
				"private_database_id": "db-dana",
				"private_token":       "tok-dana",
				"partner_id":          "usr-riley",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.api.Post("/api/v1/users", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.Code, "body: %s", resp.Body.String())

			var envelope APIErrorEnvelope
			err := json.Unmarshal(resp.Body.Bytes(), &envelope)
			require.NoError(t, err)
			assert.Equal(t, "VALIDATION", envelope.Code)
		})
	}
}

func TestGetUser_ReturnsUser(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	created := ts.createUser(t, "Dana", true)

	resp := ts.api.Get("/api/v1/users/" + created.ID)
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope testEnvelope[UserResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	assert.Equal(t, created.ID, envelope.Data.ID)
	assert.Equal(t, "Dana", envelope.Data.DisplayName)
	assert.True(t, envelope.Data.SyncEnabled)
}

func TestGetUser_NotFound(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Get("/api/v1/users/usr-missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListUsers_ReturnsAllInCreationOrder(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	first := ts.createUser(t, "Dana", true)
	second := ts.createUser(t, "Riley", false)

	resp := ts.api.Get("/api/v1/users")
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope testEnvelope[ListUsersResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	require.Len(t, envelope.Data.Users, 2)
	assert.Equal(t, first.ID, envelope.Data.Users[0].ID)
	assert.Equal(t, second.ID, envelope.Data.Users[1].ID)

	assert.NotContains(t, resp.Body.String(), "tok-dana")
	assert.NotContains(t, resp.Body.String(), "tok-riley")
}

func TestListUsers_EmptyInitially(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Get("/api/v1/users")
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope testEnvelope[ListUsersResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	assert.True(t, envelope.Success)
	assert.Empty(t, envelope.Data.Users)
}

func TestDeleteUser_RemovesUser(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	resp := ts.api.Delete("/api/v1/users/" + user.ID)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/users/" + user.ID)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// Deleting again is a no-op, not an error.
	resp = ts.api.Delete("/api/v1/users/" + user.ID)
	assert.Equal(t, http.StatusOK, resp.Code)
}
