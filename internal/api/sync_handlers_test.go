package api

import (
	"encoding/json/v2"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileUser_MirrorsSeededRecords(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	// The mobile app wrote these straight to the remote database; the
	// server first hears about them during reconciliation.
	start := time.Date(2026, 9, 12, 19, 0, 0, 0, time.UTC)
	ts.fake.seed("db-dana", privateFields("Dinner", start, true))
	ts.fake.seed("db-dana", privateFields("Dentist", start.Add(24*time.Hour), false))
	ts.fake.seed("db-dana", privateFields("Picnic", start.Add(48*time.Hour), true))

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code, "reconcile failed: %s", resp.Body.String())

	var envelope testEnvelope[RunResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	assert.Equal(t, "manual", envelope.Data.Trigger)
	assert.Equal(t, user.ID, envelope.Data.UserID)
	assert.Equal(t, 2, envelope.Data.Processed, "only partner-relevant records enter the pass")
	assert.Equal(t, 2, envelope.Data.Created)
	assert.Equal(t, 0, envelope.Data.Errors)

	mirrors := ts.fake.liveIn(sharedDB)
	require.Len(t, mirrors, 2)
	titles := []string{mirrors[0].Fields["title"].(string), mirrors[1].Fields["title"].(string)}
	assert.ElementsMatch(t, []string{"Dinner", "Picnic"}, titles)
}

func TestReconcileUser_SecondPassIsIdempotent(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	start := time.Date(2026, 9, 12, 19, 0, 0, 0, time.UTC)
	ts.fake.seed("db-dana", privateFields("Dinner", start, true))

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope testEnvelope[RunResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	assert.Equal(t, 1, envelope.Data.Processed)
	assert.Equal(t, 0, envelope.Data.Created)
	assert.Equal(t, 1, envelope.Data.Skipped)

	require.Len(t, ts.fake.liveIn(sharedDB), 1, "a second pass must not duplicate the mirror")
}

func TestReconcileUser_ReclaimsOrphanedMirrors(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	// A mirror whose source record was deleted outright. Nothing in the
	// private database claims it, so the pass must archive it.
	start := time.Date(2026, 9, 12, 19, 0, 0, 0, time.UTC)
	orphanID := ts.fake.seed(sharedDB, mirrorFields("Ghost", start, "rec-gone", user.ID))

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var envelope testEnvelope[RunResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	assert.Equal(t, 1, envelope.Data.Removed)
	assert.Equal(t, 0, envelope.Data.Errors)

	assert.Empty(t, ts.fake.liveIn(sharedDB))
	raw, ok := ts.fake.record(orphanID)
	require.True(t, ok)
	assert.True(t, raw.Archived)
}

func TestReconcileUser_LeavesOtherUsersMirrorsAlone(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	// The partner's mirror shares the database but not the owner; the
	// reclaim pass must not touch it.
	start := time.Date(2026, 9, 12, 19, 0, 0, 0, time.UTC)
	ts.fake.seed(sharedDB, mirrorFields("Partner plan", start, "rec-partner", "usr-partner"))

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code)

	require.Len(t, ts.fake.liveIn(sharedDB), 1)
}

func TestReconcileUser_SyncDisabledConflicts(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Solo", false)

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusConflict, resp.Code)

	var envelope APIErrorEnvelope
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)
	assert.Equal(t, "CONFLICT", envelope.Code)
}

func TestReconcileUser_UserNotFound(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/users/usr-missing/sync")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestForceSyncRecord_IgnoresRelevanceFlag(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	start := time.Date(2026, 9, 3, 18, 0, 0, 0, time.UTC)
	recID := ts.fake.seed("db-dana", privateFields("Not flagged", start, false))

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/records/" + recID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code, "force sync failed: %s", resp.Body.String())

	var envelope testEnvelope[SyncOutcome]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	assert.Equal(t, "created", envelope.Data.Action)
	assert.NotEmpty(t, envelope.Data.TargetID)

	mirrors := ts.fake.liveIn(sharedDB)
	require.Len(t, mirrors, 1)
	assert.Equal(t, envelope.Data.TargetID, mirrors[0].ID)

	// The pointer lands on the private record even though the flag
	// stays off.
	priv, ok := ts.fake.record(recID)
	require.True(t, ok)
	assert.Equal(t, mirrors[0].ID, priv.Fields["synced_to_shared_id"])
	assert.Equal(t, false, priv.Fields["partner_relevant"])
}

func TestForceSyncRecord_MissingRecord(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/records/rec-missing/sync")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListRuns_NewestFirst(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := ts.createUser(t, "Dana", true)

	resp := ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = ts.api.Post("/api/v1/users/" + user.ID + "/sync")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/users/" + user.ID + "/runs")
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope testEnvelope[RunsResponse]
	err := json.Unmarshal(resp.Body.Bytes(), &envelope)
	require.NoError(t, err)

	require.Len(t, envelope.Data.Runs, 2)
	assert.Equal(t, "manual", envelope.Data.Runs[0].Trigger)
	assert.False(t, envelope.Data.Runs[0].StartedAt.Before(envelope.Data.Runs[1].StartedAt),
		"runs must come back newest first")

	resp = ts.api.Get("/api/v1/users/" + user.ID + "/runs?limit=1")
	require.Equal(t, http.StatusOK, resp.Code)

	var limited testEnvelope[RunsResponse]
	err = json.Unmarshal(resp.Body.Bytes(), &limited)
	require.NoError(t, err)

	require.Len(t, limited.Data.Runs, 1)
	assert.Equal(t, envelope.Data.Runs[0].ID, limited.Data.Runs[0].ID)
}

func TestListRuns_UserNotFound(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Get("/api/v1/users/usr-missing/runs")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
