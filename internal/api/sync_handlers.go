package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/sync"
)

func (s *Server) registerSyncRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "reconcileUser",
		Method:      http.MethodPost,
		Path:        "/api/v1/users/{id}/sync",
		Summary:     "Reconcile user",
		Description: "Runs a full two-pass reconciliation for the user and waits for it to finish. Returns the run report; record-level failures show up in its counters, not as a request error.",
		Tags:        []string{"Sync"},
	}, s.handleReconcileUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "syncRecord",
		Method:      http.MethodPost,
		Path:        "/api/v1/users/{id}/records/{recordID}/sync",
		Summary:     "Force-sync record",
		Description: "Syncs one private record immediately, bypassing the change check, and waits for the outcome.",
		Tags:        []string{"Sync"},
	}, s.handleForceSyncRecord)

	huma.Register(s.api, huma.Operation{
		OperationID: "listRuns",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}/runs",
		Summary:     "List reconciliation runs",
		Description: "Returns the user's retained reconciliation history, newest first.",
		Tags:        []string{"Sync"},
	}, s.handleListRuns)
}

// === DTOs ===

// RunResponse contains one reconciliation run in API responses.
type RunResponse struct {
	ID         string    `json:"id" doc:"Run ID"`
	UserID     string    `json:"user_id" doc:"User the run belongs to"`
	Trigger    string    `json:"trigger" doc:"What started the run: scheduled, manual, or record"`
	StartedAt  time.Time `json:"started_at" doc:"When the run started"`
	FinishedAt time.Time `json:"finished_at" doc:"When the run finished"`
	Duration   string    `json:"duration" doc:"How long the run took"`
	Processed  int       `json:"processed" doc:"Records the run looked at"`
	Created    int       `json:"created" doc:"Mirrors created"`
	Updated    int       `json:"updated" doc:"Mirrors updated"`
	Removed    int       `json:"removed" doc:"Mirrors archived"`
	Skipped    int       `json:"skipped" doc:"Records already consistent"`
	Errors     int       `json:"errors" doc:"Records whose sync failed after retries"`
}

func runResponse(run *domain.Run) RunResponse {
	return RunResponse{
		ID:         run.ID,
		UserID:     run.UserID,
		Trigger:    string(run.Trigger),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Duration:   run.Duration().String(),
		Processed:  run.Processed,
		Created:    run.Created,
		Updated:    run.Updated,
		Removed:    run.Removed,
		Skipped:    run.Skipped,
		Errors:     run.Errors,
	}
}

// ReconcileUserInput contains parameters for reconciling a user.
type ReconcileUserInput struct {
	ID string `path:"id" doc:"User ID"`
}

// RunOutput wraps a run response for Huma.
type RunOutput struct {
	Body RunResponse
}

// SyncRecordInput contains parameters for force-syncing one record.
type SyncRecordInput struct {
	ID       string `path:"id" doc:"User ID"`
	RecordID string `path:"recordID" doc:"Private record ID"`
}

// SyncOutcome is the API shape of a single-record sync result.
type SyncOutcome struct {
	Action   string `json:"action,omitempty" doc:"What the sync did: created, updated, removed, or skipped"`
	TargetID string `json:"target_id,omitempty" doc:"Shared record the sync touched"`
	Error    string `json:"error,omitempty" doc:"Why the sync failed, when it did"`
}

func syncOutcome(res sync.Result) SyncOutcome {
	out := SyncOutcome{
		Action:   string(res.Action),
		TargetID: res.TargetID,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// SyncRecordOutput wraps a sync outcome for Huma.
type SyncRecordOutput struct {
	Body SyncOutcome
}

// ListRunsInput contains parameters for listing runs.
type ListRunsInput struct {
	ID    string `path:"id" doc:"User ID"`
	Limit int    `query:"limit" default:"20" minimum:"1" maximum:"200" doc:"Runs per response"`
}

// RunsResponse contains a user's reconciliation history.
type RunsResponse struct {
	Runs []RunResponse `json:"runs" doc:"Runs, newest first"`
}

// RunsOutput wraps the runs response for Huma.
type RunsOutput struct {
	Body RunsResponse
}

// === Handlers ===

func (s *Server) handleReconcileUser(ctx context.Context, input *ReconcileUserInput) (*RunOutput, error) {
	user, err := s.registry.GetUser(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	run, err := s.engine.ReconcileUser(ctx, user, domain.TriggerManual)
	if err != nil {
		return nil, err
	}

	return &RunOutput{Body: runResponse(run)}, nil
}

func (s *Server) handleForceSyncRecord(ctx context.Context, input *SyncRecordInput) (*SyncRecordOutput, error) {
	user, err := s.registry.GetUser(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	res := s.engine.SyncRecordByID(syncCtx, user, input.RecordID, true)
	if res.Err != nil {
		// A forced sync has a single job; if it did not land, the request
		// failed. The mapped status tells the caller whether to fix the
		// record (4xx) or retry later (5xx).
		return nil, res.Err
	}

	return &SyncRecordOutput{Body: syncOutcome(res)}, nil
}

func (s *Server) handleListRuns(ctx context.Context, input *ListRunsInput) (*RunsOutput, error) {
	if _, err := s.registry.GetUser(ctx, input.ID); err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	runs, err := s.registry.ListRuns(ctx, input.ID, limit)
	if err != nil {
		return nil, err
	}

	resp := make([]RunResponse, len(runs))
	for i, run := range runs {
		resp[i] = runResponse(run)
	}

	return &RunsOutput{Body: RunsResponse{Runs: resp}}, nil
}
