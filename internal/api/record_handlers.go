package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tandemapp/tandem-server/internal/domain"
	domainerrors "github.com/tandemapp/tandem-server/internal/errors"
)

func (s *Server) registerRecordRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "createRecord",
		Method:      http.MethodPost,
		Path:        "/api/v1/users/{id}/records",
		Summary:     "Create record",
		Description: "Creates a record in the user's private database. Partner-relevant records are mirrored in the background; mirroring failures never fail the creation.",
		Tags:        []string{"Records"},
	}, s.handleCreateRecord)

	huma.Register(s.api, huma.Operation{
		OperationID: "quickAddRecord",
		Method:      http.MethodPost,
		Path:        "/api/v1/users/{id}/records/quick",
		Summary:     "Quick-add record",
		Description: "Parses a natural-language phrase like \"Dinner with Alex tomorrow 7pm at Luigi's\" into a record, creates it, and mirrors it in the background when partner-relevant.",
		Tags:        []string{"Records"},
	}, s.handleQuickAddRecord)

	huma.Register(s.api, huma.Operation{
		OperationID: "setRecordRelevance",
		Method:      http.MethodPatch,
		Path:        "/api/v1/users/{id}/records/{recordID}/relevance",
		Summary:     "Set partner relevance",
		Description: "Flips the partner-relevant flag on a private record and synchronously creates or removes its mirror.",
		Tags:        []string{"Records"},
	}, s.handleSetRelevance)
}

// === DTOs ===

// RecordResponse contains record data in API responses.
type RecordResponse struct {
	ID               string    `json:"id" doc:"Record ID"`
	Title            string    `json:"title" doc:"Record title"`
	Start            time.Time `json:"start" doc:"Start time"`
	End              time.Time `json:"end,omitzero" doc:"End time"`
	Location         string    `json:"location,omitempty" doc:"Location"`
	Description      string    `json:"description,omitempty" doc:"Free-form description"`
	Tags             []string  `json:"tags,omitempty" doc:"Tags"`
	PartnerRelevant  bool      `json:"partner_relevant" doc:"Whether the record is mirrored to the shared database"`
	SyncedToSharedID string    `json:"synced_to_shared_id,omitempty" doc:"ID of the shared mirror, once one exists"`
	CreatedAt        time.Time `json:"created_at,omitzero" doc:"Creation time"`
}

func recordResponse(r *domain.Record) RecordResponse {
	return RecordResponse{
		ID:               r.ID,
		Title:            r.Title,
		Start:            r.Start,
		End:              r.End,
		Location:         r.Location,
		Description:      r.Description,
		Tags:             r.Tags,
		PartnerRelevant:  r.PartnerRelevant,
		SyncedToSharedID: r.SyncedToSharedID,
		CreatedAt:        r.CreatedAt,
	}
}

// CreateRecordRequest is the request body for creating a record.
type CreateRecordRequest struct {
	Title           string    `json:"title" validate:"required,max=200" doc:"Record title"`
	Start           FlexTime  `json:"start" validate:"required" doc:"Start time (RFC3339, date, or epoch ms)"`
	End             *FlexTime `json:"end,omitempty" doc:"End time, must be after start"`
	Location        string    `json:"location,omitempty" validate:"max=200" doc:"Location"`
	Description     string    `json:"description,omitempty" validate:"max=2000" doc:"Free-form description"`
	Tags            []string  `json:"tags,omitempty" validate:"max=20,dive,max=50" doc:"Tags"`
	PartnerRelevant bool      `json:"partner_relevant,omitempty" doc:"Mirror this record to the shared database"`
}

// CreateRecordInput wraps the create record request for Huma.
type CreateRecordInput struct {
	ID   string `path:"id" doc:"User ID"`
	Body CreateRecordRequest
}

// RecordOutput wraps the record response for Huma.
type RecordOutput struct {
	Body RecordResponse
}

// QuickAddRequest is the request body for quick-adding a record.
type QuickAddRequest struct {
	Text string `json:"text" validate:"required,max=500" doc:"Natural-language phrase to parse"`
}

// QuickAddInput wraps the quick-add request for Huma.
type QuickAddInput struct {
	ID   string `path:"id" doc:"User ID"`
	Body QuickAddRequest
}

// SetRelevanceRequest is the request body for toggling partner relevance.
type SetRelevanceRequest struct {
	PartnerRelevant bool `json:"partner_relevant" doc:"New value of the flag"`
}

// SetRelevanceInput wraps the relevance request for Huma.
type SetRelevanceInput struct {
	ID       string `path:"id" doc:"User ID"`
	RecordID string `path:"recordID" doc:"Private record ID"`
	Body     SetRelevanceRequest
}

// RecordSyncResponse reports a record together with the outcome of the
// synchronous sync a handler ran for it.
type RecordSyncResponse struct {
	Record RecordResponse `json:"record" doc:"The private record after the operation"`
	Sync   SyncOutcome    `json:"sync" doc:"Outcome of the synchronous mirror sync"`
}

// RecordSyncOutput wraps the record-with-sync response for Huma.
type RecordSyncOutput struct {
	Body RecordSyncResponse
}

// === Handlers ===

func (s *Server) handleCreateRecord(ctx context.Context, input *CreateRecordInput) (*RecordOutput, error) {
	if err := s.validate.Validate(&input.Body); err != nil {
		return nil, err
	}

	user, err := s.registry.GetUser(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	rec := &domain.Record{
		Title:           input.Body.Title,
		Start:           input.Body.Start.ToTime(),
		Location:        input.Body.Location,
		Description:     input.Body.Description,
		Tags:            input.Body.Tags,
		PartnerRelevant: input.Body.PartnerRelevant,
	}
	if input.Body.End != nil {
		rec.End = input.Body.End.ToTime()
	}
	if err := rec.Validate(); err != nil {
		return nil, domainerrors.Validation(err.Error())
	}

	if err := s.createAndPropagate(ctx, user, rec); err != nil {
		return nil, err
	}

	return &RecordOutput{Body: recordResponse(rec)}, nil
}

func (s *Server) handleQuickAddRecord(ctx context.Context, input *QuickAddInput) (*RecordOutput, error) {
	if err := s.validate.Validate(&input.Body); err != nil {
		return nil, err
	}

	user, err := s.registry.GetUser(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if user.Timezone != "" {
		if l, lerr := time.LoadLocation(user.Timezone); lerr == nil {
			loc = l
		} else {
			s.logger.Warn("invalid user timezone, falling back to UTC",
				"user_id", user.ID,
				"timezone", user.Timezone,
			)
		}
	}

	rec, err := s.parser.Parse(input.Body.Text, time.Now(), loc)
	if err != nil {
		return nil, err
	}

	if err := s.createAndPropagate(ctx, user, rec); err != nil {
		return nil, err
	}

	return &RecordOutput{Body: recordResponse(rec)}, nil
}

func (s *Server) handleSetRelevance(ctx context.Context, input *SetRelevanceInput) (*RecordSyncOutput, error) {
	user, err := s.registry.GetUser(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	handles, err := s.opener.ForUser(user)
	if err != nil {
		return nil, err
	}

	rec, err := handles.Private.Get(ctx, input.RecordID)
	if err != nil {
		return nil, err
	}

	if rec.PartnerRelevant != input.Body.PartnerRelevant {
		rec.PartnerRelevant = input.Body.PartnerRelevant
		if err := handles.Private.Update(ctx, rec.ID, rec); err != nil {
			return nil, err
		}
	}

	// The toggle is the one mutation whose effect the caller waits for:
	// the record appears in (or vanishes from) the partner's view before
	// the response lands. The bound keeps the handler from sitting
	// through the engine's full backoff schedule; a timed-out sync is
	// picked up by the next reconciliation.
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	res := s.engine.SyncRecord(syncCtx, user, rec, false)
	if res.Err != nil {
		s.logger.Warn("relevance sync failed",
			"user_id", user.ID,
			"record_id", rec.ID,
			"error", res.Err,
		)
	}

	return &RecordSyncOutput{Body: RecordSyncResponse{
		Record: recordResponse(rec),
		Sync:   syncOutcome(res),
	}}, nil
}

// createAndPropagate writes the record to the user's private database
// and, when it is partner-relevant and the user is paired, mirrors it in
// the background. The creation succeeds no matter what the mirror does.
func (s *Server) createAndPropagate(ctx context.Context, user *domain.User, rec *domain.Record) error {
	handles, err := s.opener.ForUser(user)
	if err != nil {
		return err
	}

	id, err := handles.Private.Create(ctx, rec)
	if err != nil {
		return err
	}
	rec.ID = id

	s.logger.Info("record created",
		"user_id", user.ID,
		"record_id", rec.ID,
		"partner_relevant", rec.PartnerRelevant,
	)

	if rec.PartnerRelevant && user.SyncEnabled() {
		// Detach from the request: the response does not wait for the
		// mirror, and canceling the request must not abort it.
		bgCtx := context.WithoutCancel(ctx)
		go func() {
			if res := s.engine.SyncRecord(bgCtx, user, rec, false); res.Err != nil {
				s.logger.Warn("background mirror sync failed",
					"user_id", user.ID,
					"record_id", rec.ID,
					"error", res.Err,
				)
			}
		}()
	}

	return nil
}
