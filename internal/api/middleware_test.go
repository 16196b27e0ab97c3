package api

import (
	"encoding/json/v2"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeTransformer_AlwaysIncludesVersion(t *testing.T) {
	tests := []struct {
		name   string
		status string
		input  any
	}{
		{
			name:   "success response",
			status: "200",
			input:  map[string]string{"key": "value"},
		},
		{
			name:   "created response",
			status: "201",
			input:  map[string]string{"id": "usr-123"},
		},
		{
			name:   "no content response",
			status: "204",
			input:  nil,
		},
		{
			name:   "bad request error",
			status: "400",
			input:  errors.New("invalid input"),
		},
		{
			name:   "not found error",
			status: "404",
			input:  errors.New("user not found"),
		},
		{
			name:   "conflict error with details",
			status: "409",
			input: &APIError{
				Code:    "SYNC_CONFLICT",
				Message: "a shared record with matching content already exists",
				Details: map[string]string{"shared_id": "rec-123"},
			},
		},
		{
			name:   "internal server error",
			status: "500",
			input:  errors.New("internal error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := EnvelopeTransformer(nil, tt.status, tt.input)
			require.NoError(t, err)

			// Marshal to JSON and parse as generic map to check structure
			jsonBytes, err := json.Marshal(result)
			require.NoError(t, err)

			var envelope map[string]any
			err = json.Unmarshal(jsonBytes, &envelope)
			require.NoError(t, err)

			// Verify version field exists and has correct value
			require.Contains(t, envelope, "v", "Envelope must contain version field 'v'")
			assert.Equal(t, float64(EnvelopeVersion), envelope["v"], "Version must be %d", EnvelopeVersion)
		})
	}
}

func TestEnvelopeTransformer_SuccessResponse(t *testing.T) {
	data := map[string]string{"display_name": "Dana"}

	result, err := EnvelopeTransformer(nil, "200", data)
	require.NoError(t, err)

	envelope, ok := result.(APIEnvelope)
	require.True(t, ok, "Expected APIEnvelope type")

	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.True(t, envelope.Success)
	assert.Equal(t, data, envelope.Data)
	assert.Empty(t, envelope.Error)
}

func TestEnvelopeTransformer_ErrorResponse(t *testing.T) {
	result, err := EnvelopeTransformer(nil, "400", errors.New("validation failed"))
	require.NoError(t, err)

	envelope, ok := result.(APIEnvelope)
	require.True(t, ok, "Expected APIEnvelope type")

	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.False(t, envelope.Success)
	assert.Nil(t, envelope.Data)
	assert.Equal(t, "validation failed", envelope.Error)
}

func TestEnvelopeTransformer_ErrorWithDetails(t *testing.T) {
	apiErr := &APIError{
		Code:    "SYNC_CONFLICT",
		Message: "a shared record with matching content already exists",
		Details: map[string]string{"shared_id": "rec-9", "owner_id": "usr-2"},
	}

	result, err := EnvelopeTransformer(nil, "409", apiErr)
	require.NoError(t, err)

	envelope, ok := result.(APIErrorEnvelope)
	require.True(t, ok, "Expected APIErrorEnvelope type")

	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.Equal(t, "SYNC_CONFLICT", envelope.Code)
	assert.Equal(t, "a shared record with matching content already exists", envelope.Message)
	assert.Equal(t, map[string]string{"shared_id": "rec-9", "owner_id": "usr-2"}, envelope.Details)
}

func TestEnvelopeTransformer_CodelessAPIErrorStaysSimple(t *testing.T) {
	// An APIError without a machine-readable code renders as the plain
	// error shape; the detailed envelope is reserved for coded errors.
	result, err := EnvelopeTransformer(nil, "404", &APIError{Message: "user not found"})
	require.NoError(t, err)

	envelope, ok := result.(APIEnvelope)
	require.True(t, ok, "Expected APIEnvelope type")

	assert.False(t, envelope.Success)
	assert.Equal(t, "user not found", envelope.Error)
}

func TestEnvelopeTransformer_FailureStatusWithoutError(t *testing.T) {
	// A 4xx status whose body is not an error value still reports
	// success=false; the status string is the source of truth.
	result, err := EnvelopeTransformer(nil, "429", nil)
	require.NoError(t, err)

	envelope, ok := result.(APIEnvelope)
	require.True(t, ok, "Expected APIEnvelope type")

	assert.False(t, envelope.Success)
}

func TestRecoverPanics_AnswersEnveloped500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := recoverPanics(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("record pointer was nil")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/users", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, float64(EnvelopeVersion), envelope["v"])
	assert.Equal(t, false, envelope["success"])
	assert.NotEmpty(t, envelope["error"])
}

func TestRecoverPanics_PassesCleanRequestsThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := recoverPanics(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecoverPanics_RethrowsAbortHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := recoverPanics(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	w := httptest.NewRecorder()
	assert.Panics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/users", nil))
	})
}
