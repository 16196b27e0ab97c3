package api

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tandemapp/tandem-server/internal/http/response"
)

// EnvelopeVersion is the wire version every response carries in its "v"
// field. Bump it only for changes a client cannot absorb silently.
const EnvelopeVersion = 1

// APIEnvelope wraps successful responses and plain errors.
type APIEnvelope struct {
	Version int    `json:"v" doc:"Envelope version"`
	Success bool   `json:"success" doc:"Whether the request succeeded"`
	Data    any    `json:"data,omitempty" doc:"Response payload"`
	Error   string `json:"error,omitempty" doc:"Error message when success is false"`
}

// APIErrorEnvelope wraps structured errors that carry a machine-readable
// code and optional details alongside the message.
type APIErrorEnvelope struct {
	Version int    `json:"v" doc:"Envelope version"`
	Code    string `json:"code" doc:"Machine-readable error code"`
	Message string `json:"message" doc:"Human-readable error message"`
	Details any    `json:"details,omitempty" doc:"Additional error details"`
}

// EnvelopeTransformer wraps every huma response in a versioned envelope.
// Success bodies become {v, success, data}; errors become either the
// detailed {v, code, message, details} shape when the handler raised an
// *APIError with a code, or the plain {v, success:false, error} shape
// otherwise.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	if apiErr, ok := v.(*APIError); ok && apiErr.Code != "" {
		return APIErrorEnvelope{
			Version: EnvelopeVersion,
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}, nil
	}

	if err, ok := v.(error); ok {
		return APIEnvelope{
			Version: EnvelopeVersion,
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	success := true
	if len(status) > 0 && status[0] >= '4' {
		success = false
	}

	return APIEnvelope{
		Version: EnvelopeVersion,
		Success: success,
		Data:    v,
	}, nil
}

// recoverPanics turns handler panics into enveloped 500 responses.
// chi's stock recoverer answers with a bare status line, which would be
// the one unenveloped body this server ever produced.
func recoverPanics(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("Panic while serving request",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"stack", string(debug.Stack()),
				)
				response.InternalError(w, "Internal server error", logger)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request with method, path, status and
// duration. Health probes are logged at debug to keep the log readable.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if r.URL.Path == "/health" {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

