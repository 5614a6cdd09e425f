package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"flowbot/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/moogar0880/problems"
	"go.uber.org/zap"
)

// retryDetail is shown for engine-side failures instead of their cause.
const retryDetail = "Something went wrong, please try again"

const problemMediaType = "application/problem+json"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, problem interface{}) {
	w.Header().Set("Content-Type", problemMediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, http.StatusBadRequest, problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(r.URL.Path).
		WithType("validation_error").
		WithDetail(detail))
}

// validationError flattens validator errors into one detail line.
func validationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		badRequest(w, r, err.Error())
		return
	}
	detail := ""
	for i, fe := range verrs {
		if i > 0 {
			detail += "; "
		}
		detail += fe.Field() + " failed " + fe.Tag()
	}
	badRequest(w, r, detail)
}

// WriteError maps an engine error to a problem response.
func WriteError(w http.ResponseWriter, r *http.Request, err error, log *zap.Logger) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, model.ErrGraphInvalid):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrTimeout):
		status = http.StatusGatewayTimeout
	}

	detail := err.Error()
	if model.IsFatal(err) || status == http.StatusInternalServerError {
		detail = retryDetail
	}
	log.Warn("API error",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", model.Code(err)),
		zap.Error(err),
	)

	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(model.Code(err)).
		WithDetail(detail)
	writeProblem(w, status, problem)
}

// RequestLogger logs HTTP requests and responses
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// WebSocket upgrades need the raw ResponseWriter.
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
