package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"cashbook/internal/core"
	"cashbook/internal/log"
	"cashbook/internal/middleware/trace"
)

const (
	msgInternal    = "Internal server error"
	msgInvalidBody = "Invalid request body"
)

type detailResponse struct {
	Detail string `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

type cashbookCreatedResponse struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

type cashbooksResponse struct {
	Username  string   `json:"username"`
	Cashbooks []string `json:"cashbooks"`
}

type entryAddedResponse struct {
	Message string     `json:"message"`
	Entry   core.Entry `json:"entry"`
}

type entriesResponse struct {
	Entries []core.Entry `json:"entries"`
}

// writeJSON encodes v in full before the status line is written.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Default().WithComponent(log.ComponentHTTP).Error("Failed to encode response", log.FieldError, err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(detailResponse{Detail: msgInternal})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

// writeError maps err onto a status. Domain errors carry their own
// client-safe message; anything else is logged and reported as a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *core.Error
	if errors.As(err, &domainErr) {
		writeDetail(w, statusFor(domainErr.Kind), domainErr.Message)
		return
	}
	if errors.Is(err, errBadRequest) {
		writeDetail(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	ctx := r.Context()
	log.FromContext(ctx).ErrorContext(ctx, "Request failed", log.NewFields().
		WithRequestID(trace.GetRequestID(ctx)).
		WithHTTPRequest(r.Method, r.URL.Path, "", "").
		WithError(err).
		ToSlice()...)
	writeDetail(w, http.StatusInternalServerError, msgInternal)
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindUnauthenticated:
		return http.StatusUnauthorized
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindConflict:
		return http.StatusConflict
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
