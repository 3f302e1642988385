package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"moviestream/internal/domain"
	"moviestream/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeUseCaseError maps the error taxonomy onto status codes. Client input
// problems are 4xx; acquisition and transcode failures are 5xx.
func writeUseCaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, "invalid_source", err.Error())
	case errors.Is(err, domain.ErrFetchFailed):
		writeError(w, http.StatusBadRequest, "fetch_failed", err.Error())
	case errors.Is(err, usecase.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrUnknownHash):
		writeError(w, http.StatusNotFound, "unknown_hash", "unknown hash")
	case errors.Is(err, domain.ErrNoVideoFile):
		writeError(w, http.StatusInternalServerError, "no_video_file", err.Error())
	case errors.Is(err, domain.ErrEngine):
		writeError(w, http.StatusInternalServerError, "engine_error", err.Error())
	case errors.Is(err, domain.ErrTranscodeFailed):
		writeError(w, http.StatusInternalServerError, "transcode_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	return false
}

func hashFromQuery(r *http.Request) (domain.ContentHash, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("hash"))
	if raw == "" {
		return "", errors.New("hash is required")
	}
	hash, err := domain.ParseContentHash(raw)
	if err != nil {
		return "", errors.New("hash must be 40 hex characters")
	}
	return hash, nil
}
