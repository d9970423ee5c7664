package httpx

import (
	"errors"
	"net/http"

	"encoding/json"

	"github.com/harbornex/harbor/internal/repository"
	"github.com/harbornex/harbor/internal/service/assign"
	"github.com/harbornex/harbor/internal/service/deploy"
	"github.com/harbornex/harbor/internal/service/webhook"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError maps known error kinds to stable statuses and falls back
// to the handler-supplied status for everything else.
func respondError(w http.ResponseWriter, err error, fallback int) {
	status := fallback
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, assign.ErrChunkInUse):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, deploy.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, webhook.ErrInvalidSignature):
		status = http.StatusUnauthorized
	}
	writeError(w, status, err.Error())
}
