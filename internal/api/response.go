package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/relay"
)

// result is the reply shape of every admin operation.
type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, result{Success: false, Message: message})
}

// writeResult renders an admin (message, error) pair, mapping the error to
// its HTTP status.
func writeResult(w http.ResponseWriter, message string, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result{Success: true, Message: message})
}

func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrGroupNotFound), errors.Is(err, relay.ErrEndpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrGroupExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
