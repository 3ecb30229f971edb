package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/sirupsen/logrus"
)

var (
	errBadBody   = errors.New("request body is not valid JSON")
	errAdminOnly = errors.New("admin role required")
)

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound, apperr.BackupUnavailable:
		return http.StatusNotFound
	case apperr.AccessDenied:
		return http.StatusForbidden
	case apperr.ValidationFailed:
		return http.StatusUnprocessableEntity
	case apperr.IntegrityViolation:
		return http.StatusConflict
	case apperr.ConnectivityFailure:
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Result any    `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("server: failed to write response: %v", err)
	}
}

// writeError translates a domain error into its status. result, when set,
// is returned alongside the error.
func writeError(w http.ResponseWriter, r *http.Request, err error, result any) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logrus.WithField("path", r.URL.Path).Errorf("request failed: %v", err)
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err)), Result: result})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.ValidationFailed, "decode", errBadBody, "%v", err)
	}

	return nil
}
