package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"punchclock/internal/db"
	"punchclock/internal/geofence"
	"punchclock/internal/identity"
	"punchclock/internal/punch"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *geofence.ViolationError
	var fieldErrs validator.ValidationErrors

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, punch.ErrNotAuthenticated), errors.Is(err, identity.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, punch.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, punch.ErrSessionAlreadyOpen),
		errors.Is(err, punch.ErrSessionAlreadyClosed),
		errors.Is(err, punch.ErrConflict),
		errors.Is(err, db.ErrDuplicateOpenPunch):
		status = http.StatusConflict
	case errors.Is(err, punch.ErrCheckpointLimit):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &violation):
		status = http.StatusForbidden
	case errors.Is(err, punch.ErrInvalidCompanyCode), errors.As(err, &fieldErrs):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
