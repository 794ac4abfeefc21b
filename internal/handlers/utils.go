package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/folio-press/apiserver/internal/auth"
	"github.com/rs/zerolog/hlog"
)

const maxJSONBodyBytes = 1 << 20

// Stable error codes returned alongside the human readable message.
const (
	codeInvalidRequest = "invalid_request"
	codeValidation     = "validation_error"
	codeNotFound       = "not_found"
	codeConflict       = "conflict"
	codeForbidden      = "forbidden"
	codeUnauthorized   = "unauthorized"
	codeInternal       = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeServiceError maps an error from the service layer to a response.
// Anything outside the auth taxonomy is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	authErr, ok := auth.AsError(err)
	if !ok {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	switch authErr.Kind {
	case auth.KindValidation:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: authErr.Error(), Code: codeValidation, Field: authErr.Field})
	case auth.KindAuthentication:
		code := string(authErr.Reason)
		if code == "" {
			code = codeUnauthorized
		}
		writeError(w, http.StatusUnauthorized, code, authErr.Error())
	case auth.KindNotFound:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: authErr.Error(), Code: codeNotFound, Field: authErr.Field})
	case auth.KindConflict:
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: authErr.Error(), Code: codeConflict, Field: authErr.Field})
	default:
		hlog.FromRequest(r).Error().Err(err).Str("kind", authErr.Kind.String()).Msg("unmapped error kind")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return errors.New("invalid request body")
	}
	return nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
