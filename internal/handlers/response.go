package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/service"
)

const (
	msgCheckFieldTypes = "check the field types"
	msgCheckFieldNames = "check the field names"
	msgLoginFailed     = "No active account found with the given credentials"
	msgTooManyRequests = "Request was throttled. Expected available later."
	msgConflict        = "the request conflicted with a concurrent change, try again"
	msgServerError     = "Requested API Server Error"
	msgNotFound        = "Requested API URL not found"
	msgTokenInvalid    = "Token is invalid or expired"

	maxBodyBytes = 1 << 16
)

var (
	errFieldTypes = errors.New(msgCheckFieldTypes)
	errFieldNames = errors.New(msgCheckFieldNames)
)

// FieldErrors is the error body shape: field name to messages.
type FieldErrors map[string][]string

type DetailResponse struct {
	Detail string `json:"detail"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithMessage(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, FieldErrors{service.FieldMessage: {message}})
}

func respondWithDetail(w http.ResponseWriter, status int, detail string) {
	respondWithJSON(w, status, DetailResponse{Detail: detail})
}

// respondWithError maps service errors onto HTTP responses. Unknown errors
// are logged and hidden behind a generic 500.
func respondWithError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		respondWithJSON(w, http.StatusBadRequest, FieldErrors(ve.Fields))
	case errors.Is(err, errFieldTypes), errors.Is(err, errFieldNames):
		respondWithMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		respondWithDetail(w, http.StatusUnauthorized, msgLoginFailed)
	case errors.Is(err, service.ErrInvalidToken):
		respondWithDetail(w, http.StatusUnauthorized, msgTokenInvalid)
	case errors.Is(err, service.ErrTooManyRequests):
		respondWithDetail(w, http.StatusTooManyRequests, msgTooManyRequests)
	case errors.Is(err, service.ErrConflict):
		respondWithDetail(w, http.StatusConflict, msgConflict)
	default:
		logger.WithError(err).Error("Request failed")
		respondWithDetail(w, http.StatusInternalServerError, msgServerError)
	}
}

// decodeJSON decodes a JSON object body into dst. Bodies that are not an
// object, or values of the wrong type, yield errFieldTypes; a missing
// required key yields errFieldNames.
func decodeJSON(r *http.Request, dst interface{}, required ...string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errFieldTypes
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return errFieldTypes
	}
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			return errFieldNames
		}
	}

	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dst); err != nil {
		return errFieldTypes
	}
	return nil
}

// parseCode accepts only a JSON integer; strings and fractions are field
// errors on auth_number.
func parseCode(raw json.RawMessage) (int, error) {
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		return 0, service.NewValidationError(service.FieldAuthNumber, "enter a valid integer")
	}
	return code, nil
}

func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondWithDetail(w, http.StatusNotFound, msgNotFound)
}
