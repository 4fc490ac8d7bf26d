// Package response writes the JSON envelope shared by every API endpoint:
//
//	{"success": true, "data": ...}
//	{"success": false, "error": {"message": "...", "code": "..."}}
package response

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mj-trademark/portal/internal/shared/errors"
)

// maxBodyBytes bounds request bodies decoded by Decode.
const maxBodyBytes = 1 << 20

// Envelope is the wire shape of every response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the caller-facing part of an AppError.
type ErrorBody struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

// JSONMessage writes a success envelope with a user-facing message.
func JSONMessage(w http.ResponseWriter, status int, data any, message string) {
	write(w, status, Envelope{Success: true, Data: data, Message: message})
}

// Error maps err to a failure envelope. AppErrors keep their status and
// message; anything else is logged and reported as a generic 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Internal(err)
	}

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	body := &ErrorBody{Message: appErr.Message, Code: appErr.Code}
	if appErr.HTTPStatus < http.StatusInternalServerError {
		body.Details = appErr.Details
	}
	write(w, appErr.HTTPStatus, Envelope{Success: false, Error: body})
}

// Decode reads a JSON request body into v. Malformed or oversized bodies
// become a 400.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.BadRequest("request body is required")
		}
		if strings.Contains(err.Error(), "http: request body too large") {
			return errors.BadRequest("request body too large")
		}
		return errors.BadRequest("request body must be valid JSON")
	}
	return nil
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
