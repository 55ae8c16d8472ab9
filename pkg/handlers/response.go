// Package handlers implements the HTTP surface of the pgai services. Every
// response uses the platform envelope so clients parse one shape for both
// success and failure.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/middleware"
)

// Meta carries the per-response trace fields.
type Meta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
	Version   string `json:"version"`
}

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope is the platform response shape.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

// Responder writes envelopes with the service's version stamped into meta.
// Internal error details are hidden outside the local environment.
type Responder struct {
	version string
	env     string
	logger  *zap.Logger
}

// NewResponder creates a Responder for one service binary.
func NewResponder(version, env string, logger *zap.Logger) *Responder {
	return &Responder{version: version, env: env, logger: logger}
}

func (rs *Responder) meta(r *http.Request) Meta {
	return Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: middleware.GetRequestID(r.Context()),
		Version:   rs.version,
	}
}

// JSON writes a success envelope with the given status.
func (rs *Responder) JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Success: true, Data: data, Meta: rs.meta(r)}); err != nil {
		rs.logger.Error("failed to encode response", zap.Error(err))
	}
}

// OK writes a 200 success envelope.
func (rs *Responder) OK(w http.ResponseWriter, r *http.Request, data any) {
	rs.JSON(w, r, http.StatusOK, data)
}

// Created writes a 201 success envelope.
func (rs *Responder) Created(w http.ResponseWriter, r *http.Request, data any) {
	rs.JSON(w, r, http.StatusCreated, data)
}

// Error maps err through the apperrors taxonomy and writes the error
// envelope. Operational kinds log at warn; internal ones log at error and
// surface a generic message outside local.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)
	message := err.Error()

	if kind == apperrors.KindInternal {
		rs.logger.Error("internal error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		if rs.env != "local" {
			message = "unexpected error"
		}
	} else {
		rs.logger.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}

	rs.writeError(w, r, kind.HTTPStatus(), string(kind), message, apperrors.DetailsOf(err))
}

// ErrorKind writes an error envelope for a kind with an explicit message,
// bypassing error inspection.
func (rs *Responder) ErrorKind(w http.ResponseWriter, r *http.Request, kind apperrors.Kind, message string) {
	rs.writeError(w, r, kind.HTTPStatus(), string(kind), message, nil)
}

func (rs *Responder) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message, Details: details},
		Meta:    rs.meta(r),
	}); err != nil {
		rs.logger.Error("failed to encode error response", zap.Error(err))
	}
}

// DecodeJSON parses a request body into dst, translating malformed input
// into a validation error.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "invalid request body", err)
	}
	return nil
}
