package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"procodus.dev/ipdr/internal/geoloc"
	"procodus.dev/ipdr/internal/ipdr"
)

// envelope is the response body of every endpoint.
type envelope struct {
	Message any `json:"message"`
	Code    int `json:"code"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

func (a *API) respond(w http.ResponseWriter, status int, message any) {
	a.writeJSON(w, status, envelope{Message: message, Code: status})
}

// fail maps err onto a status code. Client errors echo the error text;
// server errors are logged and answered with a fixed message.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		a.respond(w, status, err.Error())
		return
	}

	a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)

	msg := "internal server error"
	switch {
	case errors.Is(err, ipdr.ErrStorageUnavailable):
		msg = "storage unavailable"
	case errors.Is(err, geoloc.ErrUpstreamTimeout):
		msg = "upstream service timed out"
	case errors.Is(err, geoloc.ErrUpstreamError):
		msg = "upstream service failed"
	}
	a.respond(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ipdr.ErrInvalidRequest),
		errors.Is(err, ipdr.ErrValidation),
		errors.Is(err, ipdr.ErrNormalization):
		return http.StatusBadRequest
	case errors.Is(err, ipdr.ErrNotFound),
		errors.Is(err, geoloc.ErrNoLocation):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON object body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body is not a valid JSON object: %w", ipdr.ErrInvalidRequest, err)
	}
	return nil
}
