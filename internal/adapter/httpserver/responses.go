package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// envelope is the uniform response body of every JSON endpoint.
type envelope struct {
	OK         bool      `json:"ok"`
	StatusCode int       `json:"statusCode"`
	StatusText string    `json:"statusText"`
	Data       any       `json:"data,omitempty"`
	Error      *envError `json:"error,omitempty"`
}

type envError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:         status < 400,
		StatusCode: status,
		StatusText: http.StatusText(status),
		Data:       data,
	})
}

func writeEnvelopeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	name := "InternalError"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		name = "InvalidArgument"
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		name = "Unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		name = "NotFound"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		name = "Conflict"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		name = "RateLimited"
	case errors.Is(err, domain.ErrOutOfQuota):
		status = http.StatusTooManyRequests
		name = "OutOfQuota"
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
		name = "UpstreamError"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:         false,
		StatusCode: status,
		StatusText: http.StatusText(status),
		Error:      &envError{Name: name, Message: err.Error()},
	})
}
