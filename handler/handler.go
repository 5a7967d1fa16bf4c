package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"ewintr.nl/ytsum/model"
)

type respMessage struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Details []any  `json:"details,omitempty"`
}

func Index(w http.ResponseWriter) {
	Message(w, http.StatusOK, "ytsum index")
}

func Message(w http.ResponseWriter, status int, message string, details ...any) {
	writeMessage(w, status, respMessage{Message: message, Details: details})
}

func Error(w http.ResponseWriter, status int, message string, err error, details ...any) {
	writeMessage(w, status, respMessage{Message: message, Error: err.Error(), Details: details})
}

// writeMessage falls back to the bare message when the details can not be
// encoded.
func writeMessage(w http.ResponseWriter, status int, msg respMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		msg.Details = []any{err.Error()}
		body, _ = json.Marshal(msg)
	}
	w.WriteHeader(status)
	w.Write(body)
}

func JSON(w http.ResponseWriter, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.WriteHeader(status)
	w.Write(body)

	return nil
}

// StatusFor picks the response code for an error from the core.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrIntegrity):
		return http.StatusConflict
	case errors.Is(err, model.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
