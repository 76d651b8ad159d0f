// internal/transport/http/response.go
package http

import (
	"encoding/json"
	"net/http"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
)

// envelope — единый формат ответа API: {code, message, data}.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON пишет успешный ответ.
func JSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Code: http.StatusOK, Message: "ok", Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Code: code, Message: msg})
}

func BadRequest(w http.ResponseWriter, msg string)   { writeError(w, http.StatusBadRequest, msg) }
func Unauthorized(w http.ResponseWriter, msg string) { writeError(w, http.StatusUnauthorized, msg) }
func Forbidden(w http.ResponseWriter, msg string)    { writeError(w, http.StatusForbidden, msg) }
func InternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, msg)
}

// Error маппит ошибку из таксономии apperr в HTTP-статус.
func Error(w http.ResponseWriter, err error) {
	switch {
	case apperr.Is(err, apperr.ErrInvalidPayload):
		BadRequest(w, "invalid payload")
	case apperr.Is(err, apperr.ErrAuthFailed):
		Unauthorized(w, "authentication failed")
	case apperr.Is(err, apperr.ErrTokenInvalid):
		Unauthorized(w, "token invalid")
	case apperr.Is(err, apperr.ErrForbidden):
		Forbidden(w, "forbidden")
	default:
		InternalError(w, "internal server error")
	}
}
