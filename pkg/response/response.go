package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Niiaks/Patron/internal/apperror"
)

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type Success struct {
	Success bool `json:"success"`
}

// WriteJSON writes v as the JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteOK writes {"success": true}.
func WriteOK(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, Success{Success: true})
}

// WriteError renders err as an error envelope. Untyped errors become a retryable internal error
// without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	body := ErrorBody{
		Code:      string(apperror.KindInternal),
		Message:   "internal error",
		Retryable: true,
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind != apperror.KindInternal {
		body = ErrorBody{
			Code:      string(appErr.Kind),
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}
	}

	WriteJSON(w, apperror.HTTPStatus(apperror.Kind(body.Code)), ErrorEnvelope{Error: body})
}
