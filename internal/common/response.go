package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the payload under "error" in every failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data writes v under the {"data": ...} envelope.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, struct {
		Data any `json:"data"`
	}{Data: v})
}

// JSONError writes {"error": {"code", "message", "details"}}.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, struct {
		Error ErrorBody `json:"error"`
	}{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

// WriteError renders err. AppErrors keep their code and status; anything else
// is reported as a bare 500 so internals do not leak.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := AsAppError(err)
	if !ok {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
}
