// Package respond writes the API response envelope:
//
//	{"payload": {...}}
//	{"error": {"errorCode": 1103, "errorMessage": "..."}}
//
// Error responses also carry the code in the X-ErrorCode header.
package respond

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorCodeHeader carries the numeric error code of failed responses.
const ErrorCodeHeader = "X-ErrorCode"

type envelope struct {
	Payload any        `json:"payload,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSON writes payload with status 200.
func JSON(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{Payload: payload})
}

// Success writes {"payload":{"success":true}}.
func Success(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, envelope{Payload: map[string]bool{"success": true}})
}

// Empty writes a bodyless 204.
func Empty(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an error envelope.
func Error(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set(ErrorCodeHeader, strconv.Itoa(code))
	writeJSON(w, status, envelope{Error: &errorBody{ErrorCode: code, ErrorMessage: message}})
}
