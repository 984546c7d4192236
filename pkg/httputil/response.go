package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteMessage writes {"message": message} with the given status code
func WriteMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Message: message})
}

// WriteDecision writes the status and message of a denied decision
func WriteDecision(w http.ResponseWriter, d access.Decision) {
	WriteMessage(w, d.HTTPStatus(), d.Message())
}

// WriteBadRequest writes a 400 with a "400 Bad request - " prefixed message
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusBadRequest, "400 Bad request - "+message)
}

// WriteNotFound writes a 404 naming what was not found
func WriteNotFound(w http.ResponseWriter, what string) {
	WriteMessage(w, http.StatusNotFound, "404 "+what+" Not Found")
}

// WriteConflict writes a 409
func WriteConflict(w http.ResponseWriter, message string) {
	WriteMessage(w, http.StatusConflict, message)
}

// WriteInternalError writes a 500. The cause is never sent to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteMessage(w, http.StatusInternalServerError, "500 Internal Server Error")
}

// WriteCreated writes a 201 with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a 200 with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a 204
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
