package routes

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nicolagi/bitsd/environment"
	log "github.com/sirupsen/logrus"
)

// RequestIDHeader carries the id the service assigned to a request.
const RequestIDHeader = "X-Request-Id"

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// WriteError replies with the given status and description.
func WriteError(w http.ResponseWriter, status int, description string) {
	writeJSON(w, status, ErrorBody{Code: status, Description: description})
}

// WriteInternalError replies with 500. The error detail is only exposed where
// environment.DumpErrors allows it.
func WriteInternalError(w http.ResponseWriter, err error) {
	description := "Internal server error"
	if environment.DumpErrors() {
		description = fmt.Sprintf("%s: %v", description, err)
	}
	WriteError(w, http.StatusInternalServerError, description)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Error("Failed writing response")
	}
}

func requestLogger(r *http.Request, op string) *log.Entry {
	return log.WithFields(log.Fields{
		"op":         op,
		"request_id": r.Header.Get(RequestIDHeader),
	})
}
