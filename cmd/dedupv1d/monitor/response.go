// Package monitor hosts the HTTP control/introspection surface described by
// the original dedupv1d monitor system (unit_test/*_monitor_test.cc): a set
// of small JSON endpoints an operator or test harness can poll or prod
// rather than a user-facing API, grounded on the teacher's pkg/api router
// and response wrapper.
package monitor

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the JSON envelope every monitor endpoint returns.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// JSON writes data wrapped in Response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(OKResponse(data)); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OKResponse wraps a successful payload.
func OKResponse(data interface{}) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

// ErrorResponse wraps a failure message and writes it with the given status.
func ErrorResponse(w http.ResponseWriter, status int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	})
}
