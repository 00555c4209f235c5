package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"stock-anomaly/database"
)

// dataResponse is the envelope of every list and object response
type dataResponse struct {
	Data interface{} `json:"data"`
}

// errorResponse is the body of every error response
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// respondData wraps v in {"data": v}
func respondData(w http.ResponseWriter, code int, v interface{}) {
	writeJSON(w, code, dataResponse{Data: v})
}

// respondWithError logs the error and sends a JSON error response
// Use this to avoid exposing internal errors while still logging them
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	event := log.Warn()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Int("status", code).Str("component", "api").Msg(message)
	writeJSON(w, code, errorResponse{Detail: message})
}

// respondWithStoreError maps repository errors to status codes
func respondWithStoreError(w http.ResponseWriter, err error) {
	switch {
	case database.IsNotFound(err):
		respondWithError(w, http.StatusNotFound, err.Error(), err)
	case database.IsValidation(err):
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
	default:
		respondWithError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// getIntParam retrieves an integer query parameter with default value and optional range validation
func getIntParam(r *http.Request, key string, defaultVal int, minVal, maxVal *int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}

	if minVal != nil && val < *minVal {
		return defaultVal
	}
	if maxVal != nil && val > *maxVal {
		return defaultVal
	}

	return val
}

// getDateParam parses an ISO date or RFC 3339 timestamp. A trailing Z is accepted.
// Missing values return the zero time.
func getDateParam(r *http.Request, key string) (time.Time, error) {
	valStr := strings.TrimSpace(r.URL.Query().Get(key))
	if valStr == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, valStr); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, valStr)
	if err != nil {
		return time.Time{}, database.NewValidationErrorWithValue(key, "expected YYYY-MM-DD or RFC 3339", valStr)
	}
	return t.UTC(), nil
}

// getListParam splits a comma separated query parameter
func getListParam(r *http.Request, key string) []string {
	var out []string
	for _, v := range strings.Split(r.URL.Query().Get(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getPathID parses the {id} path value
func getPathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func intPtr(v int) *int { return &v }
