package api

import (
	"encoding/json"
	"net/http"

	apperr "ragengine/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func wrapIO(message string, cause error) error {
	return apperr.Wrap(apperr.CodeIO, message, cause)
}

// writeAppError maps an engine error to its status code and a flat
// {"error": message} body. Idempotent endpoints (search, rerank, document
// listing) map a Backend failure to 503 rather than 502.
func writeAppError(w http.ResponseWriter, err error, idempotent bool) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if code == apperr.CodeBackend && idempotent {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
