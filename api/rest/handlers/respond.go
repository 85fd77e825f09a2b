package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"rh-orchestrator/core/models"
	"rh-orchestrator/core/monitoring"
)

// maxBodySize bounds JSON and import request bodies.
const maxBodySize = 16 << 20

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logger().Warn("failed to encode response", "error", err)
	}
}

// ok wraps fields in the {"ok": true, ...} envelope every endpoint uses.
func ok(fields map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"ok": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var authErr *models.AuthError
	var remoteErr *models.RemoteError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput), errors.As(err, &authErr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrStopRequested):
		return http.StatusServiceUnavailable
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		monitoring.Logger().Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": msg})
}

// decodeObject reads a JSON object body.
func decodeObject(r *http.Request) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body must be an object")
	}
	return body, nil
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}
