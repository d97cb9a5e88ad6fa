// Package api exposes the PayPipe webhooks and admin endpoints over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PayPipe/internal/models"
)

// MaxJSONBodyBytes caps admin request bodies.
const MaxJSONBodyBytes = 64 << 10

// errorEnvelope is served when an APIResponse cannot be encoded.
var errorEnvelope = mustMarshal(models.Error("Internal server error"))

func mustMarshal(resp models.APIResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		panic(fmt.Sprintf("api: cannot encode fallback response: %v", err))
	}
	return data
}

// writeJSONResponse encodes resp before touching the headers so an encoding
// failure can still produce a 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, resp models.APIResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Server.writeJSONResponse: encode failed", "error", err)
		data, statusCode = errorEnvelope, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSONResponse: write failed", "error", err)
	}
}

// decodeJSONBody reads one bounded JSON document into v, rejecting unknown fields.
func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
