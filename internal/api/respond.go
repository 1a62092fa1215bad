package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
)

// maxBodyBytes caps request bodies; code_context can be a whole solution.
const maxBodyBytes = 1 << 20

// retryAfterSeconds is sent with retryable provider failures.
const retryAfterSeconds = 5

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := apierr.As(err); ok {
		if e.Status >= http.StatusInternalServerError {
			h.log.Warn("Request failed", "path", r.URL.Path, "code", e.Code, "error", err)
		} else if e.Err != nil {
			h.log.Info("Request rejected", "path", r.URL.Path, "code", e.Code, "error", err)
		}
		if e.Retryable {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		}
		writeJSON(w, e.Status, map[string]any{"error": e.Message})
		return
	}
	h.log.Error("Unhandled error", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
}

// Client-facing decode failures. The decoder's own text names Go types, so
// it only goes to the log.
const (
	msgMalformedBody = "Invalid request body: malformed JSON"
	msgUnknownField  = "Invalid request body: unknown field"
	msgWrongType     = "Invalid request body: field has the wrong type"
	msgBodyTooLarge  = "Invalid request body: too large"
	msgTrailingData  = "Invalid request body: trailing data"
)

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
// An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apierr.New(http.StatusBadRequest, apierr.CodeValidation, decodeErrorMessage(err), err)
	}
	if dec.More() {
		return apierr.Validation(msgTrailingData)
	}
	return nil
}

func decodeErrorMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr):
		return msgWrongType
	case errors.As(err, &tooLarge):
		return msgBodyTooLarge
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		// encoding/json has no typed error for this case
		return msgUnknownField
	default:
		return msgMalformedBody
	}
}

// queryInt parses an optional integer query parameter; def is used when it
// is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Validation(fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}
