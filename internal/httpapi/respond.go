package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/obs"
	"crmdesk.io/internal/validation"
)

type errorBody struct {
	Error   string         `json:"error"`
	Code    auth.Code      `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the uniform error shape. Typed auth errors keep
// their status and code; anything else is logged and reported as SYSTEM_ERROR.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	if ae.Code == auth.CodeSystem {
		obs.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("unhandled error")
	}
	switch ae.Status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="crmdesk"`)
	case http.StatusForbidden:
		if ae.Code == auth.CodePermissionDenied {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crmdesk", error="insufficient_scope"`)
		}
	case http.StatusTooManyRequests:
		if secs, ok := ae.Details["retryAfter"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		} else if mins, ok := ae.Details["retryAfterMinutes"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(mins*60))
		}
	}
	writeJSON(w, ae.Status, errorBody{Error: ae.Message, Code: ae.Code, Details: ae.Details})
}

func classify(err error) *auth.Error {
	if ae, ok := auth.AsError(err); ok {
		return ae
	}
	var ve *validation.RequestError
	if errors.As(err, &ve) {
		return auth.Validation("Validation failed", ve.Details())
	}
	return &auth.Error{Code: auth.CodeSystem, Status: http.StatusInternalServerError, Message: "Internal server error"}
}

const codeMethodNotAllowed auth.Code = "METHOD_NOT_ALLOWED"

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, auth.NotFound("Resource not found"))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed", Code: codeMethodNotAllowed})
}

// decodeJSON reads exactly one JSON document into dst. Failures come back as
// VALIDATION_ERROR so handlers can pass them straight to writeError.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return auth.Validation("Request body is required", nil)
		}
		return auth.Validation("Malformed JSON body", map[string]any{"body": err.Error()})
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return auth.Validation("Unexpected data after JSON body", nil)
	}
	return nil
}
