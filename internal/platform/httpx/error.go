package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/loomline/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxIDLength      = 80
)

// reservedKeys are envelope fields that details may not overwrite.
var reservedKeys = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// Error describes a failed request. It renders as
// {"error": code, "message": ..., "status": ..., "request_id": ..., "trace_id": ...}
// with any details merged in at the top level.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an Error with a single-line code and message. Status 0 means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, maxCodeLength), Message: clip(message, maxMessageLength), Status: status}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithDetails returns a copy of e carrying details.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

func (e Error) body(ctx context.Context) map[string]any {
	out := make(map[string]any, 5+len(e.Details))
	for k, v := range e.Details {
		if _, reserved := reservedKeys[k]; !reserved {
			out[k] = v
		}
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status

	if id := firstSet(e.RequestID, middleware.GetReqID(ctx)); id != "" {
		out["request_id"] = clip(id, maxIDLength)
	}
	if id := firstSet(e.TraceID, requestctx.TraceID(ctx)); id != "" {
		out["trace_id"] = clip(id, maxIDLength)
	}
	return out
}

// WriteError writes err as JSON. Request and trace ids fall back to the ones on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, err.body(ctx))
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// clip flattens control characters to spaces and bounds the length in bytes.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
