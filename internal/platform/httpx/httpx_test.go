package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomline/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("insufficient_stock", "only 2 left\n", http.StatusConflict).WithDetails(map[string]any{"available": 2, "status": 999}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_stock" || body["message"] != "only 2 left" || body["trace_id"] != "trace-1" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["status"] != float64(http.StatusConflict) || body["available"] != float64(2) {
		t.Fatalf("details must not override reserved keys: %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Code string `json:"code"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"code":"SAVE10"}`, false},
		{"unknown field", `{"code":"SAVE10","admin":true}`, true},
		{"trailing", `{"code":"A"}{"code":"B"}`, true},
		{"empty", ``, true},
		{"too large", `{"code":"` + strings.Repeat("x", 100) + `"}`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			var dst payload
			err := DecodeJSON(req, &dst, 64)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidBody) {
					t.Fatalf("expected invalid body, got %v", err)
				}
				return
			}
			if err != nil || dst.Code != "SAVE10" {
				t.Fatalf("unexpected result %+v, %v", dst, err)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	if err := DecodeJSON(req, &struct{}{}, 0); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected content type rejection, got %v", err)
	}
}
