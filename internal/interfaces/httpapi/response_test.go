package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	sonic "github.com/bytedance/sonic"

	"github.com/kaggleviz/country-leaderboard/internal/usecase"
)

func TestWriteSuccess_GoogleEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSuccess(context.Background(), rec, http.StatusOK, map[string]string{"status": "ok"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}

	if got, _ := body["apiVersion"].(string); got != "2.0" {
		t.Fatalf("expected apiVersion=2.0, got %v", body["apiVersion"])
	}
	if _, ok := body["data"]; !ok {
		t.Fatalf("expected data key in success response")
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("did not expect error key in success response")
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantCode   int
		wantStatus string
	}{
		{fmt.Errorf("%w: bad selector", usecase.ErrInvalidInput), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{fmt.Errorf("%w: no snapshot", usecase.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: bad token", usecase.ErrUnauthorized), http.StatusUnauthorized, "UNAUTHENTICATED"},
		{fmt.Errorf("%w: provider down", usecase.ErrSourceUnavailable), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{fmt.Errorf("%w: token missing", usecase.ErrDependencyUnavailable), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{fmt.Errorf("%w: missing column", usecase.ErrSchemaViolation), http.StatusInternalServerError, "INTERNAL"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(context.Background(), rec, tc.err)

		if rec.Code != tc.wantCode {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.wantCode, rec.Code)
		}

		var body map[string]any
		if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal response body: %v", err)
		}
		errorObj, ok := body["error"].(map[string]any)
		if !ok {
			t.Fatalf("%v: expected error object in response", tc.err)
		}
		if got, _ := errorObj["status"].(string); got != tc.wantStatus {
			t.Fatalf("%v: expected error status %s, got %v", tc.err, tc.wantStatus, errorObj["status"])
		}
	}
}

func TestWriteJSON_SetsContentLength(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(context.Background(), rec, http.StatusOK, map[string]int{"n": 1})

	if rec.Header().Get("Content-Length") == "" {
		t.Fatalf("expected Content-Length header")
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected Content-Type %q", got)
	}
}
