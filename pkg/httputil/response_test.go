package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"path": "migrations/20240101000000_init.sql"})

	if rec.Code != http.StatusCreated {
		t.Errorf("want status 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["path"] != "migrations/20240101000000_init.sql" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusConflict, "LOCK_HELD", "another migration run is in progress")

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["code"] != "LOCK_HELD" {
		t.Errorf("unexpected code: %v", body["code"])
	}
	if _, ok := body["details"]; ok {
		t.Error("details must be omitted when empty")
	}
}

func TestErrorWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorWithDetails(rec, http.StatusInternalServerError, "SCRIPT_EXECUTION_FAILED", "migration failed",
		map[string]string{"version": "20240102000000"})

	var body struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Details["version"] != "20240102000000" {
		t.Errorf("unexpected details: %v", body.Details)
	}
}
