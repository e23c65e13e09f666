package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestWriteAuditLog(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	WriteAuditLog(context.Background(), "MIGRATE_DOWN", "20240101000000", []string{"20240102000000"}, AuditSuccess)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid log output: %v", err)
	}
	if record["operation"] != "MIGRATE_DOWN" || record["result"] != AuditSuccess {
		t.Errorf("unexpected record: %v", record)
	}
	if record["target"] != "20240101000000" {
		t.Errorf("unexpected target: %v", record["target"])
	}
	versions, ok := record["versions"].([]any)
	if !ok || len(versions) != 1 || versions[0] != "20240102000000" {
		t.Errorf("unexpected versions: %v", record["versions"])
	}
	if record["timestamp"] == "" {
		t.Error("expected timestamp")
	}
}
