// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 監査ログのresult値。
const (
	AuditSuccess = "SUCCESS"
	AuditFailed  = "FAILED"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string   `json:"operation"`
	Target    string   `json:"target,omitempty"`
	Versions  []string `json:"versions,omitempty"`
	Result    string   `json:"result"`
	Timestamp string   `json:"timestamp"`
}

// WriteAuditLog はマイグレーション操作の監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation string, target string, versions []string, result string) {
	entry := AuditLog{
		Operation: operation,
		Target:    target,
		Versions:  versions,
		Result:    result,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	slog.InfoContext(ctx, "migration operation completed",
		"operation", entry.Operation,
		"target", entry.Target,
		"versions", entry.Versions,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}
