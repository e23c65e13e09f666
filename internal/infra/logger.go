package infra

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"schema-migrator/config"
	"schema-migrator/internal/domain"
)

// TraceHandler は実行IDとトレース情報をログに付与するslogハンドラ。
// run_idはマイグレーション実行中のすべてのログ（リポジトリ層を含む）に付与される。
type TraceHandler struct {
	handler     slog.Handler
	projectID   string
	otelEnabled bool
}

// NewTraceHandler はトレース情報付きのslogハンドラを生成する。
func NewTraceHandler(handler slog.Handler, cfg *config.Config) *TraceHandler {
	return &TraceHandler{
		handler:     handler,
		projectID:   cfg.GoogleCloudProject,
		otelEnabled: cfg.OtelEnabled,
	}
}

// Enabled はハンドラがログを処理するかどうかを返す。
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle はログレコードに実行IDとトレース情報を付与して処理する。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if runID, ok := domain.RunIDFromContext(ctx); ok {
		r.AddAttrs(slog.String("run_id", runID))
	}
	if h.otelEnabled {
		r.AddAttrs(h.traceAttrs(ctx)...)
	}
	return h.handler.Handle(ctx, r)
}

func (h *TraceHandler) traceAttrs(ctx context.Context) []slog.Attr {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return nil
	}
	traceID := spanCtx.TraceID().String()
	spanID := spanCtx.SpanID().String()

	attrs := []slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
		slog.Bool("trace_sampled", spanCtx.IsSampled()),
	}
	// Cloud Loggingはこのキー名でトレースと関連付ける
	if h.projectID != "" {
		attrs = append(attrs,
			slog.String("logging.googleapis.com/trace", "projects/"+h.projectID+"/traces/"+traceID),
			slog.String("logging.googleapis.com/spanId", spanID),
		)
	}
	return attrs
}

// WithAttrs は属性を追加した新しいハンドラを返す。
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{handler: h.handler.WithAttrs(attrs), projectID: h.projectID, otelEnabled: h.otelEnabled}
}

// WithGroup はグループを追加した新しいハンドラを返す。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{handler: h.handler.WithGroup(name), projectID: h.projectID, otelEnabled: h.otelEnabled}
}

// ParseLogLevel はLOG_LEVELの値をslog.Levelに変換する。不明な値はINFOとする。
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger はトレース情報付きのグローバルロガーを設定する。
// APIサーバーは標準出力、CLIは結果出力と分けるため標準エラー出力を渡す。
func SetupLogger(w io.Writer, cfg *config.Config) {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLogLevel(cfg.LogLevel)})
	traceHandler := NewTraceHandler(jsonHandler, cfg)
	slog.SetDefault(slog.New(traceHandler))
}
