package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"schema-migrator/config"
)

// NewRouter はルーターを生成する。metricsがnilの場合は/metricsを公開しない。
func NewRouter(h *MigrationHandler, metrics http.Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Route("/v1/migrations", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Post("/", h.CreateMigration)
		r.Post("/up", h.MigrateUp)
		r.Post("/down", h.MigrateDown)
	})
	r.Get("/healthz/schema", h.SchemaHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	if cfg != nil && cfg.OtelEnabled {
		return otelhttp.NewHandler(r, cfg.OtelServiceName)
	}
	return r
}
