// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"schema-migrator/config"
	"schema-migrator/internal/handler"
	"schema-migrator/internal/infra"
	"schema-migrator/internal/repository"
	"schema-migrator/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(os.Stdout, cfg)

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := infra.CloseDB(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	migrationsDir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		slog.Error("failed to resolve migrations directory", "error", err)
		os.Exit(1)
	}

	// DI
	metrics := infra.NewMetrics()
	store := repository.NewDefinitionRepository(migrationsDir)
	loader := usecase.NewDefinitionLoader(store, cfg.MigrationExt)
	service := usecase.NewMigrationService(
		loader,
		repository.NewMigrationRepository(db),
		repository.NewLockRepository(db),
		db,
		usecase.Options{
			LockKey:     cfg.ResolvedLockKey(),
			FailOnDrift: cfg.DriftPolicy == config.DriftPolicyFail,
			Metrics:     metrics,
		},
	)
	creator := usecase.NewMigrationCreator(store, loader, cfg.MigrationExt)

	// スキーマが最新でなければ起動しない
	if cfg.RequireSchemaCurrent {
		if err := service.CheckUpToDate(ctx); err != nil {
			slog.Error("schema is not up to date", "error", err)
			os.Exit(1)
		}
	}

	h := handler.NewMigrationHandler(service, creator)
	router := handler.NewRouter(h, metrics.Handler(), cfg)

	// サーバー起動
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port, "migrations_dir", migrationsDir)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
