package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"schema-migrator/config"
	"schema-migrator/internal/infra"
	"schema-migrator/internal/repository"
	"schema-migrator/internal/usecase"
)

// app はコマンド1回分の依存関係を保持する。
type app struct {
	service *usecase.MigrationService
	cleanup []func()
}

// newCreator はDB接続なしで雛形作成に必要な依存関係を組み立てる。
func newCreator(cfg *config.Config) (*usecase.MigrationCreator, error) {
	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations directory: %w", err)
	}
	store := repository.NewDefinitionRepository(dir)
	return usecase.NewMigrationCreator(store, usecase.NewDefinitionLoader(store, cfg.MigrationExt), cfg.MigrationExt), nil
}

// newApp はDB接続を含む依存関係を組み立てる。
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("--database-url is required (or set DATABASE_URL)")
	}

	a := &app{}

	// トレーサー初期化
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}
	if tp != nil {
		a.cleanup = append(a.cleanup, func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		})
	}

	// データベース接続
	db, err := infra.NewDB(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.cleanup = append(a.cleanup, func() {
		if err := infra.CloseDB(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	})

	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to resolve migrations directory: %w", err)
	}

	// DI
	store := repository.NewDefinitionRepository(dir)
	loader := usecase.NewDefinitionLoader(store, cfg.MigrationExt)
	a.service = usecase.NewMigrationService(
		loader,
		repository.NewMigrationRepository(db),
		repository.NewLockRepository(db),
		db,
		usecase.Options{
			LockKey:     cfg.ResolvedLockKey(),
			FailOnDrift: cfg.DriftPolicy == config.DriftPolicyFail,
		},
	)
	return a, nil
}

// close は確保したリソースを逆順に解放する。
func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}
