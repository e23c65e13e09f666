package repository

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schema-migrator/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB はテスト用の一時ファイルSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testMigration(version, slug string) *domain.Migration {
	return &domain.Migration{
		Version:  version,
		Slug:     slug,
		Name:     domain.DisplayName(slug),
		Checksum: domain.Checksum("up "+slug, "down "+slug),
	}
}

func TestMigrationRepository_EnsureSchema_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)

	for i := 0; i < 3; i++ {
		if err := repo.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema call %d failed: %v", i, err)
		}
	}

	if !db.Migrator().HasTable(LedgerTable) {
		t.Fatal("expected schema_migrations table to exist")
	}
	for _, column := range []string{"version", "name", "applied_at", "checksum"} {
		if !db.Migrator().HasColumn(&SchemaMigrationModel{}, column) {
			t.Errorf("expected column %s", column)
		}
	}
}

func TestLedgerTableSQL(t *testing.T) {
	tests := []struct {
		dialect string
		want    string
	}{
		{"mysql", "applied_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)"},
		{"postgres", "applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"},
		{"sqlite", "applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			if got := ledgerTableSQL(tt.dialect); !strings.Contains(got, tt.want) {
				t.Errorf("expected %q in:\n%s", tt.want, got)
			}
		})
	}
}

func TestMigrationRepository_RecordApplied(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	m := testMigration("20240101000000", "init")
	if err := repo.RecordApplied(ctx, db, m); err != nil {
		t.Fatalf("RecordApplied failed: %v", err)
	}

	entries, err := repo.FindAllApplied(ctx)
	if err != nil {
		t.Fatalf("FindAllApplied failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Version != m.Version || got.Name != "Init" || got.Checksum != m.Checksum {
		t.Errorf("unexpected entry: %+v", got)
	}
	if !got.AppliedAt.Equal(fixed) {
		t.Errorf("expected applied_at %v, got %v", fixed, got.AppliedAt)
	}
}

func TestMigrationRepository_RecordApplied_Duplicate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	m := testMigration("20240101000000", "init")
	if err := repo.RecordApplied(ctx, db, m); err != nil {
		t.Fatalf("RecordApplied failed: %v", err)
	}
	if err := repo.RecordApplied(ctx, db, m); err == nil {
		t.Fatal("expected duplicate version to fail")
	}
}

func TestMigrationRepository_RecordApplied_EmptyChecksumIsNull(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	m := &domain.Migration{Version: "20240101000000", Name: "Init"}
	if err := repo.RecordApplied(ctx, db, m); err != nil {
		t.Fatalf("RecordApplied failed: %v", err)
	}

	var nullCount int64
	if err := db.Raw("SELECT COUNT(*) FROM schema_migrations WHERE checksum IS NULL").Scan(&nullCount).Error; err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if nullCount != 1 {
		t.Errorf("expected checksum to be stored as NULL")
	}
}

func TestMigrationRepository_AppliedVersions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	applied, err := repo.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected empty ledger, got %v", applied)
	}

	for _, v := range []string{"20240102000000", "20240101000000"} {
		if err := repo.RecordApplied(ctx, db, testMigration(v, "m"+v)); err != nil {
			t.Fatalf("RecordApplied failed: %v", err)
		}
	}

	applied, err = repo.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(applied))
	}
	if _, ok := applied["20240101000000"]; !ok {
		t.Error("expected 20240101000000 to be applied")
	}

	entries, err := repo.FindAllApplied(ctx)
	if err != nil {
		t.Fatalf("FindAllApplied failed: %v", err)
	}
	if entries[0].Version != "20240101000000" || entries[1].Version != "20240102000000" {
		t.Errorf("expected ascending order, got %s, %s", entries[0].Version, entries[1].Version)
	}
}

func TestMigrationRepository_RecordRolledBack(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if err := repo.RecordApplied(ctx, db, testMigration("20240101000000", "init")); err != nil {
		t.Fatalf("RecordApplied failed: %v", err)
	}

	if err := repo.RecordRolledBack(ctx, db, "20240101000000"); err != nil {
		t.Fatalf("RecordRolledBack failed: %v", err)
	}
	applied, err := repo.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected ledger to be empty, got %v", applied)
	}

	// 存在しない行の削除は台帳不整合として扱う
	err = repo.RecordRolledBack(ctx, db, "20240101000000")
	if !errors.Is(err, domain.ErrLedgerOutOfSync) {
		t.Errorf("expected ErrLedgerOutOfSync, got %v", err)
	}
}

func TestMigrationRepository_RecordInTransaction_RolledBack(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.RecordApplied(ctx, tx, testMigration("20240101000000", "init")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	applied, err := repo.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected ledger insert to be rolled back, got %v", applied)
	}
}

func TestMigrationRepository_NoTable(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewMigrationRepository(db)

	if _, err := repo.AppliedVersions(ctx); err == nil {
		t.Error("expected error when ledger table is missing")
	}
}
