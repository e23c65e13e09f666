// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"schema-migrator/internal/domain"

	"gorm.io/gorm"
)

// LedgerTable は台帳テーブル名。
const LedgerTable = "schema_migrations"

const createLedgerTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version VARCHAR(14) NOT NULL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at %s NOT NULL DEFAULT %s,
	checksum VARCHAR(64) NULL
)`

// ledgerTableSQL は方言ごとの台帳テーブル作成SQLを返す。
// MySQLのTIMESTAMPは秒単位に丸められるため、applied_atはマイクロ秒精度で保持する。
func ledgerTableSQL(dialect string) string {
	if dialect == "mysql" {
		return fmt.Sprintf(createLedgerTableSQL, "TIMESTAMP(6)", "CURRENT_TIMESTAMP(6)")
	}
	return fmt.Sprintf(createLedgerTableSQL, "TIMESTAMP", "CURRENT_TIMESTAMP")
}

// SchemaMigrationModel はschema_migrationsテーブルのモデル。
type SchemaMigrationModel struct {
	Version   string         `gorm:"column:version;primaryKey;type:varchar(14)"`
	Name      string         `gorm:"column:name;type:varchar(255);not null"`
	AppliedAt time.Time      `gorm:"column:applied_at;not null"`
	Checksum  sql.NullString `gorm:"column:checksum;type:varchar(64)"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return LedgerTable
}

func (m *SchemaMigrationModel) toDomain() *domain.LedgerEntry {
	return &domain.LedgerEntry{
		Version:   m.Version,
		Name:      m.Name,
		AppliedAt: m.AppliedAt,
		Checksum:  m.Checksum.String,
	}
}

// MigrationRepository はマイグレーション履歴（台帳）を管理するリポジトリ。
type MigrationRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
func NewMigrationRepository(db *gorm.DB) *MigrationRepository {
	return &MigrationRepository{db: db, now: time.Now}
}

// EnsureSchema は台帳テーブルが存在しない場合に作成する。毎回呼び出しても安全。
func (r *MigrationRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Exec(ledgerTableSQL(r.db.Dialector.Name())).Error; err != nil {
		slog.ErrorContext(ctx, "failed to ensure schema_migrations table",
			"operation", "ensure_schema",
			"error", err,
		)
		return err
	}
	return nil
}

// AppliedVersions は適用済みバージョンの集合を取得する。
func (r *MigrationRepository) AppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	var versions []string
	if err := r.db.WithContext(ctx).Model(&SchemaMigrationModel{}).Pluck("version", &versions).Error; err != nil {
		slog.ErrorContext(ctx, "failed to fetch applied versions",
			"operation", "applied_versions",
			"error", err,
		)
		return nil, err
	}

	applied := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}
	return applied, nil
}

// FindAllApplied は適用済みマイグレーション一覧をバージョン順に取得する。
func (r *MigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.LedgerEntry, error) {
	var models []SchemaMigrationModel
	if err := r.db.WithContext(ctx).Order("version ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find all applied migrations",
			"operation", "find_all_applied",
			"error", err,
		)
		return nil, err
	}

	entries := make([]*domain.LedgerEntry, len(models))
	for i := range models {
		entries[i] = models[i].toDomain()
	}
	return entries, nil
}

// RecordApplied はマイグレーション適用履歴を記録する。
// txは呼び出し側のトランザクションで、スクリプト実行と同じ単位でコミットされる。
// 同一バージョンが既に存在する場合は主キー制約違反で失敗する。
func (r *MigrationRepository) RecordApplied(ctx context.Context, tx *gorm.DB, migration *domain.Migration) error {
	model := &SchemaMigrationModel{
		Version:   migration.Version,
		Name:      migration.Name,
		AppliedAt: r.now().UTC(),
		Checksum:  sql.NullString{String: migration.Checksum, Valid: migration.Checksum != ""},
	}
	if err := tx.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "record_applied",
			"version", migration.Version,
			"error", err,
		)
		return err
	}
	return nil
}

// RecordRolledBack は適用履歴を削除する。対象行が存在しない場合はエラーを返す。
func (r *MigrationRepository) RecordRolledBack(ctx context.Context, tx *gorm.DB, version string) error {
	res := tx.WithContext(ctx).Where("version = ?", version).Delete(&SchemaMigrationModel{})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to delete migration record",
			"operation", "record_rolled_back",
			"version", version,
			"error", res.Error,
		)
		return res.Error
	}
	if res.RowsAffected == 0 {
		slog.ErrorContext(ctx, "migration record not found",
			"operation", "record_rolled_back",
			"version", version,
		)
		return domain.ErrLedgerOutOfSync
	}
	return nil
}
