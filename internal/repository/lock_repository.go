package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"schema-migrator/internal/domain"
)

const createLockTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations_lock (
	lock_key VARCHAR(255) NOT NULL PRIMARY KEY,
	owner VARCHAR(36) NOT NULL,
	acquired_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SchemaMigrationLockModel はschema_migrations_lockテーブルのモデル。
// アドバイザリロックを持たないSQLiteでのみ使用する。
type SchemaMigrationLockModel struct {
	LockKey    string    `gorm:"column:lock_key;primaryKey;type:varchar(255)"`
	Owner      string    `gorm:"column:owner;type:varchar(36);not null"`
	AcquiredAt time.Time `gorm:"column:acquired_at;not null"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationLockModel) TableName() string {
	return "schema_migrations_lock"
}

// LockRepository は対象データベース単位の排他ロックを提供する。
// MySQLはGET_LOCK、PostgreSQLはpg_try_advisory_lock、SQLiteはロックテーブルを使う。
// いずれも待機せず、保持されていれば即座に domain.ErrLockHeld を返す。
type LockRepository struct {
	db *gorm.DB
}

// NewLockRepository は新しいLockRepositoryを生成する。
func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// TryAcquire はロックの取得を試みる。返されたrelease関数で解放する。
func (r *LockRepository) TryAcquire(ctx context.Context, key string) (func(), error) {
	switch r.db.Dialector.Name() {
	case "mysql":
		return r.trySessionLock(ctx, key,
			"SELECT GET_LOCK(?, 0)", "SELECT RELEASE_LOCK(?)", mysqlLockName(key))
	case "postgres":
		return r.trySessionLock(ctx, key,
			"SELECT pg_try_advisory_lock($1)", "SELECT pg_advisory_unlock($1)", hashLockKey(key))
	default:
		return r.tryTableLock(ctx, key)
	}
}

// ForceRelease は残留したロック行を削除する。セッションロックはセッション終了で解放されるため何もしない。
func (r *LockRepository) ForceRelease(ctx context.Context, key string) (bool, error) {
	switch r.db.Dialector.Name() {
	case "mysql", "postgres":
		return false, nil
	}
	if err := r.db.WithContext(ctx).Exec(createLockTableSQL).Error; err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Where("lock_key = ?", key).Delete(&SchemaMigrationLockModel{})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to force release lock",
			"operation", "force_release",
			"lock_key", key,
			"error", res.Error,
		)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// trySessionLock は専用コネクション上でセッションスコープのロックを取得する。
// ロックはコネクションに紐づくため、解放まで同じコネクションを保持する。
func (r *LockRepository) trySessionLock(ctx context.Context, key, lockSQL, unlockSQL string, arg any) (func(), error) {
	sqlDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open lock connection: %w", err)
	}

	var acquired sql.NullBool
	if err := conn.QueryRowContext(ctx, lockSQL, arg).Scan(&acquired); err != nil {
		_ = conn.Close()
		slog.ErrorContext(ctx, "failed to acquire advisory lock",
			"operation", "try_acquire",
			"lock_key", key,
			"error", err,
		)
		return nil, err
	}
	if !acquired.Valid || !acquired.Bool {
		_ = conn.Close()
		return nil, domain.ErrLockHeld
	}

	release := func() {
		if _, err := conn.ExecContext(context.Background(), unlockSQL, arg); err != nil {
			slog.Error("failed to release advisory lock", "lock_key", key, "error", err)
		}
		_ = conn.Close()
	}
	return release, nil
}

func (r *LockRepository) tryTableLock(ctx context.Context, key string) (func(), error) {
	if err := r.db.WithContext(ctx).Exec(createLockTableSQL).Error; err != nil {
		slog.ErrorContext(ctx, "failed to ensure lock table",
			"operation", "try_acquire",
			"error", err,
		)
		return nil, err
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&SchemaMigrationLockModel{}).Where("lock_key = ?", key).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, domain.ErrLockHeld
	}

	owner := uuid.New().String()
	model := &SchemaMigrationLockModel{
		LockKey:    key,
		Owner:      owner,
		AcquiredAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// 同時に取得された場合は主キー制約違反になる
		if errors.Is(err, gorm.ErrDuplicatedKey) || r.lockExists(ctx, key) {
			return nil, domain.ErrLockHeld
		}
		slog.ErrorContext(ctx, "failed to insert lock row",
			"operation", "try_acquire",
			"lock_key", key,
			"error", err,
		)
		return nil, err
	}

	release := func() {
		err := r.db.WithContext(context.Background()).
			Where("lock_key = ? AND owner = ?", key, owner).
			Delete(&SchemaMigrationLockModel{}).Error
		if err != nil {
			slog.Error("failed to release lock row", "lock_key", key, "error", err)
		}
	}
	return release, nil
}

func (r *LockRepository) lockExists(ctx context.Context, key string) bool {
	var count int64
	if err := r.db.WithContext(ctx).Model(&SchemaMigrationLockModel{}).Where("lock_key = ?", key).Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}

// hashLockKey はpg_advisory_lock用にキーを64bit整数へ変換する。
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// mysqlLockName はGET_LOCKの64文字制限に収まるロック名を返す。
func mysqlLockName(key string) string {
	if len(key) <= 64 {
		return key
	}
	return fmt.Sprintf("schema_migrations:%x", uint64(hashLockKey(key)))
}
