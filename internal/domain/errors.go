package domain

import (
	"errors"
	"fmt"
)

// エラー種別。MigrationError.Kind に設定される。
var (
	// ErrDefinition はマイグレーション定義の読み込み・検証エラー。
	ErrDefinition = errors.New("definition error")

	// ErrLedger は台帳テーブルの読み書きエラー。
	ErrLedger = errors.New("ledger error")

	// ErrScriptExecution はマイグレーションスクリプトの実行エラー。
	ErrScriptExecution = errors.New("script execution failed")

	// ErrLockAcquisition は他の実行がロックを保持している場合のエラー。
	ErrLockAcquisition = errors.New("lock acquisition failed")

	// ErrMissingRollback はダウン計画にダウンスクリプトのないマイグレーションが含まれる場合のエラー。
	ErrMissingRollback = errors.New("missing rollback")
)

var (
	// ErrInvalidVersion はバージョン文字列が14桁の数字でない場合のエラー。
	ErrInvalidVersion = errors.New("invalid migration version")

	// ErrDuplicateVersion は同一バージョンの定義が複数存在する場合のエラー。
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrInvalidMigrationName はマイグレーション名が空、または使用できない文字のみの場合のエラー。
	ErrInvalidMigrationName = errors.New("invalid migration name")

	// ErrLockHeld はロックが既に保持されている場合のエラー。
	ErrLockHeld = errors.New("migration lock is held by another run")

	// ErrChecksumDrift は適用済みマイグレーションの内容が変更されている場合のエラー。
	ErrChecksumDrift = errors.New("checksum drift detected")

	// ErrRunCancelled はマイグレーション間でキャンセルされた場合のエラー。
	ErrRunCancelled = errors.New("migration run cancelled")

	// ErrPendingMigrations は未適用マイグレーションが存在する場合のエラー。
	ErrPendingMigrations = errors.New("pending migrations exist")

	// ErrLedgerOutOfSync は削除対象の台帳行が存在しない場合のエラー。
	ErrLedgerOutOfSync = errors.New("ledger entry not found")
)

// MigrationError は失敗したバージョンと名前を保持するエラー。
type MigrationError struct {
	Kind    error // ErrDefinition などのエラー種別
	Version string
	Name    string
	Err     error
}

// Error はエラーメッセージを返す。
func (e *MigrationError) Error() string {
	switch {
	case e.Version != "" && e.Name != "":
		return fmt.Sprintf("%v: version %s (%s): %v", e.Kind, e.Version, e.Name, e.Err)
	case e.Version != "":
		return fmt.Sprintf("%v: version %s: %v", e.Kind, e.Version, e.Err)
	default:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
}

// Unwrap は原因エラーを返す。
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Is はエラー種別との一致を判定する。原因エラーとの一致はUnwrap経由で判定される。
func (e *MigrationError) Is(target error) bool {
	return target == e.Kind
}

// NewMigrationError は新しいMigrationErrorを生成する。
func NewMigrationError(kind error, version, name string, err error) *MigrationError {
	return &MigrationError{
		Kind:    kind,
		Version: version,
		Name:    name,
		Err:     err,
	}
}
