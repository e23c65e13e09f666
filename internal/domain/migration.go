// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Direction はマイグレーションの実行方向を表す。
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// RunState はオーケストレータ1回分の実行状態を表す。
type RunState string

const (
	RunStateIdle          RunState = "idle"
	RunStateComputingPlan RunState = "computing_plan"
	RunStateExecuting     RunState = "executing"
	RunStateCompleted     RunState = "completed"
	RunStateFailed        RunState = "failed"
)

// Migration は定義ストアから読み込んだ1件のマイグレーションを表す。
// 読み込み後に変更してはならない。
type Migration struct {
	Version    string // 14桁のバージョン（YYYYMMDDHHMMSS）
	Slug       string // ファイル名のバージョン以降の部分（例: add_color）
	Name       string // 表示名（例: Add Color）
	UpScript   string
	DownScript string
	Checksum   string // UpScriptとDownScriptを合わせたSHA-256
	FilePath   string
}

// HasRollback はダウンスクリプトに実行可能な文が含まれるかを返す。
func (m *Migration) HasRollback() bool {
	return HasStatements(m.DownScript)
}

// HasUpStatements はアップスクリプトに実行可能な文が含まれるかを返す。
func (m *Migration) HasUpStatements() bool {
	return HasStatements(m.UpScript)
}

// LedgerEntry は適用済みマイグレーションの記録を表す。
type LedgerEntry struct {
	Version   string
	Name      string
	AppliedAt time.Time
	Checksum  string // NULLの場合は空文字
}

// Plan は1回の実行で処理するマイグレーションの順序付きリスト。
type Plan struct {
	Direction  Direction
	Target     string
	Migrations []*Migration
}

// Versions は計画に含まれるバージョンを実行順に返す。
func (p *Plan) Versions() []string {
	versions := make([]string, len(p.Migrations))
	for i, m := range p.Migrations {
		versions[i] = m.Version
	}
	return versions
}

// RunResult は完了した実行のサマリ。
type RunResult struct {
	RunID     string
	Direction Direction
	Target    string
	Planned   int
	Versions  []string // 実行済みバージョン（実行順）
	Duration  time.Duration
}

// MigrationState はステータス一覧の1行を表す。
type MigrationState struct {
	Version   string
	Name      string
	Status    MigrationStatus
	AppliedAt *time.Time
}

// StatusReport は定義と台帳の差分から導出したステータス。
type StatusReport struct {
	Total           int
	Applied         int
	Pending         int
	AppliedVersions []string
	PendingVersions []string
	Migrations      []MigrationState
	Drifted         []string // チェックサムが台帳と一致しない適用済みバージョン
	Orphaned        []string // 台帳にあるが定義ファイルが存在しないバージョン
}
