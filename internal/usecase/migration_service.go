package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"schema-migrator/internal/domain"
)

const tracerName = "schema-migrator/internal/usecase"

// 計測値のoutcomeラベル。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MigrationRepository はマイグレーション履歴（台帳）を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureSchema(ctx context.Context) error
	AppliedVersions(ctx context.Context) (map[string]struct{}, error)
	FindAllApplied(ctx context.Context) ([]*domain.LedgerEntry, error)
	RecordApplied(ctx context.Context, tx *gorm.DB, migration *domain.Migration) error
	RecordRolledBack(ctx context.Context, tx *gorm.DB, version string) error
}

// MigrationLoader はマイグレーション定義を読み込むインターフェース。
type MigrationLoader interface {
	Load(ctx context.Context) ([]*domain.Migration, error)
}

// Locker は対象データベース単位の排他ロックのインターフェース。
type Locker interface {
	TryAcquire(ctx context.Context, key string) (func(), error)
	ForceRelease(ctx context.Context, key string) (bool, error)
}

// MetricsRecorder はマイグレーション実行の計測値を記録するインターフェース。
type MetricsRecorder interface {
	ObserveMigration(direction domain.Direction, outcome string, elapsed time.Duration)
	ObserveRun(direction domain.Direction, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveMigration(domain.Direction, string, time.Duration) {}
func (noopMetrics) ObserveRun(domain.Direction, string)                      {}

// Options はMigrationServiceの動作設定。
type Options struct {
	// LockKey は対象データベースを識別するロックキー。
	LockKey string
	// FailOnDrift が true の場合、適用済みマイグレーションのチェックサム不一致でupを中断する。
	FailOnDrift bool
	Metrics     MetricsRecorder
	Now         func() time.Time
}

// MigrationService はマイグレーション実行のビジネスロジックを提供する。
type MigrationService struct {
	loader  MigrationLoader
	repo    MigrationRepository
	locker  Locker
	db      *gorm.DB
	opts    Options
	tracer  trace.Tracer
	metrics MetricsRecorder
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(loader MigrationLoader, repo MigrationRepository, locker Locker, db *gorm.DB, opts Options) *MigrationService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockKey == "" {
		opts.LockKey = "schema_migrations"
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &MigrationService{
		loader:  loader,
		repo:    repo,
		locker:  locker,
		db:      db,
		opts:    opts,
		tracer:  otel.Tracer(tracerName),
		metrics: metrics,
	}
}

// Up は未適用マイグレーションをバージョン昇順に適用する。
// targetが指定された場合はtarget以下のバージョンのみ適用する。
// 失敗時もそれまでに適用したバージョンを含むRunResultを返す。
func (s *MigrationService) Up(ctx context.Context, target string) (*domain.RunResult, error) {
	return s.run(ctx, domain.DirectionUp, target)
}

// Down は適用済みマイグレーションのうちtargetより新しいものをバージョン降順に取り消す。
// targetが空の場合は全ての適用済みマイグレーションを取り消す。
// 失敗時もそれまでに取り消したバージョンを含むRunResultを返す。
func (s *MigrationService) Down(ctx context.Context, target string) (*domain.RunResult, error) {
	return s.run(ctx, domain.DirectionDown, target)
}

// Plan は実行せずに計画のみを計算する。
func (s *MigrationService) Plan(ctx context.Context, direction domain.Direction, target string) (*domain.Plan, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	return s.computePlan(ctx, slog.Default(), direction, target)
}

func (s *MigrationService) run(ctx context.Context, direction domain.Direction, target string) (*domain.RunResult, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	ctx = domain.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "migration."+string(direction),
		trace.WithAttributes(
			attribute.String("migration.run_id", runID),
			attribute.String("migration.direction", string(direction)),
			attribute.String("migration.target", target),
		),
	)
	defer span.End()

	// run_idはコンテキスト経由でログハンドラが付与する
	logger := slog.Default().With("direction", string(direction), "target", target)
	start := s.opts.Now()
	result := &domain.RunResult{
		RunID:     runID,
		Direction: direction,
		Target:    target,
		Versions:  []string{},
	}

	fail := func(err error) (*domain.RunResult, error) {
		result.Duration = s.opts.Now().Sub(start)
		logger.ErrorContext(ctx, "migration run failed",
			"state", domain.RunStateFailed,
			"completed", result.Versions,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveRun(direction, OutcomeFailure)
		return result, err
	}

	// ロックは計画計算の前に取得し、完了または失敗まで保持する
	release, err := s.locker.TryAcquire(ctx, s.opts.LockKey)
	if err != nil {
		return fail(domain.NewMigrationError(domain.ErrLockAcquisition, "", "",
			fmt.Errorf("lock %q: %w", s.opts.LockKey, err)))
	}
	defer release()

	logger.DebugContext(ctx, "computing migration plan", "state", domain.RunStateComputingPlan)
	plan, err := s.computePlan(ctx, logger, direction, target)
	if err != nil {
		return fail(err)
	}
	result.Planned = len(plan.Migrations)

	if len(plan.Migrations) == 0 {
		logger.InfoContext(ctx, "no migrations to run", "state", domain.RunStateCompleted)
		result.Duration = s.opts.Now().Sub(start)
		s.metrics.ObserveRun(direction, OutcomeSuccess)
		return result, nil
	}

	logger.InfoContext(ctx, "executing migration plan",
		"state", domain.RunStateExecuting,
		"versions", plan.Versions(),
	)
	for i, migration := range plan.Migrations {
		// キャンセルはマイグレーション間でのみ受け付ける。未着手のマイグレーションは失敗扱いにしない
		if err := ctx.Err(); err != nil {
			return fail(domain.NewMigrationError(domain.ErrRunCancelled, "", "",
				fmt.Errorf("%d of %d migration(s) not started (next %s): %w",
					len(plan.Migrations)-i, len(plan.Migrations), migration.Version, err)))
		}
		if err := s.execute(ctx, logger, direction, migration); err != nil {
			return fail(err)
		}
		result.Versions = append(result.Versions, migration.Version)
	}

	result.Duration = s.opts.Now().Sub(start)
	logger.InfoContext(ctx, "migration run completed",
		"state", domain.RunStateCompleted,
		"count", len(result.Versions),
		"duration", result.Duration.String(),
	)
	s.metrics.ObserveRun(direction, OutcomeSuccess)
	return result, nil
}

// computePlan は定義と台帳の差分から実行計画を計算する。
func (s *MigrationService) computePlan(ctx context.Context, logger *slog.Logger, direction domain.Direction, target string) (*domain.Plan, error) {
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return nil, domain.NewMigrationError(domain.ErrLedger, "", "", fmt.Errorf("ensure ledger table: %w", err))
	}

	all, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, domain.NewMigrationError(domain.ErrLedger, "", "", fmt.Errorf("read applied migrations: %w", err))
	}

	plan := &domain.Plan{Direction: direction, Target: target}
	switch direction {
	case domain.DirectionUp:
		if err := s.checkDrift(ctx, logger, all, entries); err != nil {
			return nil, err
		}
		plan.Migrations = planUp(ctx, logger, all, entries, target)
	case domain.DirectionDown:
		migrations, err := planDown(all, entries, target)
		if err != nil {
			return nil, err
		}
		plan.Migrations = migrations
	default:
		return nil, fmt.Errorf("unknown direction: %q", direction)
	}
	return plan, nil
}

// planUp は未適用マイグレーションを昇順で返す。
func planUp(ctx context.Context, logger *slog.Logger, all []*domain.Migration, entries []*domain.LedgerEntry, target string) []*domain.Migration {
	applied := make(map[string]struct{}, len(entries))
	latest := ""
	for _, e := range entries {
		applied[e.Version] = struct{}{}
		if e.Version > latest {
			latest = e.Version
		}
	}

	pending := make([]*domain.Migration, 0, len(all))
	for _, m := range all {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if target != "" && m.Version > target {
			continue
		}
		if m.Version < latest {
			logger.WarnContext(ctx, "applying migration older than the latest applied version",
				"version", m.Version,
				"name", m.Name,
				"latest_applied", latest,
			)
		}
		pending = append(pending, m)
	}
	return pending
}

// planDown はtargetより新しい適用済みマイグレーションを降順で返す。
// 1件でもダウンスクリプトがなければ、何も取り消さずにエラーを返す。
func planDown(all []*domain.Migration, entries []*domain.LedgerEntry, target string) ([]*domain.Migration, error) {
	byVersion := make(map[string]*domain.Migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}

	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Version > target {
			versions = append(versions, e.Version)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))

	var missing []string
	plan := make([]*domain.Migration, 0, len(versions))
	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok {
			missing = append(missing, v+" (definition file not found)")
			continue
		}
		if !m.HasRollback() {
			missing = append(missing, v+" ("+m.Name+")")
			continue
		}
		plan = append(plan, m)
	}

	if len(missing) > 0 {
		return nil, domain.NewMigrationError(domain.ErrMissingRollback, "", "",
			fmt.Errorf("no down script for %s; resolve manually before reverting", strings.Join(missing, ", ")))
	}
	return plan, nil
}

// checkDrift は適用済みマイグレーションの内容が変更されていないかを確認する。
func (s *MigrationService) checkDrift(ctx context.Context, logger *slog.Logger, all []*domain.Migration, entries []*domain.LedgerEntry) error {
	drifted := findDrift(all, entries)
	if len(drifted) == 0 {
		return nil
	}
	if s.opts.FailOnDrift {
		return domain.NewMigrationError(domain.ErrDefinition, "", "",
			fmt.Errorf("%w: %s", domain.ErrChecksumDrift, strings.Join(drifted, ", ")))
	}
	logger.WarnContext(ctx, "applied migrations changed on disk since they were applied",
		"versions", drifted,
	)
	return nil
}

func findDrift(all []*domain.Migration, entries []*domain.LedgerEntry) []string {
	byVersion := make(map[string]*domain.Migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}
	var drifted []string
	for _, e := range entries {
		m, ok := byVersion[e.Version]
		if !ok || e.Checksum == "" {
			continue
		}
		if m.Checksum != e.Checksum {
			drifted = append(drifted, e.Version)
		}
	}
	return drifted
}

// execute は単一のマイグレーションを1トランザクションで実行する。
// スクリプトと台帳の更新は同じトランザクションでコミットされる。
// 実行中のマイグレーションはキャンセルされず、コミットかロールバックまで完了する。
func (s *MigrationService) execute(ctx context.Context, logger *slog.Logger, direction domain.Direction, migration *domain.Migration) error {
	ctx, span := s.tracer.Start(ctx, "migration.execute",
		trace.WithAttributes(
			attribute.String("migration.version", migration.Version),
			attribute.String("migration.name", migration.Name),
			attribute.String("migration.direction", string(direction)),
		),
	)
	defer span.End()

	execCtx := context.WithoutCancel(ctx)
	logger = logger.With("version", migration.Version, "name", migration.Name)

	script := migration.UpScript
	if direction == domain.DirectionDown {
		script = migration.DownScript
	}
	if !domain.HasStatements(script) {
		logger.WarnContext(ctx, "migration script has no statements, updating ledger only")
	}

	logger.InfoContext(ctx, "running migration")
	start := time.Now()

	err := s.db.WithContext(execCtx).Transaction(func(tx *gorm.DB) error {
		if domain.HasStatements(script) {
			if err := tx.Exec(script).Error; err != nil {
				return domain.NewMigrationError(domain.ErrScriptExecution, migration.Version, migration.Name, err)
			}
		}

		var err error
		if direction == domain.DirectionUp {
			err = s.repo.RecordApplied(execCtx, tx, migration)
		} else {
			err = s.repo.RecordRolledBack(execCtx, tx, migration.Version)
		}
		if err != nil {
			return domain.NewMigrationError(domain.ErrLedger, migration.Version, migration.Name, err)
		}
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		var migrationErr *domain.MigrationError
		if !errors.As(err, &migrationErr) {
			// コミット失敗など
			err = domain.NewMigrationError(domain.ErrScriptExecution, migration.Version, migration.Name, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveMigration(direction, OutcomeFailure, elapsed)
		return err
	}

	s.metrics.ObserveMigration(direction, OutcomeSuccess, elapsed)
	logger.InfoContext(ctx, "migration succeeded", "elapsed", elapsed.String())
	return nil
}

// Status は定義と台帳から導出した現在のマイグレーション状況を返す。
func (s *MigrationService) Status(ctx context.Context) (*domain.StatusReport, error) {
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return nil, domain.NewMigrationError(domain.ErrLedger, "", "", fmt.Errorf("ensure ledger table: %w", err))
	}

	all, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, domain.NewMigrationError(domain.ErrLedger, "", "", fmt.Errorf("read applied migrations: %w", err))
	}

	appliedMap := make(map[string]*domain.LedgerEntry, len(entries))
	report := &domain.StatusReport{
		Total:           len(all),
		Applied:         len(entries),
		AppliedVersions: make([]string, 0, len(entries)),
		PendingVersions: []string{},
		Migrations:      make([]domain.MigrationState, 0, len(all)),
	}
	for _, e := range entries {
		appliedMap[e.Version] = e
		report.AppliedVersions = append(report.AppliedVersions, e.Version)
	}

	defined := make(map[string]struct{}, len(all))
	for _, m := range all {
		defined[m.Version] = struct{}{}
		state := domain.MigrationState{
			Version: m.Version,
			Name:    m.Name,
			Status:  domain.MigrationStatusPending,
		}
		if e, ok := appliedMap[m.Version]; ok {
			appliedAt := e.AppliedAt
			state.Status = domain.MigrationStatusApplied
			state.AppliedAt = &appliedAt
		} else {
			report.PendingVersions = append(report.PendingVersions, m.Version)
		}
		report.Migrations = append(report.Migrations, state)
	}
	report.Pending = len(report.PendingVersions)

	for _, e := range entries {
		if _, ok := defined[e.Version]; !ok {
			report.Orphaned = append(report.Orphaned, e.Version)
		}
	}
	report.Drifted = findDrift(all, entries)

	return report, nil
}

// CheckUpToDate は未適用マイグレーションがない場合にnilを返す。
// 依存サービスが起動前提条件として使用する。
func (s *MigrationService) CheckUpToDate(ctx context.Context) error {
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return domain.NewMigrationError(domain.ErrLedger, "", "", fmt.Errorf("ensure ledger table: %w", err))
	}

	all, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}

	applied, err := s.repo.AppliedVersions(ctx)
	if err != nil {
		return domain.NewMigrationError(domain.ErrLedger, "", "", fmt.Errorf("read applied versions: %w", err))
	}

	var pending []string
	for _, m := range all {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m.Version)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d pending (%s)", domain.ErrPendingMigrations, len(pending), strings.Join(pending, ", "))
	}
	return nil
}

// Unlock は異常終了で残ったロックを強制解除する。
// セッション単位のロックは接続切断で解放されるため、解除対象がない場合はfalseを返す。
func (s *MigrationService) Unlock(ctx context.Context) (bool, error) {
	released, err := s.locker.ForceRelease(ctx, s.opts.LockKey)
	if err != nil {
		return false, domain.NewMigrationError(domain.ErrLockAcquisition, "", "",
			fmt.Errorf("force release %q: %w", s.opts.LockKey, err))
	}
	if released {
		slog.WarnContext(ctx, "migration lock force released", "lock_key", s.opts.LockKey)
	} else {
		slog.InfoContext(ctx, "no migration lock to release", "lock_key", s.opts.LockKey)
	}
	return released, nil
}

func validateTarget(target string) error {
	if target == "" {
		return nil
	}
	if err := domain.ValidateVersion(target); err != nil {
		return domain.NewMigrationError(domain.ErrDefinition, "", "", fmt.Errorf("target: %w", err))
	}
	return nil
}
