// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"schema-migrator/internal/domain"
	"schema-migrator/internal/middleware"
	"schema-migrator/internal/usecase"
	"schema-migrator/pkg/httputil"
)

// MigrationHandler はマイグレーション操作のHTTPハンドラを提供する。
type MigrationHandler struct {
	service *usecase.MigrationService
	creator *usecase.MigrationCreator
}

// NewMigrationHandler は新しいMigrationHandlerを生成する。
func NewMigrationHandler(service *usecase.MigrationService, creator *usecase.MigrationCreator) *MigrationHandler {
	return &MigrationHandler{service: service, creator: creator}
}

// RunRequest はup/downのリクエスト形式。
type RunRequest struct {
	Target string `json:"target"`
	DryRun bool   `json:"dry_run"`
}

// CreateRequest はマイグレーション作成のリクエスト形式。
type CreateRequest struct {
	Name string `json:"name"`
}

// RunResponse はup/downのレスポンス形式。
type RunResponse struct {
	RunID      string   `json:"run_id,omitempty"`
	Direction  string   `json:"direction"`
	Target     string   `json:"target,omitempty"`
	DryRun     bool     `json:"dry_run,omitempty"`
	Planned    int      `json:"planned"`
	Versions   []string `json:"versions"`
	DurationMS int64    `json:"duration_ms"`
}

// MigrationStateResponse はマイグレーション1件の状態のレスポンス形式。
type MigrationStateResponse struct {
	Version   string `json:"version"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	AppliedAt string `json:"applied_at,omitempty"`
}

// StatusResponse はステータスのレスポンス形式。
type StatusResponse struct {
	Total           int                      `json:"total"`
	Applied         int                      `json:"applied"`
	Pending         int                      `json:"pending"`
	AppliedVersions []string                 `json:"applied_versions"`
	PendingVersions []string                 `json:"pending_versions"`
	Migrations      []MigrationStateResponse `json:"migrations"`
	Drifted         []string                 `json:"drifted,omitempty"`
	Orphaned        []string                 `json:"orphaned,omitempty"`
}

// CreateResponse はマイグレーション作成のレスポンス形式。
type CreateResponse struct {
	Path string `json:"path"`
}

// migrationErrorDetails はエラーレスポンスの詳細。
type migrationErrorDetails struct {
	Version   string   `json:"version,omitempty"`
	Name      string   `json:"name,omitempty"`
	Completed []string `json:"completed,omitempty"`
}

// GetStatus はマイグレーションの適用状況を返す。
func (h *MigrationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Status(r.Context())
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GET_STATUS", "", nil, middleware.AuditFailed)
		writeMigrationError(w, err, nil)
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_STATUS", "", nil, middleware.AuditSuccess)
	httputil.JSON(w, http.StatusOK, NewStatusResponse(report))
}

// MigrateUp は未適用マイグレーションを適用する。
func (h *MigrationHandler) MigrateUp(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.DirectionUp, "MIGRATE_UP")
}

// MigrateDown は適用済みマイグレーションを取り消す。
func (h *MigrationHandler) MigrateDown(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.DirectionDown, "MIGRATE_DOWN")
}

func (h *MigrationHandler) run(w http.ResponseWriter, r *http.Request, direction domain.Direction, operation string) {
	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	if req.DryRun {
		plan, err := h.service.Plan(r.Context(), direction, req.Target)
		if err != nil {
			writeMigrationError(w, err, nil)
			return
		}
		httputil.JSON(w, http.StatusOK, NewPlanResponse(plan))
		return
	}

	var (
		result *domain.RunResult
		err    error
	)
	if direction == domain.DirectionUp {
		result, err = h.service.Up(r.Context(), req.Target)
	} else {
		result, err = h.service.Down(r.Context(), req.Target)
	}
	if err != nil {
		var completed []string
		if result != nil {
			completed = result.Versions
		}
		middleware.WriteAuditLog(r.Context(), operation, req.Target, completed, middleware.AuditFailed)
		writeMigrationError(w, err, completed)
		return
	}

	middleware.WriteAuditLog(r.Context(), operation, req.Target, result.Versions, middleware.AuditSuccess)
	httputil.JSON(w, http.StatusOK, NewRunResponse(result))
}

// NewRunResponse はRunResultをレスポンス形式に変換する。
func NewRunResponse(result *domain.RunResult) RunResponse {
	return RunResponse{
		RunID:      result.RunID,
		Direction:  string(result.Direction),
		Target:     result.Target,
		Planned:    result.Planned,
		Versions:   result.Versions,
		DurationMS: result.Duration.Milliseconds(),
	}
}

// NewPlanResponse は実行計画をdry-runのレスポンス形式に変換する。
func NewPlanResponse(plan *domain.Plan) RunResponse {
	return RunResponse{
		Direction: string(plan.Direction),
		Target:    plan.Target,
		DryRun:    true,
		Planned:   len(plan.Migrations),
		Versions:  plan.Versions(),
	}
}

// CreateMigration はマイグレーションの雛形ファイルを作成する。
func (h *MigrationHandler) CreateMigration(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	path, err := h.creator.Create(r.Context(), req.Name)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_MIGRATION", req.Name, nil, middleware.AuditFailed)
		writeMigrationError(w, err, nil)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_MIGRATION", req.Name, nil, middleware.AuditSuccess)
	httputil.JSON(w, http.StatusCreated, CreateResponse{Path: path})
}

// SchemaHealth は未適用マイグレーションがなければ200、あれば503を返す。
func (h *MigrationHandler) SchemaHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CheckUpToDate(r.Context()); err != nil {
		code := "SCHEMA_CHECK_FAILED"
		if errors.Is(err, domain.ErrPendingMigrations) {
			code = "PENDING_MIGRATIONS"
		}
		httputil.Error(w, http.StatusServiceUnavailable, code, err.Error())
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody はJSONボディをデコードする。空ボディはゼロ値として扱う。
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeMigrationError はエラー種別をHTTPステータスに変換して返す。
func writeMigrationError(w http.ResponseWriter, err error, completed []string) {
	details := migrationErrorDetails{Completed: completed}
	var migrationErr *domain.MigrationError
	if errors.As(err, &migrationErr) {
		details.Version = migrationErr.Version
		details.Name = migrationErr.Name
	}

	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, domain.ErrInvalidVersion), errors.Is(err, domain.ErrInvalidMigrationName):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrLockHeld):
		status, code = http.StatusConflict, "LOCK_HELD"
	case errors.Is(err, domain.ErrChecksumDrift):
		status, code = http.StatusConflict, "CHECKSUM_DRIFT"
	case errors.Is(err, domain.ErrDuplicateVersion):
		status, code = http.StatusConflict, "DUPLICATE_VERSION"
	case errors.Is(err, domain.ErrMissingRollback):
		status, code = http.StatusUnprocessableEntity, "MISSING_ROLLBACK"
	case errors.Is(err, domain.ErrRunCancelled):
		status, code = http.StatusServiceUnavailable, "RUN_CANCELLED"
	case errors.Is(err, domain.ErrLockAcquisition):
		code = "LOCK_FAILED"
	case errors.Is(err, domain.ErrScriptExecution):
		code = "SCRIPT_EXECUTION_FAILED"
	case errors.Is(err, domain.ErrLedger):
		code = "LEDGER_ERROR"
	case errors.Is(err, domain.ErrDefinition):
		code = "DEFINITION_ERROR"
	}

	if details.Version == "" && details.Name == "" && len(details.Completed) == 0 {
		httputil.Error(w, status, code, err.Error())
		return
	}
	httputil.ErrorWithDetails(w, status, code, err.Error(), details)
}

// NewStatusResponse はStatusReportをレスポンス形式に変換する。
func NewStatusResponse(report *domain.StatusReport) StatusResponse {
	resp := StatusResponse{
		Total:           report.Total,
		Applied:         report.Applied,
		Pending:         report.Pending,
		AppliedVersions: report.AppliedVersions,
		PendingVersions: report.PendingVersions,
		Migrations:      make([]MigrationStateResponse, len(report.Migrations)),
		Drifted:         report.Drifted,
		Orphaned:        report.Orphaned,
	}
	for i, m := range report.Migrations {
		state := MigrationStateResponse{
			Version: m.Version,
			Name:    m.Name,
			Status:  string(m.Status),
		}
		if m.AppliedAt != nil {
			state.AppliedAt = m.AppliedAt.UTC().Format(time.RFC3339)
		}
		resp.Migrations[i] = state
	}
	return resp
}
