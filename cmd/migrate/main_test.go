package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"schema-migrator/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"missing rollback", domain.NewMigrationError(domain.ErrMissingRollback, "", "", errors.New("no down script")), exitMissingRollback},
		{"lock held", domain.NewMigrationError(domain.ErrLockAcquisition, "", "", fmt.Errorf("lock: %w", domain.ErrLockHeld)), exitLockHeld},
		{"script failure", domain.NewMigrationError(domain.ErrScriptExecution, "20240101000000", "Init", errors.New("syntax error")), exitFailure},
		{"cancelled", domain.NewMigrationError(domain.ErrRunCancelled, "", "", fmt.Errorf("1 of 2 migration(s) not started: %w", context.Canceled)), exitCancelled},
		{"generic", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// runCLI はコマンドを実行し、標準出力の内容を返す。
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

type cliEnv struct {
	dir string
	dsn string
}

func (e cliEnv) args(args ...string) []string {
	return append([]string{"--driver", "sqlite", "--database-url", e.dsn, "--dir", e.dir}, args...)
}

func setupCLIEnv(t *testing.T) cliEnv {
	t.Helper()

	tmp := t.TempDir()
	dir := filepath.Join(tmp, "migrations")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create migrations dir: %v", err)
	}
	files := map[string]string{
		"20240101000000_init.sql":      "-- UP\nCREATE TABLE widgets (id INTEGER PRIMARY KEY);\n-- DOWN\nDROP TABLE widgets;\n",
		"20240102000000_add_color.sql": "-- UP\nALTER TABLE widgets ADD COLUMN color TEXT;\n-- DOWN\nALTER TABLE widgets DROP COLUMN color;\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return cliEnv{dir: dir, dsn: filepath.Join(tmp, "target.db")}
}

func TestCLI_UpStatusDown(t *testing.T) {
	env := setupCLIEnv(t)

	out, err := runCLI(t, env.args("up", "--dry-run")...)
	if err != nil {
		t.Fatalf("up --dry-run failed: %v", err)
	}
	if !strings.Contains(out, "Would run up for 2 migration(s)") {
		t.Errorf("unexpected dry run output:\n%s", out)
	}

	out, err = runCLI(t, env.args("up")...)
	if err != nil {
		t.Fatalf("up failed: %v", err)
	}
	if !strings.Contains(out, "Applied 2 migration(s) successfully.") {
		t.Errorf("unexpected up output:\n%s", out)
	}

	out, err = runCLI(t, env.args("status")...)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "Total: 2  Applied: 2  Pending: 0") {
		t.Errorf("unexpected status output:\n%s", out)
	}
	if !strings.Contains(out, "Add Color") {
		t.Errorf("expected migration names in status output:\n%s", out)
	}

	out, err = runCLI(t, env.args("down", "--target", "20240101000000")...)
	if err != nil {
		t.Fatalf("down failed: %v", err)
	}
	if !strings.Contains(out, "Reverted 1 migration(s) successfully.") || !strings.Contains(out, "20240102000000") {
		t.Errorf("unexpected down output:\n%s", out)
	}
}

func TestCLI_StatusJSON(t *testing.T) {
	env := setupCLIEnv(t)

	out, err := runCLI(t, env.args("--output", "json", "status")...)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	var resp struct {
		Total           int      `json:"total"`
		Pending         int      `json:"pending"`
		PendingVersions []string `json:"pending_versions"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid json output: %v\n%s", err, out)
	}
	if resp.Total != 2 || resp.Pending != 2 || len(resp.PendingVersions) != 2 {
		t.Errorf("unexpected status: %+v", resp)
	}
}

func TestCLI_MissingRollbackExitCode(t *testing.T) {
	env := setupCLIEnv(t)
	if err := os.WriteFile(filepath.Join(env.dir, "20240103000000_irreversible.sql"),
		[]byte("-- UP\nCREATE TABLE gadgets (id INTEGER);\n-- DOWN\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := runCLI(t, env.args("up")...); err != nil {
		t.Fatalf("up failed: %v", err)
	}

	_, err := runCLI(t, env.args("down")...)
	if got := exitCode(err); got != exitMissingRollback {
		t.Errorf("want exit code %d, got %d (%v)", exitMissingRollback, got, err)
	}
}

func TestCLI_Create(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")

	out, err := runCLI(t, "--dir", dir, "create", "add", "widgets")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.HasPrefix(out, "Created ") || !strings.Contains(out, "_add_widgets.sql") {
		t.Errorf("unexpected create output:\n%s", out)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 file, got %d", len(entries))
	}
}

func TestCLI_InvalidFlags(t *testing.T) {
	env := setupCLIEnv(t)

	if _, err := runCLI(t, env.args("--output", "yaml", "status")...); err == nil {
		t.Error("expected unsupported output format error")
	}
	if _, err := runCLI(t, "--driver", "oracle", "--database-url", env.dsn, "status"); err == nil {
		t.Error("expected unsupported driver error")
	}
	if _, err := runCLI(t, env.args("up", "--target", "latest")...); !errors.Is(err, domain.ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestCLI_Unlock(t *testing.T) {
	env := setupCLIEnv(t)

	out, err := runCLI(t, env.args("unlock")...)
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if !strings.Contains(out, "No lock to release.") {
		t.Errorf("unexpected unlock output:\n%s", out)
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if out != "migrate version "+version+"\n" {
		t.Errorf("unexpected version output: %q", out)
	}
}
