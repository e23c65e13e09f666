package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDefinitionRepository_EnsureDir(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "migrations")
	repo := NewDefinitionRepository(dir)

	created, err := repo.EnsureDir(ctx)
	if err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if !created {
		t.Error("expected directory to be created")
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist: %v", err)
	}

	created, err = repo.EnsureDir(ctx)
	if err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if created {
		t.Error("expected existing directory to be reused")
	}
}

func TestDefinitionRepository_EnsureDir_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "migrations")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := NewDefinitionRepository(path).EnsureDir(ctx); err == nil {
		t.Error("expected error when path is a file")
	}
}

func TestDefinitionRepository_ListAndRead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewDefinitionRepository(dir)

	files := map[string]string{
		"20240102000000_b.sql": "B",
		"20240101000000_a.sql": "A",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	if list[0].Name != "20240101000000_a.sql" || list[1].Name != "20240102000000_b.sql" {
		t.Errorf("expected name order, got %s, %s", list[0].Name, list[1].Name)
	}
	if !list[2].IsDir {
		t.Error("expected archive to be reported as a directory")
	}

	content, err := repo.Read(ctx, list[0].Path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if content != "A" {
		t.Errorf("expected A, got %q", content)
	}
}

func TestDefinitionRepository_Create_NoOverwrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewDefinitionRepository(dir)

	path, err := repo.Create(ctx, "20240101000000_init.sql", "-- UP\n")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if path != filepath.Join(dir, "20240101000000_init.sql") {
		t.Errorf("unexpected path %s", path)
	}

	if _, err := repo.Create(ctx, "20240101000000_init.sql", "changed"); err == nil {
		t.Fatal("expected existing file not to be overwritten")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(b) != "-- UP\n" {
		t.Errorf("file content was modified: %q", string(b))
	}
}
