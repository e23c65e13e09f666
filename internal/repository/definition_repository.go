package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// DefinitionFile はディレクトリ内の1ファイルを表す。
type DefinitionFile struct {
	Name  string
	Path  string
	IsDir bool
}

// DefinitionRepository はマイグレーション定義ディレクトリへのファイルアクセスを提供する。
type DefinitionRepository struct {
	dir string
}

// NewDefinitionRepository は新しいDefinitionRepositoryを生成する。
func NewDefinitionRepository(dir string) *DefinitionRepository {
	return &DefinitionRepository{dir: dir}
}

// Dir は定義ディレクトリのパスを返す。
func (r *DefinitionRepository) Dir() string {
	return r.dir
}

// EnsureDir はディレクトリが存在しない場合に作成する。作成した場合はtrueを返す。
func (r *DefinitionRepository) EnsureDir(ctx context.Context) (bool, error) {
	info, err := os.Stat(r.dir)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("migrations path is not a directory: %s", r.dir)
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		slog.ErrorContext(ctx, "failed to create migrations directory",
			"operation", "ensure_dir",
			"dir", r.dir,
			"error", err,
		)
		return false, err
	}
	return true, nil
}

// List はディレクトリ内のファイルを名前順に返す。
func (r *DefinitionRepository) List(ctx context.Context) ([]DefinitionFile, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read migrations directory",
			"operation", "list",
			"dir", r.dir,
			"error", err,
		)
		return nil, err
	}

	files := make([]DefinitionFile, 0, len(entries))
	for _, entry := range entries {
		files = append(files, DefinitionFile{
			Name:  entry.Name(),
			Path:  filepath.Join(r.dir, entry.Name()),
			IsDir: entry.IsDir(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// Read はファイルの内容を読み込む。
func (r *DefinitionRepository) Read(ctx context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read migration file",
			"operation", "read",
			"file_path", path,
			"error", err,
		)
		return "", err
	}
	return string(b), nil
}

// Create は新しいファイルを作成する。既存ファイルは上書きしない。
func (r *DefinitionRepository) Create(ctx context.Context, name, content string) (string, error) {
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create migration file",
			"operation", "create",
			"file_path", path,
			"error", err,
		)
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
