package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"schema-migrator/internal/domain"
)

// MigrationCreator はタイムスタンプ付きのマイグレーション雛形ファイルを作成する。
type MigrationCreator struct {
	store  DefinitionStore
	loader MigrationLoader
	ext    string
	now    func() time.Time
}

// NewMigrationCreator は新しいMigrationCreatorを生成する。
func NewMigrationCreator(store DefinitionStore, loader MigrationLoader, ext string) *MigrationCreator {
	return &MigrationCreator{
		store:  store,
		loader: loader,
		ext:    ext,
		now:    time.Now,
	}
}

// Create はnameから雛形ファイルを作成し、そのパスを返す。
// 同一バージョンの定義が既に存在する場合はエラーを返す。
func (c *MigrationCreator) Create(ctx context.Context, name string) (string, error) {
	// 名前はヘッダーコメントに書き込むため、改行などで区切り行を作れないようにする
	if strings.ContainsFunc(name, unicode.IsControl) {
		return "", domain.NewMigrationError(domain.ErrDefinition, "", "",
			fmt.Errorf("name %q: %w: contains control characters", name, domain.ErrInvalidMigrationName))
	}

	slug, err := domain.Slugify(name)
	if err != nil {
		return "", domain.NewMigrationError(domain.ErrDefinition, "", "", fmt.Errorf("name %q: %w", name, err))
	}

	existing, err := c.loader.Load(ctx)
	if err != nil {
		return "", err
	}

	now := c.now().UTC()
	version := domain.NewVersion(now)
	for _, m := range existing {
		if m.Version == version {
			return "", domain.NewMigrationError(domain.ErrDefinition, version, m.Name,
				fmt.Errorf("%w: %s already exists, retry in a second", domain.ErrDuplicateVersion, m.FilePath))
		}
	}

	filename := domain.FileName(version, slug, c.ext)
	path, err := c.store.Create(ctx, filename, renderTemplate(strings.TrimSpace(name), now))
	if err != nil {
		return "", domain.NewMigrationError(domain.ErrDefinition, version, domain.DisplayName(slug),
			fmt.Errorf("create %s: %w", filename, err))
	}

	slog.InfoContext(ctx, "created migration file",
		"version", version,
		"path", path,
	)
	return path, nil
}

func renderTemplate(name string, createdAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Migration: %s\n", name)
	fmt.Fprintf(&b, "-- Created: %s\n", createdAt.Format(time.RFC3339))
	b.WriteString("-----------------------------------\n")
	b.WriteString(domain.UpMarker + "\n")
	b.WriteString("-- Add your migration SQL here\n\n")
	b.WriteString(domain.DownMarker + "\n")
	b.WriteString("-- Add your rollback SQL here\n")
	return b.String()
}
