package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"schema-migrator/internal/domain"
	"schema-migrator/internal/repository"
)

// DefinitionStore はマイグレーション定義ディレクトリへのアクセスのインターフェース。
type DefinitionStore interface {
	Dir() string
	EnsureDir(ctx context.Context) (bool, error)
	List(ctx context.Context) ([]repository.DefinitionFile, error)
	Read(ctx context.Context, path string) (string, error)
	Create(ctx context.Context, name, content string) (string, error)
}

// DefinitionLoader は定義ディレクトリを検証済みのMigration一覧に変換する。
type DefinitionLoader struct {
	store DefinitionStore
	ext   string
}

// NewDefinitionLoader は新しいDefinitionLoaderを生成する。extはドットなしの拡張子。
func NewDefinitionLoader(store DefinitionStore, ext string) *DefinitionLoader {
	return &DefinitionLoader{store: store, ext: ext}
}

// Load は全マイグレーション定義をバージョン昇順で返す。
// ディレクトリが存在しない場合は作成し、空の一覧を返す。
func (l *DefinitionLoader) Load(ctx context.Context) ([]*domain.Migration, error) {
	created, err := l.store.EnsureDir(ctx)
	if err != nil {
		return nil, domain.NewMigrationError(domain.ErrDefinition, "", "",
			fmt.Errorf("prepare migrations directory %s: %w", l.store.Dir(), err))
	}
	if created {
		slog.InfoContext(ctx, "created migrations directory", "dir", l.store.Dir())
		return []*domain.Migration{}, nil
	}

	files, err := l.store.List(ctx)
	if err != nil {
		return nil, domain.NewMigrationError(domain.ErrDefinition, "", "",
			fmt.Errorf("list migrations directory %s: %w", l.store.Dir(), err))
	}

	migrations := make([]*domain.Migration, 0, len(files))
	seen := make(map[string]string, len(files))
	for _, file := range files {
		if file.IsDir {
			slog.DebugContext(ctx, "skipping directory in migrations directory", "path", file.Path)
			continue
		}
		if _, _, ok := domain.ParseFileName(file.Name, l.ext); !ok {
			slog.WarnContext(ctx, "skipping migration file with invalid name",
				"file", file.Name,
				"expected", "{14-digit version}_{name}."+l.ext,
			)
			continue
		}

		content, err := l.store.Read(ctx, file.Path)
		if err != nil {
			return nil, domain.NewMigrationError(domain.ErrDefinition, "", "",
				fmt.Errorf("read %s: %w", file.Path, err))
		}

		migration, _ := domain.ParseMigration(file.Name, l.ext, file.Path, content)
		if existing, dup := seen[migration.Version]; dup {
			return nil, domain.NewMigrationError(domain.ErrDefinition, migration.Version, migration.Name,
				fmt.Errorf("%w: found in both %s and %s", domain.ErrDuplicateVersion, existing, file.Name))
		}
		seen[migration.Version] = file.Name
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}
