package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// マイグレーションファイルの区切り行。
const (
	UpMarker   = "-- UP"
	DownMarker = "-- DOWN"
)

// VersionLayout はバージョン文字列の時刻フォーマット。
const VersionLayout = "20060102150405"

var (
	versionRegex  = regexp.MustCompile(`^\d{14}$`)
	fileNameRegex = regexp.MustCompile(`^(\d{14})_(.+)\.([^.]+)$`)
	slugRegex     = regexp.MustCompile(`[^a-z0-9]+`)
)

// ValidateVersion はバージョンが14桁の数字であることを検証する。
func ValidateVersion(version string) error {
	if !versionRegex.MatchString(version) {
		return fmt.Errorf("%w: %q (expected 14 digits YYYYMMDDHHMMSS)", ErrInvalidVersion, version)
	}
	return nil
}

// NewVersion は時刻からバージョン文字列を生成する。
func NewVersion(t time.Time) string {
	return t.UTC().Format(VersionLayout)
}

// ParseFileName はファイル名からバージョンとスラッグを抽出する。
// ファイル名のフォーマット: {14桁のバージョン}_{スラッグ}.{ext}（拡張子は大文字小文字を区別しない）
func ParseFileName(filename, ext string) (version, slug string, ok bool) {
	matches := fileNameRegex.FindStringSubmatch(filename)
	if matches == nil || !strings.EqualFold(matches[3], ext) {
		return "", "", false
	}
	return matches[1], matches[2], true
}

// FileName はバージョンとスラッグからファイル名を組み立てる。
func FileName(version, slug, ext string) string {
	return version + "_" + slug + "." + ext
}

// Slugify はマイグレーション名をファイル名用のスラッグに変換する。
func Slugify(name string) (string, error) {
	slug := strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidMigrationName, name)
	}
	return slug, nil
}

// DisplayName はスラッグを表示名に変換する（例: add_color → Add Color）。
func DisplayName(slug string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "_", " "))
}

// SplitScripts はファイル内容をアップとダウンのスクリプトに分割する。
// UPマーカー行より前はヘッダとして捨てる。UPマーカーがなければ先頭からDOWNマーカーまでがアップ。
// 最初のDOWNマーカー行より後はすべてダウン。
func SplitScripts(content string) (up, down string) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	upStart := 0
	downMarker := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == DownMarker {
			downMarker = i
			break
		}
		if trimmed == UpMarker && upStart == 0 {
			upStart = i + 1
		}
	}

	if downMarker < 0 {
		return strings.TrimSpace(strings.Join(lines[upStart:], "\n")), ""
	}
	up = strings.TrimSpace(strings.Join(lines[upStart:downMarker], "\n"))
	down = strings.TrimSpace(strings.Join(lines[downMarker+1:], "\n"))
	return up, down
}

// Checksum はアップとダウンを合わせた内容のSHA-256を返す。
func Checksum(up, down string) string {
	h := sha256.New()
	h.Write([]byte(up))
	h.Write([]byte("\n" + DownMarker + "\n"))
	h.Write([]byte(down))
	return hex.EncodeToString(h.Sum(nil))
}

// HasStatements はスクリプトにコメント以外の行が含まれるかを返す。
func HasStatements(script string) bool {
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		return true
	}
	return false
}

// ParseMigration はファイル名と内容からMigrationを生成する。
func ParseMigration(filename, ext, filePath, content string) (*Migration, bool) {
	version, slug, ok := ParseFileName(filename, ext)
	if !ok {
		return nil, false
	}
	up, down := SplitScripts(content)
	return &Migration{
		Version:    version,
		Slug:       slug,
		Name:       DisplayName(slug),
		UpScript:   up,
		DownScript: down,
		Checksum:   Checksum(up, down),
		FilePath:   filePath,
	}, true
}
