// Package main はマイグレーションCLIのエントリポイント。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"schema-migrator/config"
	"schema-migrator/internal/domain"
	"schema-migrator/internal/infra"
)

const version = "1.0.0"

// 終了コード
const (
	exitOK              = 0
	exitFailure         = 1
	exitMissingRollback = 2
	exitLockHeld        = 3
	exitCancelled       = 4
)

var (
	migrationsDir string
	databaseURL   string
	driver        string
	output        string
	driftPolicy   string

	cfg *config.Config
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Versioned schema migration tool",
		Long:          "Apply, revert and inspect versioned SQL schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = loadConfig(cmd)
			if output != "text" && output != "json" {
				return fmt.Errorf("unsupported output format: %q", output)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// 標準出力は結果表示に使うためログは標準エラー出力に出す
			infra.SetupLogger(os.Stderr, cfg)
			return nil
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "Migrations directory (or set MIGRATIONS_DIR)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Database DSN (or set DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "Database driver: mysql, postgres, sqlite (or set DATABASE_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().StringVar(&driftPolicy, "drift-policy", "", "Checksum drift policy: warn, fail (or set DRIFT_POLICY)")

	// サブコマンド登録
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(downCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// loadConfig は環境変数の設定をフラグで上書きする。
func loadConfig(cmd *cobra.Command) *config.Config {
	c := config.Load()
	flags := cmd.Flags()
	if flags.Changed("dir") {
		c.MigrationsDir = migrationsDir
	}
	if flags.Changed("database-url") {
		c.DatabaseURL = databaseURL
	}
	if flags.Changed("driver") {
		c.DatabaseDriver = driver
	}
	if flags.Changed("drift-policy") {
		c.DriftPolicy = driftPolicy
	}
	return c
}

// exitCode はエラー種別を終了コードに変換する。
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrMissingRollback):
		return exitMissingRollback
	case errors.Is(err, domain.ErrLockHeld):
		return exitLockHeld
	case errors.Is(err, domain.ErrRunCancelled):
		return exitCancelled
	default:
		return exitFailure
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "migrate version %s\n", version)
		},
	}
}
