package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"schema-migrator/internal/domain"
	"schema-migrator/internal/handler"
)

// statusCmd はマイグレーションの適用状況を表示する。
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  "Show the status of all migrations (applied/pending)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.service.Status(ctx)
			if err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), output, report)
		},
	}
}

// upCmd は未適用マイグレーションを適用する。
func upCmd() *cobra.Command {
	return runCmd(domain.DirectionUp, "Apply pending migrations",
		"Apply pending migrations in ascending version order, up to --target when given")
}

// downCmd は適用済みマイグレーションを取り消す。
func downCmd() *cobra.Command {
	return runCmd(domain.DirectionDown, "Revert applied migrations",
		"Revert applied migrations newer than --target in descending version order (all when --target is omitted)")
}

func runCmd(direction domain.Direction, short, long string) *cobra.Command {
	var (
		target string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   string(direction),
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// SIGINT/SIGTERMは実行中のマイグレーション完了後に停止する
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if dryRun {
				plan, err := a.service.Plan(ctx, direction, target)
				if err != nil {
					return err
				}
				return renderRun(cmd.OutOrStdout(), output, handler.NewPlanResponse(plan))
			}

			var result *domain.RunResult
			if direction == domain.DirectionUp {
				result, err = a.service.Up(ctx, target)
			} else {
				result, err = a.service.Down(ctx, target)
			}
			if err != nil {
				if result != nil && len(result.Versions) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Completed before failure: %s\n", strings.Join(result.Versions, ", "))
				}
				return err
			}
			return renderRun(cmd.OutOrStdout(), output, handler.NewRunResponse(result))
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Target version (YYYYMMDDHHMMSS)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without executing it")
	return cmd
}

// createCmd はマイグレーションの雛形ファイルを作成する。
func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creator, err := newCreator(cfg)
			if err != nil {
				return err
			}

			path, err := creator.Create(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), handler.CreateResponse{Path: path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}

// unlockCmd は異常終了で残ったロックを解除する。
func unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale migration lock",
		Long:  "Remove a lock row left behind by a crashed run (sqlite). Session-scoped locks on mysql/postgres are released by the server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			released, err := a.service.Unlock(ctx)
			if err != nil {
				return err
			}

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]bool{"released": released})
			}
			if released {
				fmt.Fprintln(cmd.OutOrStdout(), "Lock released.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No lock to release.")
			}
			return nil
		},
	}
}

func renderStatus(w io.Writer, format string, report *domain.StatusReport) error {
	if format == "json" {
		return writeJSON(w, handler.NewStatusResponse(report))
	}

	fmt.Fprintf(w, "Total: %d  Applied: %d  Pending: %d\n\n", report.Total, report.Applied, report.Pending)

	// テーブル形式で出力
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	fmt.Fprintln(tw, "-------\t----\t------\t----------")
	for _, m := range report.Migrations {
		appliedAt := "-"
		if m.AppliedAt != nil {
			appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Version, m.Name, m.Status, appliedAt)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	if len(report.PendingVersions) > 0 {
		fmt.Fprintf(w, "\nPending: %s\n", strings.Join(report.PendingVersions, ", "))
	}
	if len(report.Drifted) > 0 {
		fmt.Fprintf(w, "Changed since applied: %s\n", strings.Join(report.Drifted, ", "))
	}
	if len(report.Orphaned) > 0 {
		fmt.Fprintf(w, "Applied without definition file: %s\n", strings.Join(report.Orphaned, ", "))
	}
	return nil
}

func renderRun(w io.Writer, format string, resp handler.RunResponse) error {
	if format == "json" {
		return writeJSON(w, resp)
	}

	verb := "Applied"
	if resp.Direction == string(domain.DirectionDown) {
		verb = "Reverted"
	}
	if resp.DryRun {
		if resp.Planned == 0 {
			fmt.Fprintln(w, "Nothing to do.")
			return nil
		}
		fmt.Fprintf(w, "Would run %s for %d migration(s):\n", resp.Direction, resp.Planned)
		for _, v := range resp.Versions {
			fmt.Fprintf(w, "  %s\n", v)
		}
		return nil
	}

	if len(resp.Versions) == 0 {
		if resp.Direction == string(domain.DirectionDown) {
			fmt.Fprintln(w, "No migrations to revert.")
		} else {
			fmt.Fprintln(w, "No pending migrations.")
		}
		return nil
	}
	fmt.Fprintf(w, "%s %d migration(s) successfully.\n", verb, len(resp.Versions))
	for _, v := range resp.Versions {
		fmt.Fprintf(w, "  %s\n", v)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
