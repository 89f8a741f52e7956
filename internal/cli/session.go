package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fundx/internal/executor"
	"fundx/internal/models"
	"fundx/internal/report"
	"fundx/internal/session"
	"fundx/internal/state"
)

func addSessionCommands(rootCmd *cobra.Command, app *App) {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Run fund sessions by hand",
	}
	sessionCmd.AddCommand(newSessionRunCmd(app))
	rootCmd.AddCommand(sessionCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate fund reports",
	}
	reportCmd.AddCommand(newReportGenerateCmd(app))
	rootCmd.AddCommand(reportCmd)
}

// specFor resolves a session kind against the fund's schedule. Unknown kinds
// run as ad-hoc sessions with only the given focus.
func specFor(fund *models.Fund, kind string) session.Spec {
	if def, ok := fund.Schedule.Sessions[kind]; ok {
		return session.ForSession(kind, def)
	}
	for _, s := range fund.Schedule.SpecialSessions {
		if s.Kind() == kind {
			return session.ForSpecial(s)
		}
	}
	return session.Spec{Kind: kind}
}

func newSessionRunCmd(app *App) *cobra.Command {
	var focus string

	cmd := &cobra.Command{
		Use:   "run <fund> <kind>",
		Short: "Run one session now and print its log",
		Example: `  fundx session run growth pre_market
  fundx session run growth adhoc --focus "Review the energy exposure"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			fund, err := app.Docs.LoadFund(args[0])
			if err != nil {
				return err
			}
			if fund.Info.Status == models.FundClosed {
				return fmt.Errorf("fund %s is closed", fund.ID())
			}

			spec := specFor(fund, args[1])
			if focus != "" {
				spec.Focus = focus
			}

			ledger, err := app.openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			exec, err := executor.New(app.Config, executor.NewFundTools(app.Docs, ledger))
			if err != nil {
				return err
			}

			loc := app.Config.Location()
			runner := session.NewRunner(exec, app.Docs, ledger, session.Options{
				DefaultTimeout: time.Duration(app.Config.Executor.DefaultTimeoutMinutes) * time.Minute,
				SubTaskTimeout: time.Duration(app.Config.Executor.SubTaskTimeoutMinutes) * time.Minute,
				DefaultModel:   app.Config.Executor.DefaultModel,
			}, app.Logger)
			runner.Now = func() time.Time { return time.Now().In(loc) }

			if !output.IsJSON() {
				output.Info("Running %s for %s...", spec.Kind, fund.ID())
			}
			entry, runErr := runner.Run(ctx, fund, spec)

			if output.IsJSON() {
				if err := output.JSON(entry); err != nil {
					return err
				}
				return runErr
			}
			printSessionLog(output, entry, loc)
			return runErr
		},
	}

	cmd.Flags().StringVar(&focus, "focus", "", "override the session focus")
	return cmd
}

func printSessionLog(output *Output, entry *models.SessionLog, loc *time.Location) {
	if entry == nil {
		return
	}
	output.Printf("Run:      %s\n", entry.RunID)
	output.Printf("Status:   %s\n", output.Status(string(entry.Status)))
	output.Printf("Started:  %s\n", FormatDateTime(entry.StartedAt, loc))
	output.Printf("Duration: %s\n", FormatDuration(entry.EndedAt.Sub(entry.StartedAt)))
	output.Printf("Trades:   %d\n", entry.TradesExecuted)
	if entry.AnalysisFile != "" {
		output.Printf("Analysis: %s\n", entry.AnalysisFile)
	}
	if entry.Summary != "" {
		output.Println()
		output.Println(entry.Summary)
	}
	if entry.Error != "" {
		output.Error("%s", entry.Error)
	}
}

func newReportGenerateCmd(app *App) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "generate <fund> <daily|weekly|monthly>",
		Short: "Write a report for a fund",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			switch args[1] {
			case state.PeriodDaily, state.PeriodWeekly, state.PeriodMonthly:
			default:
				return fmt.Errorf("unknown period %q", args[1])
			}

			fund, err := app.Docs.LoadFund(args[0])
			if err != nil {
				return err
			}

			loc := app.Config.Location()
			now := time.Now().In(loc)
			if date != "" {
				now, err = time.ParseInLocation("2006-01-02", date, loc)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			ledger, err := app.openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			path, err := report.NewGenerator(app.Docs, ledger, app.Logger).Generate(cmd.Context(), fund, args[1], now)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"fund": fund.ID(), "period": args[1], "path": path})
			}
			output.Success("Wrote %s report", args[1])
			output.Dim("%s", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "report as of YYYY-MM-DD (default today)")
	return cmd
}
