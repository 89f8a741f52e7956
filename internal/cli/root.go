// Package cli provides the command-line interface for the fund daemon.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fundx/internal/config"
	"fundx/internal/logging"
	"fundx/internal/state"
	"fundx/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-02-01"
)

// App holds the application dependencies. Config and Logger are loaded
// once the --home flag has been parsed.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Docs   *state.Store
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "fundx",
		Short: "fundx - autonomous fund manager daemon",
		Long: `fundx runs scheduled analysis sessions for a set of investment funds.

A background daemon wakes every minute, dispatches sessions and special
event sessions, writes reports, syncs portfolios with the broker and
enforces stop-losses. Each fund lives under <home>/funds/<name>.

Use 'fundx <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.load(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("home", "", "fundx home directory (default: $FUNDX_HOME or ~/.fundx)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	addDaemonCommands(rootCmd, app)
	addFundCommands(rootCmd, app)
	addSessionCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)
	addTriggerCommands(rootCmd, app)

	return rootCmd
}

// load reads the daemon configuration and builds the logger.
func (a *App) load(cmd *cobra.Command) error {
	home, _ := cmd.Flags().GetString("home")
	cfg, err := config.Load(home)
	if err != nil {
		return err
	}

	logCfg := cfg.LogConfig()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	// Interactive commands keep stderr for the daemon's own console output
	if cmd.Name() != "start" {
		logCfg.Console = false
	}

	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(logCfg)
	a.Docs = state.New(cfg.Home)
	return nil
}

// openLedger opens the trade ledger; callers close it.
func (a *App) openLedger() (*store.SQLiteStore, error) {
	ledger, err := store.NewSQLiteStore(a.Config.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return ledger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("fundx v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}
