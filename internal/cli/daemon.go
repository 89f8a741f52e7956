package cli

import (
	"github.com/spf13/cobra"

	"fundx/internal/daemon"
)

func addDaemonCommands(rootCmd *cobra.Command, app *App) {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the scheduler daemon",
	}

	daemonCmd.AddCommand(newDaemonStartCmd(app))
	daemonCmd.AddCommand(newDaemonStatusCmd(app))
	daemonCmd.AddCommand(newDaemonStopCmd(app))

	rootCmd.AddCommand(daemonCmd)
}

func newDaemonStartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		Long: `Run the scheduler in the foreground until SIGINT or SIGTERM.

Only one daemon may run per home directory. A second start exits with an
error naming the pid that holds the lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := daemon.New(app.Config, app.Logger)
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
}

func newDaemonStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := daemon.CurrentStatus(app.Config)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"running":  st.Running,
					"pid":      st.PID,
					"pid_file": st.PIDFile,
				})
			}

			switch {
			case st.Running:
				output.Success("Daemon running (pid %d)", st.PID)
			case st.PID != 0:
				output.Warning("Stale pid file for pid %d", st.PID)
			default:
				output.Info("Daemon not running")
			}
			output.Dim("PID file: %s", st.PIDFile)
			return nil
		},
	}
}

func newDaemonStopCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			pid, err := daemon.Signal(app.Config)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"signalled": pid})
			}
			output.Success("Sent SIGTERM to daemon (pid %d)", pid)
			return nil
		},
	}
}
