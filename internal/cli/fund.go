package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fundx/internal/config"
)

func addFundCommands(rootCmd *cobra.Command, app *App) {
	fundCmd := &cobra.Command{
		Use:   "fund",
		Short: "Create and inspect funds",
	}

	fundCmd.AddCommand(newFundInitCmd(app))
	fundCmd.AddCommand(newFundListCmd(app))

	rootCmd.AddCommand(fundCmd)
}

func newFundInitCmd(app *App) *cobra.Command {
	var (
		displayName string
		capital     float64
		currency    string
		provider    string
	)

	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Create a fund with the default schedule",
		Example: `  fundx fund init growth --capital 25000
  fundx fund init runway --display-name "Runway Fund" --currency INR --broker zerodha`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			fund := config.DefaultFund(args[0], displayName, capital)
			if currency != "" {
				fund.Capital.Currency = currency
			}
			if provider != "" {
				fund.Broker.Provider = provider
			}

			now := time.Now().In(app.Config.Location())
			if err := app.Docs.InitFund(cmd.Context(), fund, now); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"fund":     fund.ID(),
					"path":     app.Docs.FundDir(fund.ID()),
					"capital":  fund.Capital.Initial,
					"currency": fund.Capital.Currency,
				})
			}
			output.Success("Created fund %s", fund.ID())
			output.Printf("  Capital:  %s\n", FormatCurrency(fund.Capital.Initial, fund.Capital.Currency))
			output.Printf("  Broker:   %s (%s)\n", fund.Broker.Provider, fund.Broker.Mode)
			output.Dim("  Config:   %s", config.FundConfigPath(app.Config.Home, fund.ID()))
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "human readable fund name")
	cmd.Flags().Float64Var(&capital, "capital", 10000, "initial capital")
	cmd.Flags().StringVar(&currency, "currency", "", "capital currency (default USD)")
	cmd.Flags().StringVar(&provider, "broker", "", "broker provider: paper, alpaca, zerodha")

	return cmd
}

// fundRow is one line of `fund list`.
type fundRow struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Currency    string    `json:"currency"`
	TotalValue  float64   `json:"total_value"`
	Cash        float64   `json:"cash"`
	Positions   int       `json:"positions"`
	LastSession string    `json:"last_session,omitempty"`
	LastStatus  string    `json:"last_status,omitempty"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func newFundListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List funds with their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ids, err := app.Docs.ListFunds()
			if err != nil {
				return err
			}

			rows := make([]fundRow, 0, len(ids))
			for _, id := range ids {
				row := fundRow{Name: id}
				fund, err := app.Docs.LoadFund(id)
				if err != nil {
					row.Status = "invalid"
					row.Error = err.Error()
					rows = append(rows, row)
					continue
				}
				row.Status = string(fund.Info.Status)
				row.Currency = fund.Capital.Currency

				if p, err := app.Docs.LoadPortfolio(ctx, id); err == nil {
					row.TotalValue = p.TotalValue
					row.Cash = p.Cash
					row.Positions = len(p.Positions)
				}
				if l, err := app.Docs.LoadSessionLog(ctx, id); err == nil && l != nil {
					row.LastSession = l.SessionKind
					row.LastStatus = string(l.Status)
					row.LastRunAt = l.EndedAt
				}
				rows = append(rows, row)
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Info("No funds yet. Create one with 'fundx fund init <name>'.")
				return nil
			}

			loc := app.Config.Location()
			table := NewTable(output, "FUND", "STATUS", "VALUE", "CASH", "POS", "LAST SESSION")
			for _, r := range rows {
				if r.Error != "" {
					table.AddRow(r.Name, output.Red(r.Status), "-", "-", "-", TruncateString(r.Error, 40))
					continue
				}
				last := "-"
				if r.LastSession != "" {
					last = fmt.Sprintf("%s %s (%s)", r.LastSession, output.Status(r.LastStatus), FormatDateTime(r.LastRunAt, loc))
				}
				table.AddRow(
					r.Name,
					output.Status(r.Status),
					FormatCurrency(r.TotalValue, r.Currency),
					FormatCurrency(r.Cash, r.Currency),
					fmt.Sprintf("%d", r.Positions),
					last,
				)
			}
			table.Render()
			return nil
		},
	}
}

