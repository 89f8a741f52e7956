package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fundx/internal/models"
	"fundx/internal/store"
)

func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Search and maintain the trade ledger",
	}

	ledgerCmd.AddCommand(newLedgerSearchCmd(app))
	ledgerCmd.AddCommand(newLedgerReindexCmd(app))

	rootCmd.AddCommand(ledgerCmd)
}

func newLedgerSearchCmd(app *App) *cobra.Command {
	var (
		symbol  string
		side    string
		session string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search <fund> [query]",
		Short: "Search a fund's trades",
		Long: `List a fund's trades, newest first.

The optional query is a full-text expression matched against the trade
reasoning, market context and lessons.`,
		Example: `  fundx ledger search growth
  fundx ledger search growth "earnings AND guidance" --limit 10
  fundx ledger search growth --symbol AAPL --side sell`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			filter := store.TradeFilter{
				FundID:    args[0],
				Symbol:    strings.ToUpper(symbol),
				SessionID: session,
				Limit:     limit,
			}
			if len(args) == 2 {
				filter.Text = args[1]
			}
			switch strings.ToLower(side) {
			case "":
			case "buy":
				filter.Side = models.OrderSideBuy
			case "sell":
				filter.Side = models.OrderSideSell
			default:
				return fmt.Errorf("invalid --side %q: want buy or sell", side)
			}

			ledger, err := app.openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			trades, err := ledger.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Info("No trades found")
				return nil
			}

			currency := ""
			if fund, err := app.Docs.LoadFund(args[0]); err == nil {
				currency = fund.Capital.Currency
			}
			loc := app.Config.Location()

			table := NewTable(output, "ID", "TIME", "SYMBOL", "SIDE", "QTY", "PRICE", "P&L", "REASONING")
			for _, t := range trades {
				sideText := output.Green(string(t.Side))
				if t.Side == models.OrderSideSell {
					sideText = output.Red(string(t.Side))
				}
				pnl := "-"
				if t.RealizedPnL != nil {
					pnl = output.FormatPnL(*t.RealizedPnL, currency)
				}
				table.AddRow(
					fmt.Sprintf("%d", t.ID),
					FormatDateTime(t.Timestamp, loc),
					t.Symbol,
					sideText,
					FormatQuantity(t.Quantity),
					FormatCurrency(t.Price, currency),
					pnl,
					TruncateString(t.Reasoning, 48),
				)
			}
			table.Render()
			output.Dim("%d trade(s)", len(trades))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&side, "side", "", "filter by side: buy or sell")
	cmd.Flags().StringVar(&session, "session", "", "filter by session run id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum trades to show")

	return cmd
}

func newLedgerReindexCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the full-text index from the trades table",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			ledger, err := app.openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			if err := ledger.RebuildIndex(cmd.Context()); err != nil {
				return err
			}
			output.Success("Trade index rebuilt")
			return nil
		},
	}
}
