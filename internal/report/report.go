// Package report writes the periodic fund reports.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "fundx/internal/errors"
	"fundx/internal/logging"
	"fundx/internal/models"
	"fundx/internal/state"
	"fundx/internal/store"
)

// maxListedTrades caps the trade table of a report.
const maxListedTrades = 50

// Generator renders reports from fund state and the ledger.
type Generator struct {
	docs   *state.Store
	ledger store.Ledger
	logger zerolog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(docs *state.Store, ledger store.Ledger, logger zerolog.Logger) *Generator {
	return &Generator{
		docs:   docs,
		ledger: ledger,
		logger: logging.ForComponent(logger, "report"),
	}
}

// Range returns the half-open window a report covers, in now's location.
// Daily covers today, weekly the seven days ending today and monthly the
// previous calendar month, since it is produced on the first of the month.
func Range(period string, now time.Time) (store.DateRange, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case state.PeriodDaily:
		return store.DateRange{Start: day, End: day.AddDate(0, 0, 1)}, nil
	case state.PeriodWeekly:
		return store.DateRange{Start: day.AddDate(0, 0, -6), End: day.AddDate(0, 0, 1)}, nil
	case state.PeriodMonthly:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return store.DateRange{Start: first.AddDate(0, -1, 0), End: first}, nil
	}
	return store.DateRange{}, apperrors.NewValidationError("period", period, "must be daily, weekly or monthly")
}

// Generate writes reports/<period>/<YYYY-MM-DD>.md for the fund and returns
// its path.
func (g *Generator) Generate(ctx context.Context, fund *models.Fund, period string, now time.Time) (string, error) {
	fundID := fund.ID()
	r, err := Range(period, now)
	if err != nil {
		return "", err
	}

	portfolio, err := g.docs.LoadPortfolio(ctx, fundID)
	if err != nil {
		return "", err
	}
	tracker, err := g.docs.LoadObjective(ctx, fundID)
	if err != nil {
		return "", err
	}
	summary, err := g.ledger.Summarize(ctx, fundID, r)
	if err != nil {
		return "", apperrors.NewFundError(fundID, "report", err)
	}
	trades, err := g.ledger.Query(ctx, store.TradeFilter{
		FundID:    fundID,
		StartDate: r.Start,
		EndDate:   r.End.Add(-time.Nanosecond),
		Limit:     maxListedTrades,
	})
	if err != nil {
		return "", apperrors.NewFundError(fundID, "report", err)
	}
	// A fund that never ran a session has no log yet
	lastSession, _ := g.docs.LoadSessionLog(ctx, fundID)

	text := Render(fund, period, r, portfolio, tracker, summary, trades, lastSession)
	path := filepath.Join(g.docs.ReportsDir(fundID, period), now.Format("2006-01-02")+".md")
	if err := state.WriteFileAtomic(path, []byte(text)); err != nil {
		return "", apperrors.NewFundError(fundID, "report", err)
	}

	logger := logging.WithAction(logging.WithFund(g.logger, fundID), "report_"+period)
	logger.Info().Str("path", path).Int("trades", summary.Trades).Msg("Report written")
	return path, nil
}

// Render formats a report.
func Render(fund *models.Fund, period string, r store.DateRange, p *models.Portfolio, tracker *models.ObjectiveTracker,
	summary *store.Summary, trades []models.TradeEntry, lastSession *models.SessionLog) string {
	var b strings.Builder
	cur := fund.Capital.Currency

	fmt.Fprintf(&b, "# %s %s report\n\n", fund.Info.DisplayName, period)
	fmt.Fprintf(&b, "Period: %s to %s\n\n",
		r.Start.Format("2006-01-02"), r.End.AddDate(0, 0, -1).Format("2006-01-02"))

	b.WriteString("## Portfolio\n\n")
	fmt.Fprintf(&b, "- Total value: %s %s\n", money(p.TotalValue), cur)
	fmt.Fprintf(&b, "- Cash: %s %s\n", money(p.Cash), cur)
	if fund.Capital.Initial > 0 {
		ret := (p.TotalValue - fund.Capital.Initial) / fund.Capital.Initial * 100
		fmt.Fprintf(&b, "- Return since inception: %+.2f%%\n", ret)
	}
	if tracker != nil && tracker.TargetValue > 0 {
		fmt.Fprintf(&b, "- Objective (%s): %.1f%% of the way to %s %s\n",
			tracker.ObjectiveType, tracker.ProgressPct, money(tracker.TargetValue), cur)
	}
	b.WriteString("\n")

	if len(p.Positions) == 0 {
		b.WriteString("No open positions.\n\n")
	} else {
		b.WriteString("| Symbol | Shares | Avg cost | Price | Value | P&L % | Weight % | Stop |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|\n")
		for _, pos := range p.Positions {
			stop := "-"
			if pos.StopLoss > 0 {
				stop = money(pos.StopLoss)
			}
			fmt.Fprintf(&b, "| %s | %g | %s | %s | %s | %+.2f | %.1f | %s |\n",
				pos.Symbol, pos.Shares, money(pos.AvgCost), money(pos.CurrentPrice),
				money(pos.MarketValue), pos.UnrealizedPnLPct, pos.WeightPct, stop)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Activity\n\n")
	fmt.Fprintf(&b, "- Trades: %d (%d buys, %d sells)\n", summary.Trades, summary.Buys, summary.Sells)
	fmt.Fprintf(&b, "- Bought: %s %s, sold: %s %s\n", money(summary.BuyValue), cur, money(summary.SellValue), cur)
	fmt.Fprintf(&b, "- Closed: %d, win rate %.1f%%, realized P&L %s %s\n",
		summary.Closed, summary.WinRate(), signedMoney(summary.RealizedPnL), cur)
	b.WriteString("\n")

	if len(trades) > 0 {
		b.WriteString("| Time | Symbol | Side | Qty | Price | Value |\n")
		b.WriteString("|---|---|---|---:|---:|---:|\n")
		for _, t := range trades {
			fmt.Fprintf(&b, "| %s | %s | %s | %g | %s | %s |\n",
				t.Timestamp.In(r.Start.Location()).Format("2006-01-02 15:04"),
				t.Symbol, t.Side, t.Quantity, money(t.Price), money(t.TotalValue))
		}
		if len(trades) == maxListedTrades {
			fmt.Fprintf(&b, "\nOnly the latest %d trades are listed.\n", maxListedTrades)
		}
		b.WriteString("\n")
	}

	if lastSession != nil && lastSession.RunID != "" {
		b.WriteString("## Last session\n\n")
		fmt.Fprintf(&b, "%s at %s: %s", lastSession.SessionKind,
			lastSession.StartedAt.In(r.Start.Location()).Format("2006-01-02 15:04"), lastSession.Status)
		if lastSession.Summary != "" {
			fmt.Fprintf(&b, ". %s", lastSession.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func signedMoney(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}
