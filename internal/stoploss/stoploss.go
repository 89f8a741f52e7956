// Package stoploss watches fund portfolios for positions trading at or below
// their stop and sells them.
package stoploss

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundx/internal/broker"
	apperrors "fundx/internal/errors"
	"fundx/internal/logging"
	"fundx/internal/models"
	"fundx/internal/state"
	"fundx/internal/store"
)

// BrokerResolver picks the adapter serving a fund.
type BrokerResolver interface {
	For(fund *models.Fund) (broker.Adapter, error)
}

// Guard checks and executes stop-losses.
type Guard struct {
	docs    *state.Store
	ledger  store.Ledger
	brokers BrokerResolver
	logger  zerolog.Logger

	// Now supplies the clock for ledger and portfolio timestamps.
	Now func() time.Time
}

// New creates a guard.
func New(docs *state.Store, ledger store.Ledger, brokers BrokerResolver, logger zerolog.Logger) *Guard {
	return &Guard{
		docs:    docs,
		ledger:  ledger,
		brokers: brokers,
		logger:  logging.ForComponent(logger, "stoploss"),
		Now:     time.Now,
	}
}

// Check returns a breach for every guarded position whose latest price is at
// or below its stop. Funds without guarded positions cost no broker call.
// Symbols the broker has no price for are skipped.
func (g *Guard) Check(ctx context.Context, fund *models.Fund) ([]models.BreachEvent, error) {
	fundID := fund.ID()
	portfolio, err := g.docs.LoadPortfolio(ctx, fundID)
	if err != nil {
		return nil, err
	}

	var guarded []models.Position
	for _, pos := range portfolio.Positions {
		if pos.HasStop() {
			guarded = append(guarded, pos)
		}
	}
	if len(guarded) == 0 {
		return nil, nil
	}

	adapter, err := g.brokers.For(fund)
	if err != nil {
		return nil, apperrors.NewFundError(fundID, "stop_loss", err)
	}

	symbols := make([]string, len(guarded))
	for i, pos := range guarded {
		symbols[i] = pos.Symbol
	}
	prices, err := adapter.LatestPrices(ctx, symbols)
	if err != nil {
		return nil, apperrors.NewFundError(fundID, "stop_loss", err)
	}

	logger := logging.WithFund(g.logger, fundID)
	var events []models.BreachEvent
	for _, pos := range guarded {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			symLogger := logging.WithSymbol(logger, pos.Symbol)
			symLogger.Debug().Msg("No price, stop not evaluated")
			continue
		}
		if price > pos.StopLoss {
			continue
		}
		loss := (price - pos.AvgCost) * pos.Shares
		lossPct := 0.0
		if pos.AvgCost > 0 {
			lossPct = (price - pos.AvgCost) / pos.AvgCost * 100
		}
		events = append(events, models.BreachEvent{
			Symbol:       pos.Symbol,
			Shares:       pos.Shares,
			StopPrice:    pos.StopLoss,
			CurrentPrice: price,
			AvgCost:      pos.AvgCost,
			Loss:         loss,
			LossPct:      lossPct,
		})
	}
	return events, nil
}

// Execute sells every breached position in order. A failed sell is logged
// and the remaining events are still attempted. Sold positions are removed
// from a freshly read portfolio and their proceeds added to cash. The
// returned error joins the per-symbol failures.
func (g *Guard) Execute(ctx context.Context, fund *models.Fund, events []models.BreachEvent) error {
	if len(events) == 0 {
		return nil
	}
	fundID := fund.ID()
	logger := logging.WithAction(logging.WithFund(g.logger, fundID), "stop_loss")

	adapter, err := g.brokers.For(fund)
	if err != nil {
		return apperrors.NewFundError(fundID, "stop_loss", err)
	}

	// Bookkeeping for a filled order must land even if ctx expires mid-run
	bookCtx := context.WithoutCancel(ctx)

	runID := "stoploss-" + uuid.NewString()
	sold := make(map[string]bool)
	var proceeds float64
	var errs []error

	for _, ev := range events {
		symLogger := logging.WithSymbol(logger, ev.Symbol)

		order, err := adapter.PlaceMarketSell(ctx, ev.Symbol, ev.Shares)
		if err != nil {
			symLogger.Error().Err(err).Float64("stop", ev.StopPrice).Msg("Stop-loss sell failed")
			errs = append(errs, fmt.Errorf("%s: %w", ev.Symbol, err))
			continue
		}

		fill := order.FilledPrice
		if fill <= 0 {
			fill = ev.CurrentPrice
		}
		sold[ev.Symbol] = true
		proceeds += fill * ev.Shares
		logging.LogTrade(symLogger, ev.Symbol, string(models.OrderSideSell), ev.Shares, fill)

		if err := g.record(bookCtx, fundID, runID, ev, order, fill); err != nil {
			// The sale happened; the portfolio must still reflect it
			symLogger.Error().Err(err).Msg("Failed to record stop-loss in ledger")
			errs = append(errs, fmt.Errorf("%s: ledger: %w", ev.Symbol, err))
		}
	}

	if len(sold) > 0 {
		if err := g.applySales(bookCtx, fundID, sold, proceeds); err != nil {
			logger.Error().Err(err).Msg("Failed to update portfolio after stop-loss")
			errs = append(errs, err)
		} else {
			logger.Info().Int("sold", len(sold)).Float64("proceeds", proceeds).Msg("Stop-loss executed")
		}
	}

	return apperrors.Join(errs...)
}

func (g *Guard) record(ctx context.Context, fundID, runID string, ev models.BreachEvent, order *models.OrderResult, fill float64) error {
	now := g.Now()
	pnl := (fill - ev.AvgCost) * ev.Shares
	pnlPct := 0.0
	if ev.AvgCost > 0 {
		pnlPct = (fill - ev.AvgCost) / ev.AvgCost * 100
	}

	entry := &models.TradeEntry{
		Timestamp:  now,
		FundID:     fundID,
		Symbol:     ev.Symbol,
		Side:       models.OrderSideSell,
		Quantity:   ev.Shares,
		Price:      fill,
		TotalValue: fill * ev.Shares,
		OrderType:  models.OrderTypeStopLoss,
		SessionID:  runID,
		Reasoning: fmt.Sprintf("Stop-loss triggered: price %.4f at or below stop %.4f (order %s)",
			ev.CurrentPrice, ev.StopPrice, order.OrderID),
		MarketContext: fmt.Sprintf("Observed %.4f, avg cost %.4f, loss %.2f (%.2f%%)",
			ev.CurrentPrice, ev.AvgCost, ev.Loss, ev.LossPct),
		ClosedAt:    &now,
		ClosePrice:  &fill,
		RealizedPnL: &pnl,
		PnLPercent:  &pnlPct,
		Lessons:     "Position closed automatically by the stop-loss guard.",
	}
	_, err := g.ledger.Insert(ctx, entry)
	return err
}

// applySales re-reads the portfolio so concurrent writers since Check are
// not overwritten.
func (g *Guard) applySales(ctx context.Context, fundID string, sold map[string]bool, proceeds float64) error {
	portfolio, err := g.docs.LoadPortfolio(ctx, fundID)
	if err != nil {
		return err
	}
	portfolio.Remove(sold)
	portfolio.Cash += proceeds
	portfolio.LastUpdated = g.Now()
	portfolio.Recalculate()
	return g.docs.SavePortfolio(ctx, fundID, portfolio)
}

// Run checks the fund and executes any breaches.
func (g *Guard) Run(ctx context.Context, fund *models.Fund) error {
	events, err := g.Check(ctx, fund)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	logger := logging.WithFund(g.logger, fund.ID())
	for _, ev := range events {
		symLogger := logging.WithSymbol(logger, ev.Symbol)
		symLogger.Warn().
			Float64("price", ev.CurrentPrice).
			Float64("stop", ev.StopPrice).
			Float64("loss", ev.Loss).
			Msg("Stop-loss breached")
	}
	return g.Execute(ctx, fund, events)
}
