// Package portfolio reconciles fund portfolios with their brokers.
package portfolio

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fundx/internal/broker"
	apperrors "fundx/internal/errors"
	"fundx/internal/logging"
	"fundx/internal/models"
	"fundx/internal/state"
)

// BrokerResolver picks the adapter serving a fund.
type BrokerResolver interface {
	For(fund *models.Fund) (broker.Adapter, error)
}

// Syncer refreshes portfolios from broker data.
type Syncer struct {
	docs    *state.Store
	brokers BrokerResolver
	logger  zerolog.Logger

	// Now supplies the clock for portfolio and tracker timestamps.
	Now func() time.Time
}

// NewSyncer creates a syncer.
func NewSyncer(docs *state.Store, brokers BrokerResolver, logger zerolog.Logger) *Syncer {
	return &Syncer{
		docs:    docs,
		brokers: brokers,
		logger:  logging.ForComponent(logger, "sync"),
		Now:     time.Now,
	}
}

// Sync updates the fund's portfolio and objective tracker. Live funds take
// positions and cash from the broker; paper funds keep their own positions
// and are marked to the latest prices.
func (s *Syncer) Sync(ctx context.Context, fund *models.Fund) (*models.Portfolio, error) {
	fundID := fund.ID()
	logger := logging.WithAction(logging.WithFund(s.logger, fundID), "sync")

	adapter, err := s.brokers.For(fund)
	if err != nil {
		return nil, apperrors.NewFundError(fundID, "sync", err)
	}

	current, err := s.docs.LoadPortfolio(ctx, fundID)
	if err != nil {
		return nil, err
	}

	var next *models.Portfolio
	if fund.Broker.IsLive() {
		next, err = s.reconcile(ctx, adapter, current)
	} else {
		next, err = s.markToMarket(ctx, adapter, current)
	}
	if err != nil {
		return nil, apperrors.NewFundError(fundID, "sync", err)
	}

	next.Recalculate()
	if err := s.docs.SavePortfolio(ctx, fundID, next); err != nil {
		return nil, err
	}

	tracker, err := s.docs.LoadObjective(ctx, fundID)
	if err != nil {
		return next, err
	}
	tracker.Update(next.TotalValue, next.LastUpdated)
	if err := s.docs.SaveObjective(ctx, fundID, tracker); err != nil {
		return next, err
	}

	logger.Info().
		Str("broker", adapter.Name()).
		Int("positions", len(next.Positions)).
		Float64("cash", next.Cash).
		Float64("total_value", next.TotalValue).
		Msg("Portfolio synced")
	return next, nil
}

// reconcile rebuilds positions from the broker. Stops and entry metadata
// survive for symbols still held.
func (s *Syncer) reconcile(ctx context.Context, adapter broker.Adapter, current *models.Portfolio) (*models.Portfolio, error) {
	held, err := adapter.Positions(ctx)
	if err != nil {
		return nil, err
	}
	account, err := adapter.Account(ctx)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	next := &models.Portfolio{
		LastUpdated: now,
		Cash:        account.Cash,
		Positions:   make([]models.Position, 0, len(held)),
	}
	for _, bp := range held {
		if bp.Quantity <= 0 {
			continue
		}
		pos := models.Position{
			Symbol:       bp.Symbol,
			Shares:       bp.Quantity,
			AvgCost:      bp.AveragePrice,
			CurrentPrice: bp.LastPrice,
			EntryDate:    now,
		}
		if pos.CurrentPrice <= 0 {
			pos.CurrentPrice = pos.AvgCost
		}
		if prev, ok := current.Find(bp.Symbol); ok {
			pos.StopLoss = prev.StopLoss
			pos.EntryReason = prev.EntryReason
			if !prev.EntryDate.IsZero() {
				pos.EntryDate = prev.EntryDate
			}
		}
		next.Positions = append(next.Positions, pos)
	}
	return next, nil
}

// markToMarket refreshes current prices; symbols without a quote keep their
// last price.
func (s *Syncer) markToMarket(ctx context.Context, adapter broker.Adapter, current *models.Portfolio) (*models.Portfolio, error) {
	next := *current
	next.Positions = append([]models.Position(nil), current.Positions...)
	next.LastUpdated = s.Now()

	if len(next.Positions) == 0 {
		return &next, nil
	}
	prices, err := adapter.LatestPrices(ctx, next.Symbols())
	if err != nil {
		return nil, err
	}
	for i := range next.Positions {
		if px, ok := prices[next.Positions[i].Symbol]; ok && px > 0 {
			next.Positions[i].CurrentPrice = px
		}
	}
	return &next, nil
}
