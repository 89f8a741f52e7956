package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "fundx/internal/errors"
	"fundx/internal/models"
)

// PaperBroker simulates fills at the latest price from a price source.
type PaperBroker struct {
	prices PriceSource

	mu           sync.Mutex
	cash         float64
	positions    map[string]*models.BrokerPosition
	orderCounter int
	orders       []models.OrderResult
	now          func() time.Time
}

// PaperBrokerConfig holds configuration for the paper broker.
type PaperBrokerConfig struct {
	Prices         PriceSource
	InitialBalance float64
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	prices := cfg.Prices
	if prices == nil {
		prices = StaticPrices{}
	}
	return &PaperBroker{
		prices:    prices,
		cash:      cfg.InitialBalance,
		positions: make(map[string]*models.BrokerPosition),
		now:       time.Now,
	}
}

// Name returns "paper".
func (p *PaperBroker) Name() string { return "paper" }

// Capabilities reports every asset class and no live trading.
func (p *PaperBroker) Capabilities() Capabilities {
	return Capabilities{Stocks: true, Crypto: true, Options: true}
}

// LatestPrices delegates to the price source.
func (p *PaperBroker) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	return p.prices.LatestPrices(ctx, symbols)
}

// PlaceMarketSell fills the whole quantity at the latest price. Selling a
// symbol the simulator does not hold is allowed because fund portfolios,
// not the simulator, are the source of truth for paper funds.
func (p *PaperBroker) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*models.OrderResult, error) {
	if qty <= 0 {
		return nil, apperrors.NewValidationError("quantity", qty, "must be positive")
	}

	prices, err := p.prices.LatestPrices(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	price, ok := prices[symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("%s: %w", symbol, apperrors.ErrNoPrice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	now := p.now()
	result := models.OrderResult{
		OrderID:     fmt.Sprintf("PAPER_%d_%d", now.Unix(), p.orderCounter),
		Symbol:      symbol,
		Side:        models.OrderSideSell,
		Quantity:    qty,
		FilledPrice: price,
		Status:      "filled",
		PlacedAt:    now,
	}

	p.cash += price * qty
	if pos, ok := p.positions[symbol]; ok {
		pos.Quantity -= qty
		if pos.Quantity <= 0 {
			delete(p.positions, symbol)
		}
	}
	p.orders = append(p.orders, result)

	return &result, nil
}

// Positions returns the simulated positions marked at the latest prices.
func (p *PaperBroker) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		symbols = append(symbols, sym)
	}
	p.mu.Unlock()

	prices, err := p.prices.LatestPrices(ctx, symbols)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		bp := *pos
		if px, ok := prices[bp.Symbol]; ok {
			bp.LastPrice = px
		}
		out = append(out, bp)
	}
	return out, nil
}

// Account returns simulated cash and equity.
func (p *PaperBroker) Account(ctx context.Context) (*models.Account, error) {
	positions, err := p.Positions(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash
	for _, pos := range positions {
		equity += pos.Quantity * pos.LastPrice
	}
	return &models.Account{
		Cash:        p.cash,
		Equity:      equity,
		BuyingPower: p.cash,
		Currency:    "USD",
	}, nil
}

// Seed sets a simulated holding, replacing any existing one for the symbol.
func (p *PaperBroker) Seed(symbol string, qty, avgPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[symbol] = &models.BrokerPosition{
		Symbol:       symbol,
		Quantity:     qty,
		AveragePrice: avgPrice,
		LastPrice:    avgPrice,
	}
}

// Orders returns the fills so far.
func (p *PaperBroker) Orders() []models.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.OrderResult, len(p.orders))
	copy(out, p.orders)
	return out
}
