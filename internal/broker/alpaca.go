package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"fundx/internal/models"
)

// AlpacaBroker implements Adapter for Alpaca (stocks and crypto).
type AlpacaBroker struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
	limiter     *rate.Limiter
	live        bool
}

// AlpacaConfig holds configuration for the Alpaca broker.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	// RequestsPerMinute caps API usage; Alpaca allows 200 per minute.
	RequestsPerMinute int
}

// NewAlpacaBroker creates a new Alpaca broker instance.
func NewAlpacaBroker(cfg AlpacaConfig) *AlpacaBroker {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 180
	}
	return &AlpacaBroker{
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), 5),
		live:    cfg.BaseURL != "" && !strings.Contains(cfg.BaseURL, "paper"),
	}
}

// Name returns "alpaca".
func (a *AlpacaBroker) Name() string { return "alpaca" }

// Capabilities reports stocks and crypto. Live trading is available on both
// the live and the paper endpoint since Alpaca simulates fills server-side.
func (a *AlpacaBroker) Capabilities() Capabilities {
	return Capabilities{Stocks: true, Crypto: true, LiveTrading: true}
}

// IsLive reports whether the adapter points at the live endpoint.
func (a *AlpacaBroker) IsLive() bool { return a.live }

// LatestPrices fetches the latest trade price for every symbol in one request.
func (a *AlpacaBroker) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	trades, err := a.mdClient.GetLatestTrades(symbols, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest trades: %w", err)
	}
	for sym, tr := range trades {
		if tr.Price > 0 {
			out[sym] = tr.Price
		}
	}
	return out, nil
}

// PlaceMarketSell submits a day market sell order.
func (a *AlpacaBroker) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*models.OrderResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := decimal.NewFromFloat(qty)
	o, err := a.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &q,
		Side:        alpaca.Sell,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	result := &models.OrderResult{
		OrderID:  o.ID,
		Symbol:   o.Symbol,
		Side:     models.OrderSideSell,
		Quantity: qty,
		Status:   o.Status,
		PlacedAt: o.CreatedAt,
	}
	if o.FilledAvgPrice != nil {
		result.FilledPrice, _ = o.FilledAvgPrice.Float64()
	}
	if result.PlacedAt.IsZero() {
		result.PlacedAt = time.Now()
	}
	return result, nil
}

// Positions fetches open positions.
func (a *AlpacaBroker) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	positions, err := a.tradeClient.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	out := make([]models.BrokerPosition, 0, len(positions))
	for _, p := range positions {
		bp := models.BrokerPosition{Symbol: p.Symbol}
		bp.Quantity, _ = p.Qty.Float64()
		bp.AveragePrice, _ = p.AvgEntryPrice.Float64()
		if p.CurrentPrice != nil {
			bp.LastPrice, _ = p.CurrentPrice.Float64()
		}
		if bp.Quantity == 0 {
			continue
		}
		out = append(out, bp)
	}
	return out, nil
}

// Account fetches cash and equity.
func (a *AlpacaBroker) Account(ctx context.Context) (*models.Account, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	acct, err := a.tradeClient.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	out := &models.Account{Currency: acct.Currency}
	out.Cash, _ = acct.Cash.Float64()
	out.Equity, _ = acct.Equity.Float64()
	out.BuyingPower, _ = acct.BuyingPower.Float64()
	return out, nil
}
