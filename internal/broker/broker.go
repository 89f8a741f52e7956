// Package broker provides broker adapter interfaces and implementations.
package broker

import (
	"context"

	"fundx/internal/models"
)

// Adapter is the capability-typed view of a broker used by the daemon.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	// Market data. Symbols without a price are absent from the result.
	LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error)

	// Orders
	PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*models.OrderResult, error)

	// Positions & account
	Positions(ctx context.Context) ([]models.BrokerPosition, error)
	Account(ctx context.Context) (*models.Account, error)
}

// PriceSource supplies latest prices without trading.
type PriceSource interface {
	LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Capabilities describes what an adapter can do.
type Capabilities struct {
	Stocks      bool
	Crypto      bool
	Options     bool
	LiveTrading bool
}

// Supports reports whether the asset class is tradable through the adapter.
func (c Capabilities) Supports(ac models.AssetClass) bool {
	switch ac {
	case models.AssetStocks:
		return c.Stocks
	case models.AssetCrypto:
		return c.Crypto
	case models.AssetOptions:
		return c.Options
	}
	return false
}

// StaticPrices is a fixed price table, used when no market data feed is configured.
type StaticPrices map[string]float64

// LatestPrices returns the known prices for symbols.
func (s StaticPrices) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if p, ok := s[sym]; ok && p > 0 {
			out[sym] = p
		}
	}
	return out, nil
}
