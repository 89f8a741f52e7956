// Package models provides domain models for the fund management daemon.
package models

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket   OrderType = "market"
	OrderTypeLimit    OrderType = "limit"
	OrderTypeStopLoss OrderType = "stop_loss"
)

// AssetClass represents a tradable asset class.
type AssetClass string

const (
	AssetStocks  AssetClass = "stocks"
	AssetCrypto  AssetClass = "crypto"
	AssetOptions AssetClass = "options"
)
