package models

import "time"

// OrderResult is what a broker reports back after accepting an order.
type OrderResult struct {
	OrderID     string
	Symbol      string
	Side        OrderSide
	Quantity    float64
	FilledPrice float64 // 0 when the broker has not reported a fill yet
	Status      string
	PlacedAt    time.Time
}

// BrokerPosition is a position as reported by a broker.
type BrokerPosition struct {
	Symbol       string
	Quantity     float64
	AveragePrice float64
	LastPrice    float64
}

// Account is the broker-side cash and equity snapshot.
type Account struct {
	Cash        float64
	Equity      float64
	BuyingPower float64
	Currency    string
}
