package models

import "time"

// TradeEntry is one row of the append-only trade ledger.
// The close fields stay nil until the trade is closed.
type TradeEntry struct {
	ID            int64
	Timestamp     time.Time
	FundID        string
	Symbol        string
	Side          OrderSide
	Quantity      float64
	Price         float64
	TotalValue    float64
	OrderType     OrderType
	SessionID     string
	Reasoning     string
	MarketContext string

	ClosedAt    *time.Time
	ClosePrice  *float64
	RealizedPnL *float64
	PnLPercent  *float64
	Lessons     string
}

// IsClosed reports whether the entry carries close fields.
func (t *TradeEntry) IsClosed() bool {
	return t.ClosedAt != nil
}

// TradeClose holds the fields written when an open entry is closed.
type TradeClose struct {
	ClosedAt    time.Time
	ClosePrice  float64
	RealizedPnL float64
	PnLPercent  float64
	Lessons     string
}
