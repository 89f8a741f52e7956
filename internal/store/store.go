// Package store provides the trade ledger persistence.
package store

import (
	"context"
	"time"

	"fundx/internal/models"
)

// Ledger defines the append-mostly trade ledger with full-text search.
type Ledger interface {
	Insert(ctx context.Context, entry *models.TradeEntry) (int64, error)
	Update(ctx context.Context, entry *models.TradeEntry) error
	CloseTrade(ctx context.Context, id int64, close models.TradeClose) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*models.TradeEntry, error)
	Query(ctx context.Context, filter TradeFilter) ([]models.TradeEntry, error)
	Count(ctx context.Context, filter TradeFilter) (int, error)
	Summarize(ctx context.Context, fundID string, r DateRange) (*Summary, error)
	RebuildIndex(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying the ledger. Zero values are ignored.
type TradeFilter struct {
	FundID    string
	Symbol    string
	SessionID string
	Side      models.OrderSide
	StartDate time.Time
	EndDate   time.Time
	// Text is a full-text MATCH expression over reasoning, market context and lessons.
	Text  string
	Limit int
}

// DateRange represents a half-open range [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Summary aggregates ledger activity for a fund over a period.
type Summary struct {
	Trades      int
	Buys        int
	Sells       int
	Closed      int
	Wins        int
	Losses      int
	BuyValue    float64
	SellValue   float64
	RealizedPnL float64
}

// WinRate is the share of closed trades with positive realized P&L, in percent.
func (s *Summary) WinRate() float64 {
	if s.Closed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Closed) * 100
}
