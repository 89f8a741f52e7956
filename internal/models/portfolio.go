package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Position is a single holding inside a fund's portfolio.
type Position struct {
	Symbol           string    `json:"symbol"`
	Shares           float64   `json:"shares"`
	AvgCost          float64   `json:"avg_cost"`
	CurrentPrice     float64   `json:"current_price"`
	MarketValue      float64   `json:"market_value"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
	WeightPct        float64   `json:"weight_pct"`
	StopLoss         float64   `json:"stop_loss,omitempty"`
	EntryDate        time.Time `json:"entry_date,omitempty"`
	EntryReason      string    `json:"entry_reason,omitempty"`
}

// HasStop reports whether the position is guarded by a stop-loss.
func (p Position) HasStop() bool {
	return p.StopLoss > 0 && p.Shares > 0
}

// Portfolio is the persisted financial state of one fund.
type Portfolio struct {
	LastUpdated time.Time  `json:"last_updated"`
	Cash        float64    `json:"cash"`
	TotalValue  float64    `json:"total_value"`
	Positions   []Position `json:"positions"`
}

// NewPortfolio returns the portfolio a fund starts with.
func NewPortfolio(initialCapital float64, now time.Time) *Portfolio {
	return &Portfolio{
		LastUpdated: now,
		Cash:        initialCapital,
		TotalValue:  initialCapital,
		Positions:   []Position{},
	}
}

// Recalculate derives market values, P&L, weights and the total from shares,
// prices and cash, and sorts positions by symbol.
func (p *Portfolio) Recalculate() {
	sort.Slice(p.Positions, func(i, j int) bool {
		return p.Positions[i].Symbol < p.Positions[j].Symbol
	})

	total := p.Cash
	for i := range p.Positions {
		pos := &p.Positions[i]
		pos.MarketValue = pos.Shares * pos.CurrentPrice
		cost := pos.Shares * pos.AvgCost
		pos.UnrealizedPnL = pos.MarketValue - cost
		pos.UnrealizedPnLPct = 0
		if cost > 0 {
			pos.UnrealizedPnLPct = pos.UnrealizedPnL / cost * 100
		}
		total += pos.MarketValue
	}
	p.TotalValue = total

	for i := range p.Positions {
		p.Positions[i].WeightPct = 0
		if total > 0 {
			p.Positions[i].WeightPct = p.Positions[i].MarketValue / total * 100
		}
	}
}

// Find returns the position for symbol, if any.
func (p *Portfolio) Find(symbol string) (*Position, bool) {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			return &p.Positions[i], true
		}
	}
	return nil, false
}

// Remove drops every position whose symbol is in symbols.
func (p *Portfolio) Remove(symbols map[string]bool) {
	kept := p.Positions[:0]
	for _, pos := range p.Positions {
		if !symbols[pos.Symbol] {
			kept = append(kept, pos)
		}
	}
	p.Positions = kept
}

// Symbols returns the held symbols in portfolio order.
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Positions))
	for _, pos := range p.Positions {
		out = append(out, pos.Symbol)
	}
	return out
}

// Validate checks the portfolio invariants: one position per symbol and
// total_value == cash + sum of market values.
func (p *Portfolio) Validate() error {
	seen := make(map[string]bool, len(p.Positions))
	sum := p.Cash
	for _, pos := range p.Positions {
		if seen[pos.Symbol] {
			return fmt.Errorf("duplicate position for %s", pos.Symbol)
		}
		seen[pos.Symbol] = true
		sum += pos.MarketValue
	}
	if math.Abs(sum-p.TotalValue) > 1e-6*math.Max(1, math.Abs(sum)) {
		return fmt.Errorf("total_value %.4f != cash + market value %.4f", p.TotalValue, sum)
	}
	return nil
}
