package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fundx/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func searchIDs(t *testing.T, s *SQLiteStore, fundID, text string) []int64 {
	t.Helper()
	trades, err := s.Query(context.Background(), TradeFilter{FundID: fundID, Text: text})
	if err != nil {
		t.Fatalf("Query(%q): %v", text, err)
	}
	ids := make([]int64, 0, len(trades))
	for _, tr := range trades {
		ids = append(ids, tr.ID)
	}
	return ids
}

func TestFullTextIndexFollowsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 20, 14, 0, 0, 0, time.UTC)

	buy := &models.TradeEntry{
		Timestamp: base, FundID: "growth", Symbol: "AAPL", Side: models.OrderSideBuy,
		Quantity: 10, Price: 180, Reasoning: "breakout above resistance",
	}
	if _, err := s.Insert(ctx, buy); err != nil {
		t.Fatal(err)
	}
	if buy.TotalValue != 1800 {
		t.Errorf("total value = %v, want 1800", buy.TotalValue)
	}

	if ids := searchIDs(t, s, "growth", "breakout"); len(ids) != 1 || ids[0] != buy.ID {
		t.Fatalf("search after insert = %v", ids)
	}

	if err := s.CloseTrade(ctx, buy.ID, models.TradeClose{
		ClosedAt: base.Add(48 * time.Hour), ClosePrice: 170, RealizedPnL: -100, PnLPercent: -5.56,
		Lessons: "respect the gap fill",
	}); err != nil {
		t.Fatal(err)
	}
	if ids := searchIDs(t, s, "growth", "gap"); len(ids) != 1 {
		t.Fatalf("search lessons after close = %v", ids)
	}

	buy.Reasoning = "momentum continuation"
	got, _ := s.Get(ctx, buy.ID)
	buy.ClosedAt, buy.ClosePrice, buy.RealizedPnL, buy.PnLPercent, buy.Lessons =
		got.ClosedAt, got.ClosePrice, got.RealizedPnL, got.PnLPercent, got.Lessons
	if err := s.Update(ctx, buy); err != nil {
		t.Fatal(err)
	}
	if ids := searchIDs(t, s, "growth", "breakout"); len(ids) != 0 {
		t.Errorf("stale index row after update: %v", ids)
	}
	if ids := searchIDs(t, s, "growth", "momentum"); len(ids) != 1 {
		t.Errorf("search after update = %v", ids)
	}

	if err := s.Delete(ctx, buy.ID); err != nil {
		t.Fatal(err)
	}
	if ids := searchIDs(t, s, "growth", "momentum"); len(ids) != 0 {
		t.Errorf("index row survived delete: %v", ids)
	}
}

func TestRebuildIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &models.TradeEntry{Timestamp: time.Now(), FundID: "f", Symbol: "MSFT", Side: models.OrderSideBuy,
		Quantity: 1, Price: 400, MarketContext: "risk-off tape"}
	id, err := s.Insert(ctx, e)
	if err != nil {
		t.Fatal(err)
	}

	// Drop the index content behind the triggers' back, then rebuild
	if _, err := s.db.Exec("DELETE FROM trades_fts WHERE docid = ?", id); err != nil {
		t.Fatal(err)
	}
	if ids := searchIDs(t, s, "f", "tape"); len(ids) != 0 {
		t.Fatalf("expected empty index, got %v", ids)
	}
	if err := s.RebuildIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if ids := searchIDs(t, s, "f", "tape"); len(ids) != 1 {
		t.Errorf("search after rebuild = %v", ids)
	}
}

func TestQueryRangeAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	pnl := 50.0
	closed := day.Add(15 * time.Hour)
	entries := []models.TradeEntry{
		{Timestamp: day.Add(-time.Hour), FundID: "f", Symbol: "A", Side: models.OrderSideBuy, Quantity: 1, Price: 10},
		{Timestamp: day.Add(10 * time.Hour), FundID: "f", Symbol: "B", Side: models.OrderSideBuy, Quantity: 2, Price: 10, SessionID: "run-1"},
		{Timestamp: day.Add(11 * time.Hour), FundID: "f", Symbol: "B", Side: models.OrderSideSell, Quantity: 2, Price: 35,
			SessionID: "run-1", ClosedAt: &closed, RealizedPnL: &pnl},
		{Timestamp: day.Add(12 * time.Hour), FundID: "other", Symbol: "C", Side: models.OrderSideBuy, Quantity: 1, Price: 10},
	}
	for i := range entries {
		if _, err := s.Insert(ctx, &entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Count(ctx, TradeFilter{FundID: "f", SessionID: "run-1"})
	if err != nil || n != 2 {
		t.Fatalf("session count = %d, %v", n, err)
	}

	trades, err := s.Query(ctx, TradeFilter{FundID: "f", StartDate: day, EndDate: day.Add(24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 || trades[0].Side != models.OrderSideSell {
		t.Fatalf("range query = %+v", trades)
	}
	if !trades[0].IsClosed() || *trades[0].RealizedPnL != 50 {
		t.Errorf("close fields lost: %+v", trades[0])
	}

	sum, err := s.Summarize(ctx, "f", DateRange{Start: day, End: day.Add(24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Trades != 2 || sum.Buys != 1 || sum.Sells != 1 || sum.Wins != 1 || sum.RealizedPnL != 50 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.WinRate() != 100 {
		t.Errorf("win rate = %v", sum.WinRate())
	}
}

func TestInsertRequiresFund(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Insert(context.Background(), &models.TradeEntry{Symbol: "X"}); err == nil {
		t.Fatal("expected validation error")
	}
}

// Property: For any trade written to the ledger, reading it back by id
// returns the same fields and a search for its reasoning token finds it.
func TestProperty_LedgerRoundTripAndSearch(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "MSFT", "NVDA", "RELIANCE", "TCS", "BTCUSD"}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("insert then get returns equal entry and is searchable", prop.ForAll(
		func(symbolIdx int, qty, price float64, minutes int, sell bool) bool {
			ctx := context.Background()
			side := models.OrderSideBuy
			if sell {
				side = models.OrderSideSell
			}
			token := fmt.Sprintf("tok%d", time.Now().UnixNano())
			e := &models.TradeEntry{
				Timestamp: base.Add(time.Duration(minutes) * time.Minute),
				FundID:    "prop",
				Symbol:    symbols[symbolIdx],
				Side:      side,
				Quantity:  qty,
				Price:     price,
				Reasoning: "setup " + token,
			}
			id, err := s.Insert(ctx, e)
			if err != nil {
				t.Logf("insert: %v", err)
				return false
			}

			got, err := s.Get(ctx, id)
			if err != nil {
				t.Logf("get: %v", err)
				return false
			}
			if !got.Timestamp.Equal(e.Timestamp) || got.Symbol != e.Symbol || got.Side != e.Side ||
				got.Quantity != e.Quantity || got.Price != e.Price || got.TotalValue != e.TotalValue {
				t.Logf("mismatch: %+v vs %+v", got, e)
				return false
			}

			ids := searchIDs(t, s, "prop", token)
			return len(ids) == 1 && ids[0] == id
		},
		gen.IntRange(0, len(symbols)-1),
		gen.Float64Range(0.01, 1000),
		gen.Float64Range(0.01, 10000),
		gen.IntRange(0, 500000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
