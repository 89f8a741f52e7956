package stoploss

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"fundx/internal/broker"
	"fundx/internal/config"
	apperrors "fundx/internal/errors"
	"fundx/internal/models"
	"fundx/internal/state"
	"fundx/internal/store"
)

var testNow = time.Date(2026, 2, 20, 10, 5, 0, 0, time.UTC)

// countingPrices records how often prices are requested.
type countingPrices struct {
	prices broker.StaticPrices
	calls  atomic.Int32
}

func (c *countingPrices) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	c.calls.Add(1)
	return c.prices.LatestPrices(ctx, symbols)
}

// failingSells rejects sells for the listed symbols.
type failingSells struct {
	broker.Adapter
	reject map[string]bool
}

func (f *failingSells) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*models.OrderResult, error) {
	if f.reject[symbol] {
		return nil, errors.New("order rejected")
	}
	return f.Adapter.PlaceMarketSell(ctx, symbol, qty)
}

type staticResolver struct {
	adapter broker.Adapter
}

func (s staticResolver) For(*models.Fund) (broker.Adapter, error) { return s.adapter, nil }

type fixture struct {
	docs   *state.Store
	ledger *store.SQLiteStore
	fund   *models.Fund
	prices *countingPrices
}

func newFixture(t *testing.T, cash float64, positions []models.Position, prices map[string]float64) *fixture {
	t.Helper()
	home := t.TempDir()
	docs := state.New(home)
	fund := config.DefaultFund("growth", "Growth", 10000)
	ctx := context.Background()
	if err := docs.InitFund(ctx, fund, testNow); err != nil {
		t.Fatalf("InitFund: %v", err)
	}

	p := models.NewPortfolio(cash, testNow)
	p.Positions = positions
	p.Recalculate()
	if err := docs.SavePortfolio(ctx, "growth", p); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}

	ledger, err := store.NewSQLiteStore(filepath.Join(home, "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	return &fixture{docs: docs, ledger: ledger, fund: fund, prices: &countingPrices{prices: prices}}
}

func (f *fixture) guard(adapter broker.Adapter) *Guard {
	if adapter == nil {
		adapter = broker.NewPaperBroker(broker.PaperBrokerConfig{Prices: f.prices})
	}
	g := New(f.docs, f.ledger, staticResolver{adapter}, zerolog.Nop())
	g.Now = func() time.Time { return testNow }
	return g
}

func TestCheck_NoStopsNoPriceCall(t *testing.T) {
	f := newFixture(t, 1000, []models.Position{
		{Symbol: "AAPL", Shares: 10, AvgCost: 110, CurrentPrice: 100},
	}, map[string]float64{"AAPL": 50})

	events, err := f.guard(nil).Check(context.Background(), f.fund)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if n := f.prices.calls.Load(); n != 0 {
		t.Errorf("price source called %d times, want 0", n)
	}
}

func TestStopLoss_SellsBreachedPosition(t *testing.T) {
	f := newFixture(t, 1000, []models.Position{
		{Symbol: "AAPL", Shares: 10, AvgCost: 110, CurrentPrice: 100, StopLoss: 100},
	}, map[string]float64{"AAPL": 95})
	g := f.guard(nil)
	ctx := context.Background()

	events, err := g.Check(ctx, f.fund)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Symbol != "AAPL" || ev.CurrentPrice != 95 || ev.StopPrice != 100 {
		t.Errorf("event = %+v", ev)
	}
	if want := (95.0 - 110) * 10; ev.Loss != want {
		t.Errorf("Loss = %v, want %v", ev.Loss, want)
	}

	if err := g.Execute(ctx, f.fund, events); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	p, err := f.docs.LoadPortfolio(ctx, "growth")
	if err != nil {
		t.Fatal(err)
	}
	if p.Cash != 1950 || len(p.Positions) != 0 || p.TotalValue != 1950 {
		t.Errorf("portfolio = %+v, want cash 1950 and no positions", p)
	}

	trades, err := f.ledger.Query(ctx, store.TradeFilter{FundID: "growth"})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("ledger has %d trades, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Side != models.OrderSideSell || tr.OrderType != models.OrderTypeStopLoss || !tr.IsClosed() {
		t.Errorf("ledger entry = %+v", tr)
	}
	if tr.RealizedPnL == nil || *tr.RealizedPnL != -150 {
		t.Errorf("RealizedPnL = %v, want -150", tr.RealizedPnL)
	}
}

func TestCheck_MissingPriceSkipsSymbol(t *testing.T) {
	f := newFixture(t, 0, []models.Position{
		{Symbol: "AAPL", Shares: 1, AvgCost: 100, CurrentPrice: 100, StopLoss: 90},
		{Symbol: "MSFT", Shares: 1, AvgCost: 100, CurrentPrice: 100, StopLoss: 90},
	}, map[string]float64{"MSFT": 80})

	events, err := f.guard(nil).Check(context.Background(), f.fund)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Symbol != "MSFT" {
		t.Errorf("events = %+v, want only MSFT", events)
	}
	if n := f.prices.calls.Load(); n != 1 {
		t.Errorf("price calls = %d, want one batched call", n)
	}
}

func TestExecute_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t, 0, []models.Position{
		{Symbol: "AAPL", Shares: 2, AvgCost: 100, CurrentPrice: 80, StopLoss: 90},
		{Symbol: "MSFT", Shares: 3, AvgCost: 100, CurrentPrice: 80, StopLoss: 90},
	}, map[string]float64{"AAPL": 80, "MSFT": 80})

	paper := broker.NewPaperBroker(broker.PaperBrokerConfig{Prices: f.prices})
	g := f.guard(&failingSells{Adapter: paper, reject: map[string]bool{"AAPL": true}})
	ctx := context.Background()

	events, err := g.Check(ctx, f.fund)
	if err != nil || len(events) != 2 {
		t.Fatalf("Check() = %d events, %v", len(events), err)
	}

	err = g.Execute(ctx, f.fund, events)
	if err == nil {
		t.Fatal("Execute() error = nil, want the AAPL failure")
	}

	p, _ := f.docs.LoadPortfolio(ctx, "growth")
	if _, ok := p.Find("AAPL"); !ok {
		t.Error("AAPL removed although its sell failed")
	}
	if _, ok := p.Find("MSFT"); ok {
		t.Error("MSFT kept although it was sold")
	}
	if p.Cash != 240 {
		t.Errorf("Cash = %v, want 240", p.Cash)
	}
}

func TestExecute_NoPriceAtSell(t *testing.T) {
	f := newFixture(t, 0, []models.Position{
		{Symbol: "AAPL", Shares: 2, AvgCost: 100, CurrentPrice: 80, StopLoss: 90},
	}, map[string]float64{})

	// Sell at a broker that lost its quote between check and execute
	events := []models.BreachEvent{{Symbol: "AAPL", Shares: 2, StopPrice: 90, CurrentPrice: 85, AvgCost: 100}}
	err := f.guard(nil).Execute(context.Background(), f.fund, events)
	if !errors.Is(err, apperrors.ErrNoPrice) {
		t.Fatalf("Execute() error = %v, want ErrNoPrice", err)
	}
}

// Property: After Execute with proceeds R, cash' == cash + R and no sold
// position remains.
func TestProperty_ExecuteCreditsProceeds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("cash grows by fill times shares", prop.ForAll(
		func(cash, shares, stop, drop float64) bool {
			price := stop - drop
			f := newFixture(t, cash, []models.Position{
				{Symbol: "NVDA", Shares: shares, AvgCost: stop * 1.1, CurrentPrice: stop, StopLoss: stop},
				{Symbol: "SAFE", Shares: 1, AvgCost: 10, CurrentPrice: 10},
			}, map[string]float64{"NVDA": price, "SAFE": 10})
			g := f.guard(nil)
			ctx := context.Background()

			if err := g.Run(ctx, f.fund); err != nil {
				t.Logf("run: %v", err)
				return false
			}
			p, err := f.docs.LoadPortfolio(ctx, "growth")
			if err != nil {
				return false
			}
			if _, ok := p.Find("NVDA"); ok {
				return false
			}
			if _, ok := p.Find("SAFE"); !ok {
				return false
			}
			want := cash + price*shares
			return math.Abs(p.Cash-want) < 1e-6*math.Max(1, want) && p.Validate() == nil
		},
		gen.Float64Range(0, 100000),
		gen.Float64Range(1, 500),
		gen.Float64Range(10, 1000),
		gen.Float64Range(0, 5),
	))

	properties.TestingRun(t)
}

// slowSells fills each sell after delay and counts the fills.
type slowSells struct {
	broker.Adapter
	delay time.Duration
	fills atomic.Int32
}

func (s *slowSells) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*models.OrderResult, error) {
	time.Sleep(s.delay)
	s.fills.Add(1)
	return s.Adapter.PlaceMarketSell(ctx, symbol, qty)
}

func TestExecute_LateFillIsBookedOnce(t *testing.T) {
	f := newFixture(t, 1000, []models.Position{
		{Symbol: "AAPL", Shares: 10, AvgCost: 110, CurrentPrice: 100, StopLoss: 100},
	}, map[string]float64{"AAPL": 95})

	paper := broker.NewPaperBroker(broker.PaperBrokerConfig{Prices: f.prices})
	slow := &slowSells{Adapter: paper, delay: 200 * time.Millisecond}
	g := f.guard(broker.NewGuarded(slow, broker.DefaultCircuitBreakerConfig(), zerolog.Nop()))

	events, err := g.Check(context.Background(), f.fund)
	if err != nil || len(events) != 1 {
		t.Fatalf("Check() = %d events, %v", len(events), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Execute(ctx, f.fund, events); err != nil {
		t.Fatalf("Execute() error = %v, want the late fill booked", err)
	}

	// The next run must see the position gone and sell nothing
	if err := g.Run(context.Background(), f.fund); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := slow.fills.Load(); got != 1 {
		t.Errorf("fills = %d, want 1", got)
	}

	p, err := f.docs.LoadPortfolio(context.Background(), "growth")
	if err != nil {
		t.Fatal(err)
	}
	if p.Cash != 1950 || len(p.Positions) != 0 {
		t.Errorf("portfolio = %+v, want cash 1950 and no positions", p)
	}
	trades, err := f.ledger.Query(context.Background(), store.TradeFilter{FundID: "growth"})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Errorf("ledger has %d trades, want 1", len(trades))
	}
}

func TestExecute_KeepsWritesMadeAfterCheck(t *testing.T) {
	f := newFixture(t, 1000, []models.Position{
		{Symbol: "AAPL", Shares: 10, AvgCost: 110, CurrentPrice: 100, StopLoss: 100},
	}, map[string]float64{"AAPL": 95})
	g := f.guard(nil)
	ctx := context.Background()

	events, err := g.Check(ctx, f.fund)
	if err != nil || len(events) != 1 {
		t.Fatalf("Check() = %d events, %v", len(events), err)
	}

	// A session deposits cash and opens a position between Check and Execute
	p, err := f.docs.LoadPortfolio(ctx, "growth")
	if err != nil {
		t.Fatal(err)
	}
	p.Cash += 500
	p.Positions = append(p.Positions, models.Position{Symbol: "MSFT", Shares: 2, AvgCost: 300, CurrentPrice: 300})
	p.Recalculate()
	if err := f.docs.SavePortfolio(ctx, "growth", p); err != nil {
		t.Fatal(err)
	}

	if err := g.Execute(ctx, f.fund, events); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got, err := f.docs.LoadPortfolio(ctx, "growth")
	if err != nil {
		t.Fatal(err)
	}
	if got.Cash != 2450 {
		t.Errorf("Cash = %v, want 2450", got.Cash)
	}
	if _, ok := got.Find("AAPL"); ok {
		t.Error("AAPL kept although it was sold")
	}
	if msft, ok := got.Find("MSFT"); !ok || msft.Shares != 2 {
		t.Errorf("MSFT = %+v, %v, want the position opened after Check", msft, ok)
	}
}
