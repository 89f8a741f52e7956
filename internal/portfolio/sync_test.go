package portfolio

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fundx/internal/broker"
	"fundx/internal/config"
	"fundx/internal/models"
	"fundx/internal/state"
)

var testNow = time.Date(2026, 2, 20, 16, 15, 0, 0, time.UTC)

type staticResolver struct {
	adapter broker.Adapter
}

func (s staticResolver) For(*models.Fund) (broker.Adapter, error) { return s.adapter, nil }

// liveBroker is a paper broker that claims live trading.
type liveBroker struct {
	*broker.PaperBroker
}

func (l liveBroker) Capabilities() broker.Capabilities {
	c := l.PaperBroker.Capabilities()
	c.LiveTrading = true
	return c
}

func seed(t *testing.T, fund *models.Fund, cash float64, positions []models.Position) *state.Store {
	t.Helper()
	docs := state.New(t.TempDir())
	ctx := context.Background()
	if err := docs.InitFund(ctx, fund, testNow.Add(-time.Hour)); err != nil {
		t.Fatalf("InitFund: %v", err)
	}
	p := models.NewPortfolio(cash, testNow.Add(-time.Hour))
	p.Positions = positions
	p.Recalculate()
	if err := docs.SavePortfolio(ctx, fund.ID(), p); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}
	return docs
}

func TestSync_PaperMarksToMarket(t *testing.T) {
	fund := config.DefaultFund("growth", "Growth", 10000)
	docs := seed(t, fund, 5000, []models.Position{
		{Symbol: "AAPL", Shares: 10, AvgCost: 100, CurrentPrice: 100, StopLoss: 90},
		{Symbol: "MSFT", Shares: 5, AvgCost: 300, CurrentPrice: 300},
	})

	prices := broker.StaticPrices{"AAPL": 120}
	s := NewSyncer(docs, staticResolver{broker.NewPaperBroker(broker.PaperBrokerConfig{Prices: prices})}, zerolog.Nop())
	s.Now = func() time.Time { return testNow }

	p, err := s.Sync(context.Background(), fund)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	aapl, _ := p.Find("AAPL")
	msft, _ := p.Find("MSFT")
	if aapl.CurrentPrice != 120 || aapl.StopLoss != 90 {
		t.Errorf("AAPL = %+v", aapl)
	}
	if msft.CurrentPrice != 300 {
		t.Errorf("MSFT without a quote changed price: %+v", msft)
	}
	if p.TotalValue != 5000+1200+1500 {
		t.Errorf("TotalValue = %v", p.TotalValue)
	}

	tracker, err := docs.LoadObjective(context.Background(), "growth")
	if err != nil {
		t.Fatal(err)
	}
	if tracker.CurrentValue != p.TotalValue || !tracker.UpdatedAt.Equal(testNow) {
		t.Errorf("tracker = %+v", tracker)
	}
}

func TestSync_LiveReconcilesFromBroker(t *testing.T) {
	fund := config.DefaultFund("growth", "Growth", 10000)
	fund.Broker.Mode = "live"
	entry := testNow.Add(-72 * time.Hour)
	docs := seed(t, fund, 1000, []models.Position{
		{Symbol: "AAPL", Shares: 10, AvgCost: 100, CurrentPrice: 100, StopLoss: 90, EntryDate: entry, EntryReason: "breakout"},
		{Symbol: "GONE", Shares: 1, AvgCost: 10, CurrentPrice: 10},
	})

	paper := broker.NewPaperBroker(broker.PaperBrokerConfig{
		Prices:         broker.StaticPrices{"AAPL": 110, "NVDA": 130},
		InitialBalance: 2500,
	})
	paper.Seed("AAPL", 12, 101)
	paper.Seed("NVDA", 4, 125)

	s := NewSyncer(docs, staticResolver{liveBroker{paper}}, zerolog.Nop())
	s.Now = func() time.Time { return testNow }

	p, err := s.Sync(context.Background(), fund)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if p.Cash != 2500 || len(p.Positions) != 2 {
		t.Fatalf("portfolio = %+v", p)
	}
	aapl, _ := p.Find("AAPL")
	if aapl.Shares != 12 || aapl.AvgCost != 101 || aapl.CurrentPrice != 110 {
		t.Errorf("AAPL = %+v", aapl)
	}
	if aapl.StopLoss != 90 || !aapl.EntryDate.Equal(entry) || aapl.EntryReason != "breakout" {
		t.Errorf("AAPL lost its metadata: %+v", aapl)
	}
	nvda, _ := p.Find("NVDA")
	if nvda.StopLoss != 0 || !nvda.EntryDate.Equal(testNow) {
		t.Errorf("NVDA = %+v", nvda)
	}
	if _, ok := p.Find("GONE"); ok {
		t.Error("GONE survived although the broker no longer holds it")
	}
}

func TestSync_Idempotent(t *testing.T) {
	for _, mode := range []string{"paper", "live"} {
		t.Run(mode, func(t *testing.T) {
			fund := config.DefaultFund("growth", "Growth", 10000)
			fund.Broker.Mode = mode
			docs := seed(t, fund, 1000, []models.Position{
				{Symbol: "AAPL", Shares: 10, AvgCost: 100, CurrentPrice: 100, StopLoss: 90},
			})

			paper := broker.NewPaperBroker(broker.PaperBrokerConfig{
				Prices:         broker.StaticPrices{"AAPL": 105},
				InitialBalance: 1000,
			})
			paper.Seed("AAPL", 10, 100)

			s := NewSyncer(docs, staticResolver{liveBroker{paper}}, zerolog.Nop())
			s.Now = func() time.Time { return testNow }
			ctx := context.Background()

			if _, err := s.Sync(ctx, fund); err != nil {
				t.Fatal(err)
			}
			once, _ := docs.LoadPortfolio(ctx, "growth")
			if _, err := s.Sync(ctx, fund); err != nil {
				t.Fatal(err)
			}
			twice, _ := docs.LoadPortfolio(ctx, "growth")

			if !reflect.DeepEqual(once, twice) {
				t.Errorf("second sync changed the portfolio:\nonce  %+v\ntwice %+v", once, twice)
			}
		})
	}
}
