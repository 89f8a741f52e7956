package state

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fundx/internal/config"
	apperrors "fundx/internal/errors"
	"fundx/internal/models"
)

var testNow = time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

func TestInitFundSeedsPortfolio(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	if err := s.InitFund(ctx, config.DefaultFund("growth", "Growth", 25000), testNow); err != nil {
		t.Fatalf("InitFund: %v", err)
	}

	p, err := s.LoadPortfolio(ctx, "growth")
	if err != nil {
		t.Fatalf("LoadPortfolio: %v", err)
	}
	if p.Cash != 25000 || p.TotalValue != 25000 || len(p.Positions) != 0 {
		t.Errorf("unexpected seed portfolio: %+v", p)
	}

	o, err := s.LoadObjective(ctx, "growth")
	if err != nil {
		t.Fatalf("LoadObjective: %v", err)
	}
	if o.InitialCapital != 25000 || o.ProgressPct != 0 {
		t.Errorf("unexpected tracker: %+v", o)
	}

	for _, dir := range []string{s.AnalysisDir("growth"), s.ReportsDir("growth", PeriodWeekly)} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("missing %s: %v", dir, err)
		}
	}

	if err := s.InitFund(ctx, config.DefaultFund("growth", "Growth", 1), testNow); err == nil {
		t.Error("second InitFund should fail")
	}
}

func TestListFundsIgnoresStrayDirs(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	for _, id := range []string{"beta", "alpha"} {
		if err := s.InitFund(ctx, config.DefaultFund(id, "", 1000), testNow); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(s.FundDir("scratch"), 0755); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ListFunds()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "alpha,beta" {
		t.Errorf("ListFunds = %v", ids)
	}
}

func TestListFundsEmptyHome(t *testing.T) {
	ids, err := New(t.TempDir()).ListFunds()
	if err != nil || len(ids) != 0 {
		t.Fatalf("ListFunds = %v, %v", ids, err)
	}
}

func TestLoadMissingFund(t *testing.T) {
	_, err := New(t.TempDir()).LoadPortfolio(context.Background(), "ghost")
	if !apperrors.Is(err, apperrors.ErrFundNotFound) {
		t.Fatalf("expected ErrFundNotFound, got %v", err)
	}
}

func TestSavePortfolioRejectsBrokenTotal(t *testing.T) {
	s := New(t.TempDir())
	p := models.NewPortfolio(1000, testNow)
	p.TotalValue = 999

	if err := s.SavePortfolio(context.Background(), "growth", p); err == nil {
		t.Fatal("expected invariant violation")
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/doc.json"

	for i := 0; i < 3; i++ {
		if err := WriteFileAtomic(path, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only doc.json, got %d entries", len(entries))
	}
	b, _ := os.ReadFile(path)
	if string(b) != "v2" {
		t.Errorf("content = %q", b)
	}
}

// Property: For any set of positions, a recalculated portfolio written
// through the store reads back with total_value == cash + sum(market_value)
// and one position per symbol.
func TestProperty_PortfolioTotalInvariant(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "MSFT", "NVDA", "GOOG", "AMZN", "TSLA"}

	properties.Property("total equals cash plus market value after save/load", prop.ForAll(
		func(cash float64, count int, shares, price float64) bool {
			p := models.NewPortfolio(cash, testNow)
			for i := 0; i < count; i++ {
				p.Positions = append(p.Positions, models.Position{
					Symbol:       symbols[(count+i)%len(symbols)],
					Shares:       shares + float64(i),
					AvgCost:      price * 0.9,
					CurrentPrice: price + float64(i),
				})
			}
			p.Recalculate()

			if err := s.SavePortfolio(ctx, "prop", p); err != nil {
				t.Logf("save: %v", err)
				return false
			}
			got, err := s.LoadPortfolio(ctx, "prop")
			if err != nil {
				t.Logf("load: %v", err)
				return false
			}
			if err := got.Validate(); err != nil {
				t.Logf("invariant: %v", err)
				return false
			}
			for i := 1; i < len(got.Positions); i++ {
				if got.Positions[i-1].Symbol >= got.Positions[i].Symbol {
					return false
				}
			}
			return len(got.Positions) == count
		},
		gen.Float64Range(0, 1e6),
		gen.IntRange(0, len(symbols)),
		gen.Float64Range(1, 500),
		gen.Float64Range(1, 1000),
	))

	properties.TestingRun(t)
}
