package cli

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: Currency formatting groups digits per currency and preserves
// the value to two decimals.
func TestProperty_CurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	indianPattern := regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)
	westernPattern := regexp.MustCompile(`^\d{1,3}(,\d{3})*$`)

	properties.Property("INR uses Indian grouping", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCurrency(amount, "INR")
			prefix := "₹"
			if amount < 0 && math.Round(amount*100) != 0 {
				prefix = "-₹"
			}
			if !strings.HasPrefix(formatted, prefix) {
				t.Logf("Expected %s prefix for %f, got %s", prefix, amount, formatted)
				return false
			}
			num := strings.TrimPrefix(strings.TrimPrefix(formatted, "-"), "₹")
			intPart, decPart, ok := strings.Cut(num, ".")
			if !ok || len(decPart) != 2 {
				return false
			}
			return indianPattern.MatchString(intPart)
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("USD uses thousands grouping", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCurrency(amount, "USD")
			num := strings.TrimPrefix(strings.TrimPrefix(formatted, "-"), "$")
			intPart, decPart, ok := strings.Cut(num, ".")
			if !ok || len(decPart) != 2 {
				t.Logf("Expected 2 decimals for %f, got %s", amount, formatted)
				return false
			}
			return westernPattern.MatchString(intPart)
		},
		gen.Float64Range(0, 1e12),
	))

	properties.Property("formatting preserves value", prop.ForAll(
		func(amount float64, inr bool) bool {
			currency := "USD"
			if inr {
				currency = "INR"
			}
			parsed := parseCurrency(FormatCurrency(amount, currency))
			return math.Abs(parsed-math.Round(amount*100)/100) <= 0.01
		},
		gen.Float64Range(-1e9, 1e9),
		gen.Bool(),
	))

	properties.Property("FormatPercent produces correct format", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			if value > 0 && !strings.HasPrefix(formatted, "+") {
				t.Logf("Expected + prefix for positive %f, got %s", value, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}

// parseCurrency parses a formatted amount back to float64.
func parseCurrency(s string) float64 {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimLeft(s, "$₹€£")
	s = strings.ReplaceAll(s, ",", "")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}

	var parsed float64
	for i, c := range s {
		if c == '.' {
			for j, d := range s[i+1:] {
				if d >= '0' && d <= '9' {
					parsed += float64(d-'0') / math.Pow(10, float64(j+1))
				}
			}
			break
		}
		if c >= '0' && c <= '9' {
			parsed = parsed*10 + float64(c-'0')
		}
	}
	if negative {
		parsed = -parsed
	}
	return parsed
}

func TestFormatCurrencyExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		currency string
		expected string
	}{
		{0, "INR", "₹0.00"},
		{1000, "INR", "₹1,000.00"},
		{100000, "INR", "₹1,00,000.00"},
		{10000000, "INR", "₹1,00,00,000.00"},
		{-1234.56, "INR", "-₹1,234.56"},
		{12345678.90, "INR", "₹1,23,45,678.90"},
		{0, "USD", "$0.00"},
		{999.5, "USD", "$999.50"},
		{1000, "USD", "$1,000.00"},
		{1234567.891, "USD", "$1,234,567.89"},
		{-25000, "usd", "-$25,000.00"},
		{1500, "CHF", "1,500.00 CHF"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatCurrency(tc.amount, tc.currency)
			if result != tc.expected {
				t.Errorf("FormatCurrency(%f, %s) = %s, want %s", tc.amount, tc.currency, result, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if result := FormatPercent(tc.value); result != tc.expected {
				t.Errorf("FormatPercent(%f) = %s, want %s", tc.value, result, tc.expected)
			}
		})
	}
}

func TestFormatQuantity(t *testing.T) {
	for qty, want := range map[float64]string{10: "10", 0.5: "0.5", 1.25: "1.25", 0.000001: "0.000001"} {
		if got := FormatQuantity(qty); got != want {
			t.Errorf("FormatQuantity(%v) = %s, want %s", qty, got, want)
		}
	}
}
