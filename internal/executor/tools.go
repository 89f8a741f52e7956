package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"fundx/internal/state"
	"fundx/internal/store"
)

// FundTools gives the model read access to a fund's portfolio and journal.
type FundTools struct {
	docs   *state.Store
	ledger store.Ledger
}

// NewFundTools creates the tool runner.
func NewFundTools(docs *state.Store, ledger store.Ledger) *FundTools {
	return &FundTools{docs: docs, ledger: ledger}
}

// Definitions returns the tool schemas.
func (t *FundTools) Definitions() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "get_portfolio",
				Description: "Return the fund's current cash, total value and positions with stop-loss levels.",
				Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "search_trades",
				Description: "Full-text search over the fund's trade journal (reasoning, market context, lessons).",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"query": {"type": "string", "description": "Search terms, e.g. 'earnings gap'"},
						"symbol": {"type": "string", "description": "Optional symbol filter"},
						"limit": {"type": "integer", "description": "Maximum rows (default 20)"}
					}
				}`),
			},
		},
	}
}

type searchArgs struct {
	Query  string `json:"query"`
	Symbol string `json:"symbol"`
	Limit  int    `json:"limit"`
}

// ExecuteTool runs one tool call for fundID.
func (t *FundTools) ExecuteTool(ctx context.Context, fundID, name string, args json.RawMessage) (string, error) {
	switch name {
	case "get_portfolio":
		p, err := t.docs.LoadPortfolio(ctx, fundID)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(p)
		if err != nil {
			return "", err
		}
		return string(b), nil

	case "search_trades":
		var a searchArgs
		if len(args) > 0 {
			if err := json.Unmarshal(args, &a); err != nil {
				return "", fmt.Errorf("bad arguments: %w", err)
			}
		}
		if a.Limit <= 0 || a.Limit > 100 {
			a.Limit = 20
		}
		trades, err := t.ledger.Query(ctx, store.TradeFilter{
			FundID: fundID,
			Symbol: strings.ToUpper(a.Symbol),
			Text:   a.Query,
			Limit:  a.Limit,
		})
		if err != nil {
			return "", err
		}
		if len(trades) == 0 {
			return "no matching trades", nil
		}
		var b strings.Builder
		for _, tr := range trades {
			fmt.Fprintf(&b, "%s %s %s %.4g @ %.2f", tr.Timestamp.Format("2006-01-02"), tr.Side, tr.Symbol, tr.Quantity, tr.Price)
			if tr.RealizedPnL != nil {
				fmt.Fprintf(&b, " pnl %.2f", *tr.RealizedPnL)
			}
			if tr.Reasoning != "" {
				fmt.Fprintf(&b, " | %s", tr.Reasoning)
			}
			if tr.Lessons != "" {
				fmt.Fprintf(&b, " | lessons: %s", tr.Lessons)
			}
			b.WriteByte('\n')
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("unknown tool %q", name)
}
