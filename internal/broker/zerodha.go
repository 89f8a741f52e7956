package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/time/rate"

	apperrors "fundx/internal/errors"
	"fundx/internal/models"
)

// ZerodhaBroker implements Adapter for Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	exchange      string
	tokenPath     string
	authenticated bool
	limiter       *rate.Limiter
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for the Zerodha broker.
type ZerodhaConfig struct {
	APIKey      string
	AccessToken string
	Exchange    string
	// TokenPath is a session file written by an external login flow, used
	// when AccessToken is empty.
	TokenPath string
}

// sessionData represents a persisted Kite session.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewZerodhaBroker creates a new Zerodha broker instance.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "NSE"
	}

	zb := &ZerodhaBroker{
		client:    kiteconnect.New(cfg.APIKey),
		exchange:  exchange,
		tokenPath: cfg.TokenPath,
		// Kite allows 10 requests per second on most endpoints
		limiter: rate.NewLimiter(rate.Limit(8), 4),
	}

	if cfg.AccessToken != "" {
		zb.client.SetAccessToken(cfg.AccessToken)
		zb.authenticated = true
	} else if cfg.TokenPath != "" {
		_ = zb.loadSession()
	}

	return zb
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day
	if time.Now().After(session.ExpiresAt) {
		return fmt.Errorf("session expired")
	}

	z.mu.Lock()
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return nil
}

// Name returns "zerodha".
func (z *ZerodhaBroker) Name() string { return "zerodha" }

// Capabilities reports stocks and options with live trading.
func (z *ZerodhaBroker) Capabilities() Capabilities {
	return Capabilities{Stocks: true, Options: true, LiveTrading: true}
}

// IsAuthenticated returns whether an access token is set.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

func (z *ZerodhaBroker) ready(ctx context.Context) error {
	if !z.IsAuthenticated() {
		return fmt.Errorf("not authenticated")
	}
	return z.limiter.Wait(ctx)
}

// instrument maps a plain symbol to EXCHANGE:SYMBOL.
func (z *ZerodhaBroker) instrument(symbol string) string {
	if strings.Contains(symbol, ":") {
		return symbol
	}
	return z.exchange + ":" + symbol
}

// LatestPrices fetches last traded prices for all symbols in one call.
func (z *ZerodhaBroker) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	if err := z.ready(ctx); err != nil {
		return nil, err
	}

	instruments := make([]string, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for i, sym := range symbols {
		instruments[i] = z.instrument(sym)
		bySymbol[instruments[i]] = sym
	}

	ltp, err := z.client.GetLTP(instruments...)
	if err != nil {
		return nil, fmt.Errorf("failed to get LTP: %w", err)
	}
	for inst, q := range ltp {
		if sym, ok := bySymbol[inst]; ok && q.LastPrice > 0 {
			out[sym] = q.LastPrice
		}
	}
	return out, nil
}

// PlaceMarketSell places a regular CNC market sell.
func (z *ZerodhaBroker) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*models.OrderResult, error) {
	if qty != float64(int(qty)) || qty <= 0 {
		return nil, apperrors.NewValidationError("quantity", qty, "Kite orders need a positive whole quantity")
	}
	if err := z.ready(ctx); err != nil {
		return nil, err
	}

	params := kiteconnect.OrderParams{
		Exchange:        z.exchange,
		Tradingsymbol:   strings.TrimPrefix(symbol, z.exchange+":"),
		TransactionType: "SELL",
		OrderType:       "MARKET",
		Product:         "CNC",
		Quantity:        int(qty),
		Validity:        "DAY",
		Tag:             "fundx-stoploss",
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	// Kite does not report the fill synchronously
	return &models.OrderResult{
		OrderID:  resp.OrderID,
		Symbol:   symbol,
		Side:     models.OrderSideSell,
		Quantity: qty,
		Status:   "placed",
		PlacedAt: time.Now(),
	}, nil
}

// Positions merges net positions and delivery holdings.
func (z *ZerodhaBroker) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	if err := z.ready(ctx); err != nil {
		return nil, err
	}

	positions, err := z.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	holdings, err := z.client.GetHoldings()
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}

	bySymbol := make(map[string]*models.BrokerPosition)
	var order []string
	add := func(symbol string, qty, avg, last float64) {
		if qty == 0 {
			return
		}
		bp, ok := bySymbol[symbol]
		if !ok {
			bp = &models.BrokerPosition{Symbol: symbol}
			bySymbol[symbol] = bp
			order = append(order, symbol)
		}
		// Quantity-weighted average across product types
		total := bp.Quantity + qty
		if total != 0 {
			bp.AveragePrice = (bp.AveragePrice*bp.Quantity + avg*qty) / total
		}
		bp.Quantity = total
		bp.LastPrice = last
	}

	for _, h := range holdings {
		add(h.Tradingsymbol, float64(h.Quantity), h.AveragePrice, h.LastPrice)
	}
	for _, p := range positions.Net {
		add(p.Tradingsymbol, float64(p.Quantity), p.AveragePrice, p.LastPrice)
	}

	out := make([]models.BrokerPosition, 0, len(order))
	for _, sym := range order {
		if bySymbol[sym].Quantity != 0 {
			out = append(out, *bySymbol[sym])
		}
	}
	return out, nil
}

// Account fetches equity segment margins.
func (z *ZerodhaBroker) Account(ctx context.Context) (*models.Account, error) {
	if err := z.ready(ctx); err != nil {
		return nil, err
	}

	margins, err := z.client.GetUserMargins()
	if err != nil {
		return nil, fmt.Errorf("failed to get margins: %w", err)
	}

	equity := margins.Equity
	return &models.Account{
		Cash:        equity.Available.Cash,
		Equity:      equity.Net,
		BuyingPower: equity.Available.Cash + equity.Available.Collateral,
		Currency:    "INR",
	}, nil
}
