package broker

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"fundx/internal/config"
	apperrors "fundx/internal/errors"
	"fundx/internal/models"
)

// Registry resolves the adapter a fund trades through.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// For returns the fund's adapter after checking it can serve the fund's
// mode and asset classes.
func (r *Registry) For(fund *models.Fund) (Adapter, error) {
	sel := fund.Broker
	a, ok := r.Get(sel.Provider)
	if !ok {
		return nil, apperrors.NewFundError(fund.ID(), "broker",
			fmt.Errorf("%w: provider %q is not configured", apperrors.ErrUnsupportedCapability, sel.Provider))
	}

	caps := a.Capabilities()
	if sel.IsLive() && !caps.LiveTrading {
		return nil, apperrors.NewFundError(fund.ID(), "broker",
			fmt.Errorf("%w: %s cannot trade live", apperrors.ErrUnsupportedCapability, a.Name()))
	}
	for _, ac := range sel.AssetClasses {
		if !caps.Supports(ac) {
			return nil, apperrors.NewFundError(fund.ID(), "broker",
				fmt.Errorf("%w: %s does not support %s", apperrors.ErrUnsupportedCapability, a.Name(), ac))
		}
	}
	return a, nil
}

// NewRegistryFromConfig registers the paper broker and every broker with
// credentials, each wrapped in a circuit breaker. The paper broker prices
// from Alpaca market data when Alpaca is configured.
func NewRegistryFromConfig(cfg *config.Config, logger zerolog.Logger) *Registry {
	r := NewRegistry()
	breaker := DefaultCircuitBreakerConfig()
	retry := DefaultRetryConfig()

	var prices PriceSource = StaticPrices{}

	creds := cfg.Credentials
	if creds.Alpaca.APIKeyID != "" && creds.Alpaca.APISecretKey != "" {
		alpacaBroker := NewAlpacaBroker(AlpacaConfig{
			APIKey:    creds.Alpaca.APIKeyID,
			APISecret: creds.Alpaca.APISecretKey,
			BaseURL:   creds.Alpaca.BaseURL,
		})
		guarded := NewGuarded(alpacaBroker, breaker, logger).WithRetry(retry)
		r.Register(guarded)
		prices = guarded
	}

	if creds.Zerodha.APIKey != "" {
		r.Register(NewGuarded(NewZerodhaBroker(ZerodhaConfig{
			APIKey:      creds.Zerodha.APIKey,
			AccessToken: creds.Zerodha.AccessToken,
			Exchange:    creds.Zerodha.Exchange,
			TokenPath:   filepath.Join(cfg.Home, "kite_session.json"),
		}), breaker, logger).WithRetry(retry))
	}

	r.Register(NewGuarded(NewPaperBroker(PaperBrokerConfig{Prices: prices}), breaker, logger))

	return r
}
