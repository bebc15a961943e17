// Package gateway is the rate-limited access layer in front of exchange
// connectivity. One token bucket exists per exchange id and is shared by
// every bot worker trading on that exchange; the limit is per-exchange,
// not per-bot.
package gateway

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/ports"
)

// PrecisionKind selects which declared precision to apply.
type PrecisionKind string

const (
	KindPrice  PrecisionKind = "price"
	KindAmount PrecisionKind = "amount"
)

const (
	defaultTokensPerSecond = 10
	defaultBurst           = 20
)

// Config sets the token-bucket policy applied to each exchange id.
type Config struct {
	TokensPerSecond float64
	Burst           int
}

// Gateway wraps registered exchanges with rate limiting, precision
// normalization, capability validation and error classification.
type Gateway struct {
	cfg       Config
	exchanges map[string]ports.Exchange
	limiters  map[string]*rate.Limiter
	markets   map[string]map[string]ports.Market // cached per exchange id
	mu        sync.Mutex
}

// New creates a Gateway. Zero config fields fall back to the defaults
// (10 tokens/sec, burst 20).
func New(cfg Config) *Gateway {
	if cfg.TokensPerSecond <= 0 {
		cfg.TokensPerSecond = defaultTokensPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	return &Gateway{
		cfg:       cfg,
		exchanges: make(map[string]ports.Exchange),
		limiters:  make(map[string]*rate.Limiter),
		markets:   make(map[string]map[string]ports.Market),
	}
}

// Register makes an exchange available under its ID.
func (g *Gateway) Register(ex ports.Exchange) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exchanges[ex.ID()] = ex
}

// limiter returns the bucket for the exchange id, creating it on first
// use. Buckets live for the process lifetime.
func (g *Gateway) limiter(exchangeID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[exchangeID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(g.cfg.TokensPerSecond), g.cfg.Burst)
		g.limiters[exchangeID] = lim
	}
	return lim
}

func (g *Gateway) exchange(exchangeID string) (ports.Exchange, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ex, ok := g.exchanges[exchangeID]
	if !ok {
		return nil, &domain.ValidationError{Field: "exchange", Reason: "unknown exchange " + exchangeID}
	}
	return ex, nil
}

// Acquire blocks until a token is available for the exchange, or the
// context is cancelled. It never spins.
func (g *Gateway) Acquire(ctx context.Context, exchangeID string) error {
	if err := g.limiter(exchangeID).Wait(ctx); err != nil {
		return fmt.Errorf("gateway.Acquire: %s: %w", exchangeID, err)
	}
	return nil
}

// Execute acquires a token and invokes op. Failures are classified and
// wrapped in *Error so callers can decide on retry by class.
func (g *Gateway) Execute(ctx context.Context, exchangeID string, op func(context.Context) error) error {
	if err := g.Acquire(ctx, exchangeID); err != nil {
		return err
	}
	if err := op(ctx); err != nil {
		return &Error{Class: Classify(err), ExchangeID: exchangeID, Err: err}
	}
	return nil
}

// FetchOHLCV fetches a bar window through the rate limiter.
func (g *Gateway) FetchOHLCV(ctx context.Context, exchangeID, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	ex, err := g.exchange(exchangeID)
	if err != nil {
		return nil, err
	}
	var bars []domain.Bar
	err = g.Execute(ctx, exchangeID, func(ctx context.Context) error {
		var opErr error
		bars, opErr = ex.FetchOHLCV(ctx, symbol, timeframe, limit)
		return opErr
	})
	return bars, err
}

// CreateOrder submits an order through the rate limiter.
func (g *Gateway) CreateOrder(ctx context.Context, exchangeID string, req ports.OrderRequest) (ports.OrderResult, error) {
	ex, err := g.exchange(exchangeID)
	if err != nil {
		return ports.OrderResult{}, err
	}
	var res ports.OrderResult
	err = g.Execute(ctx, exchangeID, func(ctx context.Context) error {
		var opErr error
		res, opErr = ex.CreateOrder(ctx, req)
		return opErr
	})
	return res, err
}

// NormalizePrecision rounds value to the exchange-declared precision for
// the symbol. Unknown or inactive symbols are a validation error.
func (g *Gateway) NormalizePrecision(ctx context.Context, exchangeID, symbol string, value float64, kind PrecisionKind) (float64, error) {
	market, err := g.market(ctx, exchangeID, symbol)
	if err != nil {
		return 0, err
	}

	digits := market.PricePrecision
	if kind == KindAmount {
		digits = market.AmountPrecision
	}
	pow := math.Pow(10, float64(digits))
	return math.Round(value*pow) / pow, nil
}

// ValidateCapabilities must pass before a strategy goes active. It fails
// with a validation error if OHLCV retrieval is unsupported, the
// timeframe is unsupported, the symbol is unknown or inactive, or the
// strategy's position-size bounds fall outside the declared limits.
// It never places orders.
func (g *Gateway) ValidateCapabilities(ctx context.Context, exchangeID string, strategy domain.Strategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}

	ex, err := g.exchange(exchangeID)
	if err != nil {
		return err
	}
	if !ex.SupportsOHLCV() {
		return &domain.ValidationError{Field: "exchange", Reason: exchangeID + " does not support OHLCV retrieval"}
	}

	supported := false
	for _, tf := range ex.Timeframes() {
		if tf == strategy.Timeframe {
			supported = true
			break
		}
	}
	if !supported {
		return &domain.ValidationError{Field: "timeframe", Reason: "unsupported timeframe " + strategy.Timeframe}
	}

	market, err := g.market(ctx, exchangeID, strategy.Symbol)
	if err != nil {
		return err
	}

	if strategy.MinPositionSize > 0 && market.MinNotional > 0 && strategy.MinPositionSize < market.MinNotional {
		return &domain.ValidationError{
			Field:  "min_position_size",
			Reason: fmt.Sprintf("below exchange minimum notional %.8g", market.MinNotional),
		}
	}
	if strategy.MaxPositionSize > 0 && market.MaxNotional > 0 && strategy.MaxPositionSize > market.MaxNotional {
		return &domain.ValidationError{
			Field:  "max_position_size",
			Reason: fmt.Sprintf("above exchange maximum notional %.8g", market.MaxNotional),
		}
	}
	return nil
}

// market returns the cached metadata for symbol, loading markets through
// the rate limiter on first use per exchange.
func (g *Gateway) market(ctx context.Context, exchangeID, symbol string) (ports.Market, error) {
	g.mu.Lock()
	cached, ok := g.markets[exchangeID]
	g.mu.Unlock()

	if !ok {
		ex, err := g.exchange(exchangeID)
		if err != nil {
			return ports.Market{}, err
		}
		err = g.Execute(ctx, exchangeID, func(ctx context.Context) error {
			var opErr error
			cached, opErr = ex.LoadMarkets(ctx)
			return opErr
		})
		if err != nil {
			return ports.Market{}, err
		}
		g.mu.Lock()
		g.markets[exchangeID] = cached
		g.mu.Unlock()
	}

	market, ok := cached[symbol]
	if !ok {
		return ports.Market{}, &domain.ValidationError{Field: "symbol", Reason: "unknown symbol " + symbol}
	}
	if !market.Active {
		return ports.Market{}, &domain.ValidationError{Field: "symbol", Reason: "inactive symbol " + symbol}
	}
	return market, nil
}
