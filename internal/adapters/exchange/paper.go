// Package exchange holds concrete ports.Exchange implementations.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/ports"
)

// Paper is an in-process exchange for dry runs. It serves bars loaded
// through a ports.BarSource and fills every order instantly at the
// latest close, charging a flat fee rate. No external calls are made.
type Paper struct {
	id      string
	feeRate float64
	source  ports.BarSource

	mu      sync.Mutex
	bars    map[string][]domain.Bar // symbol|timeframe → loaded history
	cursor  map[string]int          // replay position per series
	lastEnd map[string]int          // window end served by the last poll
	orders  []ports.OrderResult
}

// NewPaper creates a paper exchange fed by the given bar source.
func NewPaper(id string, feeRate float64, source ports.BarSource) *Paper {
	if id == "" {
		id = "paper"
	}
	return &Paper{
		id:      id,
		feeRate: feeRate,
		source:  source,
		bars:    make(map[string][]domain.Bar),
		cursor:  make(map[string]int),
		lastEnd: make(map[string]int),
	}
}

func (p *Paper) ID() string { return p.id }

// Load pulls the full history for a symbol/timeframe from the source
// and arms the replay cursor past an initial warm-up window.
func (p *Paper) Load(ctx context.Context, symbol, timeframe string, from, to time.Time, warmup int) error {
	bars, err := p.source.FetchBars(ctx, symbol, timeframe, from, to)
	if err != nil {
		return fmt.Errorf("exchange.Load: %s %s: %w", symbol, timeframe, err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("exchange.Load: %s %s: no bars in range", symbol, timeframe)
	}
	if warmup <= 0 || warmup > len(bars) {
		warmup = len(bars)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	key := seriesKey(symbol, timeframe)
	p.bars[key] = bars
	p.cursor[key] = warmup
	return nil
}

// FetchOHLCV returns the window ending at the replay cursor and then
// advances the cursor one bar, so each poll observes one new close.
func (p *Paper) FetchOHLCV(_ context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := seriesKey(symbol, timeframe)
	bars, ok := p.bars[key]
	if !ok {
		return nil, fmt.Errorf("exchange.FetchOHLCV: no history loaded for %s %s", symbol, timeframe)
	}

	end := p.cursor[key]
	if end > len(bars) {
		end = len(bars)
	}
	lo := 0
	if limit > 0 && end > limit {
		lo = end - limit
	}
	window := make([]domain.Bar, end-lo)
	copy(window, bars[lo:end])

	p.lastEnd[key] = end
	if p.cursor[key] < len(bars) {
		p.cursor[key]++
	}
	return window, nil
}

// CreateOrder fills instantly at the last close the caller has observed
// through FetchOHLCV. With the symbol loaded under several timeframes
// the newest observed bar wins, so the fill never depends on map order.
// Ordering before any poll is an error.
func (p *Paper) CreateOrder(_ context.Context, req ports.OrderRequest) (ports.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		price  float64
		at     time.Time
		chosen string
	)
	for key, bars := range p.bars {
		if symbolOf(key) != req.Symbol {
			continue
		}
		idx := p.lastEnd[key] - 1
		if idx < 0 || idx >= len(bars) {
			continue
		}
		bar := bars[idx]
		if chosen == "" || bar.Timestamp.After(at) || (bar.Timestamp.Equal(at) && key < chosen) {
			price = bar.Close
			at = bar.Timestamp
			chosen = key
		}
	}
	if price <= 0 {
		return ports.OrderResult{}, fmt.Errorf("exchange.CreateOrder: no observed price for %s", req.Symbol)
	}

	res := ports.OrderResult{
		OrderID:   uuid.New().String(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     price,
		Fee:       req.Quantity * price * p.feeRate,
		Timestamp: time.Now().UTC(),
	}
	p.orders = append(p.orders, res)
	return res, nil
}

// LoadMarkets declares one active market per loaded symbol with generic
// crypto precision.
func (p *Paper) LoadMarkets(context.Context) (map[string]ports.Market, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	markets := make(map[string]ports.Market)
	for key := range p.bars {
		sym := symbolOf(key)
		markets[sym] = ports.Market{
			Symbol:          sym,
			Active:          true,
			PricePrecision:  8,
			AmountPrecision: 8,
		}
	}
	return markets, nil
}

func (p *Paper) Timeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

func (p *Paper) SupportsOHLCV() bool { return true }

// Orders returns a copy of every fill so far.
func (p *Paper) Orders() []ports.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ports.OrderResult, len(p.orders))
	copy(out, p.orders)
	return out
}

func seriesKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

func symbolOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i]
		}
	}
	return key
}
