package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/metrics"
)

type Engine struct {
	store    Store
	log      *slog.Logger
	notifier Notifier
	bands    SectorBands
	now      func() time.Time
	loc      *time.Location

	mu   sync.Mutex
	rand *rand.Rand
}

type Option func(*Engine)

// WithRand replaces the time-seeded random source. Pass a seeded source to
// reproduce drift ticks and synthetic history exactly.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.rand = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone chart labels are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithSectorBands(bands SectorBands) Option {
	return func(e *Engine) {
		if bands != nil {
			e.bands = bands.normalized()
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

func NewEngine(store Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store: store,
		log:   logger,
		bands: DefaultSectorBands(),
		now:   time.Now,
		loc:   time.UTC,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve finds a stock by id, or by symbol when ref is not a UUID.
func (e *Engine) Resolve(ctx context.Context, ref string) (Stock, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Stock{}, ErrStockNotFound
	}
	if _, err := uuid.Parse(ref); err == nil {
		return e.store.Get(ctx, ref)
	}
	symbol := strings.ToUpper(ref)
	if err := ValidateSymbol(symbol); err != nil {
		return Stock{}, ErrStockNotFound
	}
	return e.store.FindBySymbol(ctx, symbol)
}

func (e *Engine) Stocks(ctx context.Context) ([]Stock, error) {
	return e.store.List(ctx)
}

// Trade applies a buy or sell of quantity shares to the stock. The new price
// and its buy/sell history entry commit together. Callers settle funds and
// holdings before calling; Trade does not check affordability.
func (e *Engine) Trade(ctx context.Context, ref string, side Side, quantity int64) (TradeResult, error) {
	out := TradeResult{Side: side, Quantity: quantity}
	if quantity <= 0 {
		metrics.RecordTrade(string(side), "rejected")
		return out, ErrInvalidQuantity
	}
	if side != TransactionBuy && side != TransactionSell {
		metrics.RecordTrade(string(side), "rejected")
		return out, ErrInvalidSide
	}
	stockID, err := e.resolveID(ctx, ref)
	if err != nil {
		metrics.RecordTrade(string(side), tradeStatus(err))
		return out, err
	}

	at := e.now()
	stock, err := e.store.Update(ctx, stockID, func(cur Stock) (Stock, *PriceHistoryEntry, error) {
		impact, err := ComputeTradeImpact(cur, quantity, side)
		if err != nil {
			return cur, nil, err
		}
		out.PreviousPrice = cur.CurrentPrice
		out.PriceImpact = impact.PriceImpact
		next := impact.Apply(cur)
		return next, &PriceHistoryEntry{
			StockID:         cur.ID,
			Price:           next.CurrentPrice,
			Volume:          quantity,
			TransactionType: side,
			Timestamp:       at,
		}, nil
	})
	if err != nil {
		metrics.RecordTrade(string(side), tradeStatus(err))
		return out, err
	}
	out.Stock = stock
	metrics.RecordTrade(string(side), "ok")
	metrics.RecordHistoryEntry(string(side))
	e.log.Debug("trade applied",
		"stock_id", stock.ID,
		"symbol", stock.Symbol,
		"side", string(side),
		"quantity", quantity,
		"price", stock.CurrentPrice,
		"change_pct", stock.PriceChangePct,
	)
	e.publish(ctx, stock)
	return out, nil
}

// ListStock adds a new stock to the registry at its listing price, with the
// daily open set to that price and a market history entry at listing time.
func (e *Engine) ListStock(ctx context.Context, in NewStock) (Stock, error) {
	stock, err := newListing(in)
	if err != nil {
		return Stock{}, err
	}
	stock.ID = uuid.NewString()
	entry := &PriceHistoryEntry{
		StockID:         stock.ID,
		Price:           stock.CurrentPrice,
		TransactionType: TransactionMarket,
		Timestamp:       e.now(),
	}
	if err := e.store.Insert(ctx, stock, entry); err != nil {
		return Stock{}, err
	}
	metrics.RecordHistoryEntry(string(TransactionMarket))
	e.publish(ctx, stock)
	return stock, nil
}

func newListing(in NewStock) (Stock, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if err := ValidateSymbol(symbol); err != nil {
		return Stock{}, err
	}
	name := strings.TrimSpace(in.CompanyName)
	if name == "" || len(name) > companyNameMaxLen {
		return Stock{}, fmt.Errorf("%w: company name must be 1-%d chars", ErrInvalidStock, companyNameMaxLen)
	}
	sector := normalizeSector(in.Sector)
	if sector == "" {
		return Stock{}, fmt.Errorf("%w: sector is required", ErrInvalidStock)
	}
	if !(in.Price > 0) || math.IsInf(in.Price, 0) {
		return Stock{}, fmt.Errorf("%w: price must be > 0", ErrInvalidStock)
	}
	if in.MarketCap < 0 || math.IsNaN(in.MarketCap) {
		return Stock{}, fmt.Errorf("%w: market cap must be >= 0", ErrInvalidStock)
	}
	total := in.TotalShares
	var available *int64
	if in.AvailableShares != nil {
		v := *in.AvailableShares
		if total == 0 {
			total = v
		}
		available = &v
	}
	if total < 0 || (available != nil && (*available < 0 || *available > total)) {
		return Stock{}, fmt.Errorf("%w: shares must satisfy 0 <= available <= total", ErrInvalidStock)
	}
	return Stock{
		Symbol:          symbol,
		CompanyName:     name,
		Sector:          sector,
		CurrentPrice:    in.Price,
		MarketCap:       in.MarketCap,
		AvailableShares: available,
		TotalShares:     total,
		Volatility:      effectiveVolatility(in.Volatility),
		DailyOpen:       in.Price,
	}, nil
}

func (e *Engine) resolveID(ctx context.Context, ref string) (string, error) {
	if _, err := uuid.Parse(strings.TrimSpace(ref)); err == nil {
		return strings.TrimSpace(ref), nil
	}
	st, err := e.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return st.ID, nil
}

func (e *Engine) publish(ctx context.Context, s Stock) {
	if e.notifier == nil {
		return
	}
	e.notifier.StockChanged(ctx, s)
}

func (e *Engine) nextFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Float64()
}

func (e *Engine) nextFloats(n int) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		out[i] = e.rand.Float64()
	}
	return out
}

func (e *Engine) nextIntn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Intn(n)
}

// uniform draws from [-amp, amp).
func (e *Engine) uniform(amp float64) float64 {
	return (2*e.nextFloat() - 1) * amp
}

func tradeStatus(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidSide), errors.Is(err, ErrInsufficientLiquidity):
		return "rejected"
	case errors.Is(err, ErrStockNotFound):
		return "not_found"
	default:
		return "error"
	}
}
