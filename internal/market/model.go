package market

import (
	"errors"
	"math"
	"regexp"
	"strings"
)

const (
	// MaxPriceImpact caps the fractional move a single trade can cause, up or down.
	MaxPriceImpact = 0.10

	// Market cap (as a multiple of price) and liquidity impact used when a
	// stock has no market cap or no known float.
	FallbackMarketCapMultiple = 10_000_000
	FallbackLiquidityImpact   = 0.0001
	LiquidityWeight           = 0.02

	MarketTrendAmplitude     = 0.005
	IdiosyncraticAmplitude   = 0.008
	SignificantMoveThreshold = 0.002
	MaxDriftVolumeIncrement  = 100
	MinPrice                 = 0.01
	DefaultVolatility        = 1.0
	MinHistoryEntries        = 5
	SyntheticPerturbation    = 0.05 // full width, so +/-2.5% at volatility 1
	SyntheticVolumeBase      = 100_000
	SyntheticVolumeSpread    = 900_000
	MaxComparisonSeries      = 3
	companyNameMaxLen        = 64
)

var (
	ErrInvalidQuantity       = errors.New("quantity must be > 0")
	ErrInvalidSide           = errors.New("side must be buy or sell")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrStockNotFound         = errors.New("stock not found")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrInvalidSymbol         = errors.New("symbol must be 1-6 uppercase letters")
	ErrInvalidTimeframe      = errors.New("timeframe must be one of 1D, 1W, 1M, 3M, 1Y, 5Y")
	ErrDuplicateSymbol       = errors.New("symbol already listed")
	ErrTooManySeries         = errors.New("too many stocks to compare")
	ErrInvalidStock          = errors.New("invalid stock")
)

var symbolRE = regexp.MustCompile(`^[A-Z]{1,6}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

// ChangePct is the percentage move of price against the daily open.
func ChangePct(price, dailyOpen float64) float64 {
	if dailyOpen <= 0 {
		return 0
	}
	return (price - dailyOpen) / dailyOpen * 100
}

// EffectiveDailyOpen returns the stored daily open, or back-derives it from
// the stored change percentage when no open has been recorded yet.
func EffectiveDailyOpen(s Stock) float64 {
	if s.DailyOpen > 0 {
		return s.DailyOpen
	}
	mult := 1 + s.PriceChangePct/100
	if mult <= 0 || math.IsNaN(mult) || math.IsInf(mult, 0) {
		return s.CurrentPrice
	}
	return s.CurrentPrice / mult
}

func effectiveVolatility(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return DefaultVolatility
	}
	return v
}

func normalizeSector(sector string) string {
	return strings.ToLower(strings.TrimSpace(sector))
}
