package market

import (
	"fmt"
	"math"
)

// TradeImpact is the outcome of pricing one trade against a stock snapshot.
type TradeImpact struct {
	PriceImpact        float64
	NewPrice           float64
	NewChangePct       float64
	DailyOpen          float64
	NewAvailableShares *int64
	NewVolumeToday     int64
}

// ComputeTradeImpact prices a trade of quantity shares in direction side
// against s. It has no side effects. Buys larger than the available float, and
// sells that would push the float above the total share count, are rejected
// with ErrInsufficientLiquidity.
func ComputeTradeImpact(s Stock, quantity int64, side Side) (TradeImpact, error) {
	var out TradeImpact
	if quantity <= 0 {
		return out, ErrInvalidQuantity
	}
	if side != TransactionBuy && side != TransactionSell {
		return out, ErrInvalidSide
	}
	if s.CurrentPrice <= 0 || math.IsNaN(s.CurrentPrice) {
		return out, ErrInvalidStock
	}
	if side == TransactionBuy && s.AvailableShares != nil && quantity > *s.AvailableShares {
		return out, ErrInsufficientLiquidity
	}
	if side == TransactionSell && s.AvailableShares != nil && *s.AvailableShares+quantity > s.TotalShares {
		return out, fmt.Errorf("%w: float would exceed %d total shares", ErrInsufficientLiquidity, s.TotalShares)
	}

	qty := float64(quantity)
	marketCap := s.MarketCap
	if marketCap <= 0 {
		marketCap = s.CurrentPrice * FallbackMarketCapMultiple
	}
	marketCapImpact := qty * s.CurrentPrice / marketCap

	liquidityImpact := FallbackLiquidityImpact
	if s.AvailableShares != nil && *s.AvailableShares > 0 {
		liquidityImpact = qty / float64(*s.AvailableShares)
	}

	out.PriceImpact = math.Min(marketCapImpact+liquidityImpact*LiquidityWeight, MaxPriceImpact)
	direction := 1.0
	if side == TransactionSell {
		direction = -1
	}
	out.NewPrice = s.CurrentPrice * (1 + direction*out.PriceImpact)

	out.DailyOpen = EffectiveDailyOpen(s)
	out.NewChangePct = ChangePct(out.NewPrice, out.DailyOpen)

	if s.AvailableShares != nil {
		next := *s.AvailableShares
		if side == TransactionBuy {
			next -= quantity
			if next < 0 {
				next = 0
			}
		} else {
			next += quantity
		}
		out.NewAvailableShares = &next
	}
	out.NewVolumeToday = s.VolumeToday + quantity
	return out, nil
}

// Apply writes the impact onto a copy of s.
func (t TradeImpact) Apply(s Stock) Stock {
	next := s.Clone()
	next.CurrentPrice = t.NewPrice
	next.PriceChangePct = t.NewChangePct
	next.DailyOpen = t.DailyOpen
	next.AvailableShares = t.NewAvailableShares
	next.VolumeToday = t.NewVolumeToday
	return next
}
