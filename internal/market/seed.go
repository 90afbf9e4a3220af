package market

import (
	"context"
	"errors"
	"fmt"
)

// SeedDefaults lists the default universe when the registry is empty. It
// does nothing if any stock is already listed.
func (e *Engine) SeedDefaults(ctx context.Context) (int, error) {
	existing, err := e.store.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	seed := []struct {
		Symbol     string
		Name       string
		Sector     string
		Price      float64
		Shares     int64
		Volatility float64
	}{
		{"COBOLT", "Cobalt Dynamics", "technology", 130, 5_000_000, 1.2},
		{"NIMBUS", "Nimbus Labs", "technology", 95, 8_000_000, 1.4},
		{"VECTRA", "Vectra AI", "technology", 165, 3_000_000, 1.6},
		{"ARCANE", "Arcane Finance", "finance", 145, 6_000_000, 0.9},
		{"LEDGRA", "Ledgra Bank", "finance", 62, 12_000_000, 0.7},
		{"NEBULA", "Nebula Energy", "energy", 92, 7_000_000, 1.5},
		{"FUSION", "Fusion Grid", "energy", 110, 4_500_000, 1.3},
		{"LUMINA", "Lumina Health", "healthcare", 102, 5_500_000, 1.0},
		{"CURAVX", "Curavex Pharma", "healthcare", 48, 9_000_000, 1.8},
		{"ZENITH", "Zenith Retail", "consumer", 75, 10_000_000, 0.8},
		{"BREWCO", "Brewco Foods", "consumer", 38, 15_000_000, 0.6},
		{"FORGEX", "Forgex Industrial", "industrial", 88, 6_500_000, 0.9},
		{"ORBITZ", "Orbitz Space", "industrial", 180, 2_000_000, 1.7},
		{"QUARRY", "Quarry Metals", "materials", 54, 8_500_000, 1.2},
		{"POLYMR", "Polymer Works", "materials", 67, 7_500_000, 1.0},
		{"VOLTEX", "Voltex Utilities", "utilities", 41, 20_000_000, 0.5},
		{"AQUAFL", "Aquaflow Water", "utilities", 33, 18_000_000, 0.4},
		{"SIGNAL", "Signal Telecom", "telecom", 58, 11_000_000, 0.8},
		{"HABITA", "Habitat Realty", "real_estate", 72, 9_500_000, 0.7},
		{"TOWERS", "Towers REIT", "real_estate", 120, 4_000_000, 0.6},
	}

	listed := 0
	for _, row := range seed {
		shares := row.Shares
		_, err := e.ListStock(ctx, NewStock{
			Symbol:          row.Symbol,
			CompanyName:     row.Name,
			Sector:          row.Sector,
			Price:           row.Price,
			MarketCap:       row.Price * float64(row.Shares),
			AvailableShares: &shares,
			TotalShares:     row.Shares,
			Volatility:      row.Volatility,
		})
		if errors.Is(err, ErrDuplicateSymbol) {
			continue
		}
		if err != nil {
			return listed, fmt.Errorf("seed %s: %w", row.Symbol, err)
		}
		listed++
	}
	e.log.Info("seeded default stocks", "count", listed)
	return listed, nil
}
