package market

import (
	"strings"
	"time"
)

type Stock struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	CompanyName     string  `json:"company_name"`
	Sector          string  `json:"sector"`
	CurrentPrice    float64 `json:"current_price"`
	PriceChangePct  float64 `json:"price_change"`
	MarketCap       float64 `json:"market_cap,omitempty"`
	AvailableShares *int64  `json:"available_shares,omitempty"`
	TotalShares     int64   `json:"total_shares"`
	Volatility      float64 `json:"volatility"`
	DailyOpen       float64 `json:"daily_open"`
	VolumeToday     int64   `json:"volume_today"`
}

// Clone returns a copy that shares no pointers with s.
func (s Stock) Clone() Stock {
	if s.AvailableShares != nil {
		v := *s.AvailableShares
		s.AvailableShares = &v
	}
	return s
}

type TransactionType string

const (
	TransactionBuy    TransactionType = "buy"
	TransactionSell   TransactionType = "sell"
	TransactionMarket TransactionType = "market"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBuy, TransactionSell, TransactionMarket:
		return true
	}
	return false
}

// Side is the direction of a user trade. Only buy and sell are valid sides.
type Side = TransactionType

func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(raw))) {
	case TransactionBuy:
		return TransactionBuy, nil
	case TransactionSell:
		return TransactionSell, nil
	default:
		return "", ErrInvalidSide
	}
}

type PriceHistoryEntry struct {
	StockID         string          `json:"stock_id"`
	Price           float64         `json:"price"`
	Volume          int64           `json:"volume"`
	TransactionType TransactionType `json:"transaction_type"`
	Timestamp       time.Time       `json:"timestamp"`
}

type HistoryPoint struct {
	Label     string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
}

type HistorySeries struct {
	StockID   string         `json:"stock_id"`
	Timeframe Timeframe      `json:"timeframe"`
	Synthetic bool           `json:"synthetic"`
	Points    []HistoryPoint `json:"points"`
}

// ComparisonRow is one label on a shared chart axis. Prices is keyed by
// stock id; a stock with no point at this label has no key.
type ComparisonRow struct {
	Label     string             `json:"date"`
	Timestamp time.Time          `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
}

type Comparison struct {
	Timeframe Timeframe       `json:"timeframe"`
	Stocks    []Stock         `json:"stocks"`
	Rows      []ComparisonRow `json:"rows"`
}

type NewStock struct {
	Symbol          string  `json:"symbol"`
	CompanyName     string  `json:"company_name"`
	Sector          string  `json:"sector"`
	Price           float64 `json:"price"`
	MarketCap       float64 `json:"market_cap"`
	AvailableShares *int64  `json:"available_shares"`
	TotalShares     int64   `json:"total_shares"`
	Volatility      float64 `json:"volatility"`
}

type TradeResult struct {
	Stock         Stock           `json:"stock"`
	Side          TransactionType `json:"side"`
	Quantity      int64           `json:"quantity"`
	PreviousPrice float64         `json:"previous_price"`
	PriceImpact   float64         `json:"price_impact"`
}

type TickReport struct {
	Stocks   int `json:"stocks"`
	Updated  int `json:"updated"`
	Recorded int `json:"recorded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type ResetReport struct {
	Stocks    int      `json:"stocks"`
	Reset     int      `json:"reset"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}
