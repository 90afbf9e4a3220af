package market

import (
	"context"
	"time"
)

// Mutation computes the next state of one stock from its latest committed
// state. A non-nil entry is appended to the price history in the same commit.
// Returning an error aborts the update with nothing written.
//
// Stores may invoke a Mutation more than once when they retry a conflicting
// transaction, so it must not draw random numbers or perform side effects.
type Mutation func(current Stock) (next Stock, entry *PriceHistoryEntry, err error)

type StockRegistry interface {
	Get(ctx context.Context, id string) (Stock, error)
	FindBySymbol(ctx context.Context, symbol string) (Stock, error)
	List(ctx context.Context) ([]Stock, error)
	Insert(ctx context.Context, stock Stock, entry *PriceHistoryEntry) error
	// Update serializes fn against every other Update of the same stock.
	// Updates of different stocks do not block each other.
	Update(ctx context.Context, id string, fn Mutation) (Stock, error)
}

type HistoryStore interface {
	Append(ctx context.Context, entry PriceHistoryEntry) error
	// QueryRange returns entries with from <= timestamp <= to, oldest first.
	QueryRange(ctx context.Context, stockID string, from, to time.Time) ([]PriceHistoryEntry, error)
}

// ResetLog remembers when the daily reset last ran, so a restarted worker
// can tell whether today's reset already happened.
type ResetLog interface {
	MarkReset(ctx context.Context, at time.Time) error
	// LastReset returns the zero time when no reset was ever recorded.
	LastReset(ctx context.Context) (time.Time, error)
}

type Store interface {
	StockRegistry
	HistoryStore
	ResetLog
}

// Notifier receives every committed stock state. It must not block for long.
type Notifier interface {
	StockChanged(ctx context.Context, stock Stock)
}
