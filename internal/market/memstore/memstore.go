// Package memstore keeps stocks and their price history in process memory.
// It backs tests and single-process runs without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketsim/internal/market"
)

type stockSlot struct {
	mu    sync.Mutex
	stock market.Stock
}

type Store struct {
	mu       sync.RWMutex
	stocks   map[string]*stockSlot
	bySymbol map[string]string
	order    []string

	histMu  sync.RWMutex
	history map[string][]market.PriceHistoryEntry

	resetMu   sync.Mutex
	lastReset time.Time
}

func New() *Store {
	return &Store{
		stocks:   make(map[string]*stockSlot),
		bySymbol: make(map[string]string),
		history:  make(map[string][]market.PriceHistoryEntry),
	}
}

func (s *Store) Get(ctx context.Context, id string) (market.Stock, error) {
	if err := ctx.Err(); err != nil {
		return market.Stock{}, err
	}
	s.mu.RLock()
	slot, ok := s.stocks[id]
	s.mu.RUnlock()
	if !ok {
		return market.Stock{}, market.ErrStockNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.stock.Clone(), nil
}

func (s *Store) FindBySymbol(ctx context.Context, symbol string) (market.Stock, error) {
	s.mu.RLock()
	id, ok := s.bySymbol[symbol]
	s.mu.RUnlock()
	if !ok {
		return market.Stock{}, market.ErrStockNotFound
	}
	return s.Get(ctx, id)
}

// List returns stocks in listing order.
func (s *Store) List(ctx context.Context) ([]market.Stock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	slots := make([]*stockSlot, 0, len(s.order))
	for _, id := range s.order {
		slots = append(slots, s.stocks[id])
	}
	s.mu.RUnlock()

	out := make([]market.Stock, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		out = append(out, slot.stock.Clone())
		slot.mu.Unlock()
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, stock market.Stock, entry *market.PriceHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if stock.ID == "" {
		return market.ErrInvalidStock
	}
	s.mu.Lock()
	if _, ok := s.bySymbol[stock.Symbol]; ok {
		s.mu.Unlock()
		return market.ErrDuplicateSymbol
	}
	if _, ok := s.stocks[stock.ID]; ok {
		s.mu.Unlock()
		return market.ErrDuplicateSymbol
	}
	s.stocks[stock.ID] = &stockSlot{stock: stock.Clone()}
	s.bySymbol[stock.Symbol] = stock.ID
	s.order = append(s.order, stock.ID)
	s.mu.Unlock()

	if entry != nil {
		s.appendHistory(*entry)
	}
	return nil
}

// Update holds the stock's own lock while fn runs and the history entry is
// appended, so concurrent updates of one stock apply one after another.
func (s *Store) Update(ctx context.Context, id string, fn market.Mutation) (market.Stock, error) {
	if err := ctx.Err(); err != nil {
		return market.Stock{}, err
	}
	s.mu.RLock()
	slot, ok := s.stocks[id]
	s.mu.RUnlock()
	if !ok {
		return market.Stock{}, market.ErrStockNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	next, entry, err := fn(slot.stock.Clone())
	if err != nil {
		return market.Stock{}, err
	}
	next.ID = slot.stock.ID
	next.Symbol = slot.stock.Symbol
	slot.stock = next.Clone()
	if entry != nil {
		e := *entry
		e.StockID = id
		s.appendHistory(e)
	}
	return next, nil
}

func (s *Store) Append(ctx context.Context, entry market.PriceHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	_, ok := s.stocks[entry.StockID]
	s.mu.RUnlock()
	if !ok {
		return market.ErrStockNotFound
	}
	s.appendHistory(entry)
	return nil
}

func (s *Store) QueryRange(ctx context.Context, stockID string, from, to time.Time) ([]market.PriceHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	var out []market.PriceHistoryEntry
	for _, e := range s.history[stockID] {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// MarkReset keeps the latest reset time; an older mark is ignored.
func (s *Store) MarkReset(ctx context.Context, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	if at.After(s.lastReset) {
		s.lastReset = at
	}
	return nil
}

func (s *Store) LastReset(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	return s.lastReset, nil
}

// appendHistory keeps each stock's entries sorted by timestamp. Entries with
// equal timestamps keep insertion order.
func (s *Store) appendHistory(e market.PriceHistoryEntry) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	entries := s.history[e.StockID]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp.After(e.Timestamp)
	})
	entries = append(entries, market.PriceHistoryEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	s.history[e.StockID] = entries
}
