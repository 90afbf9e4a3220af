package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/market"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("MARKETSIM_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MARKETSIM_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE market.stocks, market.daily_resets CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewStore(pool)
}

func insertTestStock(t *testing.T, s *Store, symbol string, available int64) market.Stock {
	t.Helper()
	st := market.Stock{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		CompanyName:     symbol + " Corp",
		Sector:          "technology",
		CurrentPrice:    100,
		AvailableShares: &available,
		TotalShares:     available,
		Volatility:      1,
		DailyOpen:       100,
	}
	entry := &market.PriceHistoryEntry{StockID: st.ID, Price: 100, TransactionType: market.TransactionMarket, Timestamp: time.Now()}
	if err := s.Insert(context.Background(), st, entry); err != nil {
		t.Fatalf("insert %s: %v", symbol, err)
	}
	return st
}

func TestStoreInsertAndLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	st := insertTestStock(t, s, "NIMBUS", 1000)

	got, err := s.Get(ctx, st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Symbol != "NIMBUS" || got.CurrentPrice != 100 || got.AvailableShares == nil || *got.AvailableShares != 1000 {
		t.Fatalf("unexpected stock %+v", got)
	}
	bySymbol, err := s.FindBySymbol(ctx, "NIMBUS")
	if err != nil || bySymbol.ID != st.ID {
		t.Fatalf("find by symbol: %+v err=%v", bySymbol, err)
	}
	if _, err := s.Get(ctx, uuid.NewString()); !errors.Is(err, market.ErrStockNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	dup := st
	dup.ID = uuid.NewString()
	if err := s.Insert(ctx, dup, nil); !errors.Is(err, market.ErrDuplicateSymbol) {
		t.Fatalf("expected duplicate symbol, got %v", err)
	}
}

func TestStoreUpdateIsAtomicPerStock(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	st := insertTestStock(t, s, "COBOLT", 10_000)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, st.ID, func(cur market.Stock) (market.Stock, *market.PriceHistoryEntry, error) {
				cur.VolumeToday++
				return cur, &market.PriceHistoryEntry{StockID: cur.ID, Price: cur.CurrentPrice, Volume: 1, TransactionType: market.TransactionBuy, Timestamp: time.Now()}, nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, st.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VolumeToday != workers {
		t.Fatalf("volume got=%d want %d", got.VolumeToday, workers)
	}
	entries, err := s.QueryRange(ctx, st.ID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != workers+1 {
		t.Fatalf("entries got=%d want %d", len(entries), workers+1)
	}
}

func TestStoreUpdateMutationErrorRollsBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	st := insertTestStock(t, s, "PYLONS", 5)

	_, err := s.Update(ctx, st.ID, func(cur market.Stock) (market.Stock, *market.PriceHistoryEntry, error) {
		return cur, nil, market.ErrInsufficientLiquidity
	})
	if !errors.Is(err, market.ErrInsufficientLiquidity) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	if errors.Is(err, market.ErrStoreUnavailable) {
		t.Fatalf("mutation error must not be reported as store failure")
	}
	if _, err := s.Update(ctx, uuid.NewString(), func(cur market.Stock) (market.Stock, *market.PriceHistoryEntry, error) {
		return cur, nil, nil
	}); !errors.Is(err, market.ErrStockNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreQueryRangeBounds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	st := insertTestStock(t, s, "RUSTIC", 5)
	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.Append(ctx, market.PriceHistoryEntry{StockID: st.ID, Price: float64(i + 1), TransactionType: market.TransactionMarket, Timestamp: base.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.QueryRange(ctx, st.ID, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 || got[0].Price != 2 || got[2].Price != 4 {
		t.Fatalf("unexpected entries %+v", got)
	}
	if err := s.Append(ctx, market.PriceHistoryEntry{StockID: uuid.NewString(), Price: 1, TransactionType: market.TransactionMarket}); !errors.Is(err, market.ErrStockNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreResetLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	last, err := s.LastReset(ctx)
	if err != nil {
		t.Fatalf("last reset: %v", err)
	}
	if !last.IsZero() {
		t.Fatalf("expected no reset yet, got %v", last)
	}
	monday := time.Date(2026, 3, 9, 13, 30, 0, 0, time.UTC)
	for _, at := range []time.Time{monday.AddDate(0, 0, 1), monday} {
		if err := s.MarkReset(ctx, at); err != nil {
			t.Fatalf("mark reset: %v", err)
		}
	}
	last, err = s.LastReset(ctx)
	if err != nil {
		t.Fatalf("last reset: %v", err)
	}
	if !last.Equal(monday.AddDate(0, 0, 1)) {
		t.Fatalf("last reset got=%v want %v", last, monday.AddDate(0, 0, 1))
	}
}

func TestRetryableCodes(t *testing.T) {
	if isRetryable(errors.New("plain")) {
		t.Fatalf("plain error must not be retried")
	}
	if unavailable(context.Canceled) != context.Canceled {
		t.Fatalf("cancellation must pass through unwrapped")
	}
	if !errors.Is(unavailable(errors.New("conn reset")), market.ErrStoreUnavailable) {
		t.Fatalf("driver failure must wrap ErrStoreUnavailable")
	}
}
