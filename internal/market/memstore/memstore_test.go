package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketsim/internal/market"
)

func TestInsertRejectsDuplicateSymbol(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Insert(ctx, market.Stock{ID: "a", Symbol: "ABC", CurrentPrice: 1}, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.Insert(ctx, market.Stock{ID: "b", Symbol: "ABC", CurrentPrice: 1}, nil)
	if !errors.Is(err, market.ErrDuplicateSymbol) {
		t.Fatalf("expected duplicate symbol, got %v", err)
	}
	if _, err := s.FindBySymbol(ctx, "ABC"); err != nil {
		t.Fatalf("find: %v", err)
	}
}

func TestUpdateMissingStock(t *testing.T) {
	_, err := New().Update(context.Background(), "nope", func(cur market.Stock) (market.Stock, *market.PriceHistoryEntry, error) {
		t.Fatalf("mutation must not run for a missing stock")
		return cur, nil, nil
	})
	if !errors.Is(err, market.ErrStockNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateAbortsOnMutationError(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, market.Stock{ID: "a", Symbol: "ABC", CurrentPrice: 10}, nil)
	boom := errors.New("boom")
	_, err := s.Update(ctx, "a", func(cur market.Stock) (market.Stock, *market.PriceHistoryEntry, error) {
		cur.CurrentPrice = 99
		return cur, &market.PriceHistoryEntry{Price: 99}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	got, _ := s.Get(ctx, "a")
	if got.CurrentPrice != 10 {
		t.Fatalf("aborted update was written: %v", got.CurrentPrice)
	}
	entries, _ := s.QueryRange(ctx, "a", time.Time{}, time.Now().Add(time.Hour))
	if len(entries) != 0 {
		t.Fatalf("aborted update appended history")
	}
}

func TestConcurrentUpdatesSerializePerStock(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, market.Stock{ID: "a", Symbol: "AAA", CurrentPrice: 1}, nil)
	_ = s.Insert(ctx, market.Stock{ID: "b", Symbol: "BBB", CurrentPrice: 1}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, id, func(cur market.Stock) (market.Stock, *market.PriceHistoryEntry, error) {
					cur.VolumeToday++
					return cur, nil, nil
				})
				if err != nil {
					t.Errorf("update %s: %v", id, err)
				}
			}()
		}
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		got, _ := s.Get(ctx, id)
		if got.VolumeToday != 100 {
			t.Fatalf("%s: volume got=%d want 100", id, got.VolumeToday)
		}
	}
}

func TestQueryRangeOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, market.Stock{ID: "a", Symbol: "AAA", CurrentPrice: 1}, nil)
	base := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	for _, offset := range []int{3, 1, 2, 0, 5} {
		err := s.Append(ctx, market.PriceHistoryEntry{StockID: "a", Price: float64(offset), Timestamp: base.Add(time.Duration(offset) * time.Minute)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.QueryRange(ctx, "a", base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries want 3", len(got))
	}
	for i, want := range []float64{1, 2, 3} {
		if got[i].Price != want {
			t.Fatalf("entry %d price got=%v want=%v", i, got[i].Price, want)
		}
	}
	if err := s.Append(ctx, market.PriceHistoryEntry{StockID: "zzz"}); !errors.Is(err, market.ErrStockNotFound) {
		t.Fatalf("expected not found for unknown stock, got %v", err)
	}
}

func TestResetLogKeepsLatest(t *testing.T) {
	ctx := context.Background()
	s := New()
	if last, err := s.LastReset(ctx); err != nil || !last.IsZero() {
		t.Fatalf("fresh store: last=%v err=%v", last, err)
	}
	tuesday := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)
	_ = s.MarkReset(ctx, tuesday)
	_ = s.MarkReset(ctx, tuesday.AddDate(0, 0, -1))
	last, err := s.LastReset(ctx)
	if err != nil {
		t.Fatalf("last reset: %v", err)
	}
	if !last.Equal(tuesday) {
		t.Fatalf("last reset got=%v want %v", last, tuesday)
	}
}
