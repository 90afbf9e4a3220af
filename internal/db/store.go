package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketsim/internal/market"
	"marketsim/internal/metrics"
)

const stockColumns = `id, symbol, company_name, sector, current_price, price_change, market_cap,
	available_shares, total_shares, volatility, daily_open, volume_today`

// Store is the PostgreSQL stock registry and price history. Each Update
// locks the stock row for the length of one transaction, so writers of
// different stocks never wait on each other.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStock(row rowScanner) (market.Stock, error) {
	var s market.Stock
	var id uuid.UUID
	err := row.Scan(&id, &s.Symbol, &s.CompanyName, &s.Sector, &s.CurrentPrice, &s.PriceChangePct, &s.MarketCap,
		&s.AvailableShares, &s.TotalShares, &s.Volatility, &s.DailyOpen, &s.VolumeToday)
	if err != nil {
		return market.Stock{}, err
	}
	s.ID = id.String()
	return s, nil
}

func (s *Store) Get(ctx context.Context, id string) (market.Stock, error) {
	stockID, err := uuid.Parse(id)
	if err != nil {
		return market.Stock{}, market.ErrStockNotFound
	}
	st, err := scanStock(s.db.QueryRow(ctx, `SELECT `+stockColumns+` FROM market.stocks WHERE id = $1`, stockID))
	if err != nil {
		return market.Stock{}, lookupError(err)
	}
	return st, nil
}

func (s *Store) FindBySymbol(ctx context.Context, symbol string) (market.Stock, error) {
	st, err := scanStock(s.db.QueryRow(ctx, `SELECT `+stockColumns+` FROM market.stocks WHERE symbol = $1`, symbol))
	if err != nil {
		return market.Stock{}, lookupError(err)
	}
	return st, nil
}

func (s *Store) List(ctx context.Context) ([]market.Stock, error) {
	rows, err := s.db.Query(ctx, `SELECT `+stockColumns+` FROM market.stocks ORDER BY created_at, symbol`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make([]market.Stock, 0, 32)
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, stock market.Stock, entry *market.PriceHistoryEntry) error {
	stockID, err := uuid.Parse(stock.ID)
	if err != nil {
		return fmt.Errorf("%w: id must be a uuid", market.ErrInvalidStock)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO market.stocks (`+stockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, stockID, stock.Symbol, stock.CompanyName, stock.Sector, stock.CurrentPrice, stock.PriceChangePct, stock.MarketCap,
		stock.AvailableShares, stock.TotalShares, stock.Volatility, stock.DailyOpen, stock.VolumeToday)
	if err != nil {
		if isUniqueViolation(err) {
			return market.ErrDuplicateSymbol
		}
		return unavailable(err)
	}
	if entry != nil {
		if err := insertHistoryTx(ctx, tx, stockID, *entry); err != nil {
			return unavailable(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Update runs fn against the row-locked stock and commits the new state and
// its history entry together. Serialization failures and deadlocks are
// retried with backoff, re-reading the row and re-running fn each time.
func (s *Store) Update(ctx context.Context, id string, fn market.Mutation) (market.Stock, error) {
	stockID, err := uuid.Parse(id)
	if err != nil {
		return market.Stock{}, market.ErrStockNotFound
	}

	const maxAttempts = 8
	retryDelay := 25 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var next market.Stock
		err := func() error {
			tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)

			cur, err := scanStock(tx.QueryRow(ctx, `
				SELECT `+stockColumns+`
				FROM market.stocks
				WHERE id = $1
				FOR UPDATE
			`, stockID))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return market.ErrStockNotFound
				}
				return err
			}

			var entry *market.PriceHistoryEntry
			next, entry, err = fn(cur.Clone())
			if err != nil {
				return domainError{err}
			}
			next.ID = cur.ID
			next.Symbol = cur.Symbol

			if _, err := tx.Exec(ctx, `
				UPDATE market.stocks
				SET current_price = $1, price_change = $2, market_cap = $3, available_shares = $4,
					total_shares = $5, volatility = $6, daily_open = $7, volume_today = $8, updated_at = now()
				WHERE id = $9
			`, next.CurrentPrice, next.PriceChangePct, next.MarketCap, next.AvailableShares,
				next.TotalShares, next.Volatility, next.DailyOpen, next.VolumeToday, stockID); err != nil {
				return err
			}
			if entry != nil {
				if err := insertHistoryTx(ctx, tx, stockID, *entry); err != nil {
					return err
				}
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return next, nil
		}
		var de domainError
		if errors.As(err, &de) {
			return market.Stock{}, de.err
		}
		if errors.Is(err, market.ErrStockNotFound) {
			return market.Stock{}, err
		}
		if !isRetryable(err) {
			return market.Stock{}, unavailable(err)
		}
		if attempt == maxAttempts-1 {
			return market.Stock{}, unavailable(err)
		}
		metrics.StoreRetries.Inc()
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return market.Stock{}, err
		}
		if retryDelay < 800*time.Millisecond {
			retryDelay *= 2
		}
	}
	return market.Stock{}, market.ErrStoreUnavailable
}

func (s *Store) Append(ctx context.Context, entry market.PriceHistoryEntry) error {
	stockID, err := uuid.Parse(entry.StockID)
	if err != nil {
		return market.ErrStockNotFound
	}
	if err := insertHistoryTx(ctx, s.db, stockID, entry); err != nil {
		if isForeignKeyViolation(err) {
			return market.ErrStockNotFound
		}
		return unavailable(err)
	}
	return nil
}

func (s *Store) QueryRange(ctx context.Context, stockID string, from, to time.Time) ([]market.PriceHistoryEntry, error) {
	id, err := uuid.Parse(stockID)
	if err != nil {
		return nil, market.ErrStockNotFound
	}
	rows, err := s.db.Query(ctx, `
		SELECT price, volume, transaction_type, ts
		FROM market.stock_history
		WHERE stock_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts, id
	`, id, from, to)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []market.PriceHistoryEntry
	for rows.Next() {
		e := market.PriceHistoryEntry{StockID: stockID}
		var kind string
		if err := rows.Scan(&e.Price, &e.Volume, &kind, &e.Timestamp); err != nil {
			return nil, unavailable(err)
		}
		e.TransactionType = market.TransactionType(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) MarkReset(ctx context.Context, at time.Time) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO market.daily_resets (reset_at) VALUES ($1)`, at.UTC()); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) LastReset(ctx context.Context) (time.Time, error) {
	var last *time.Time
	if err := s.db.QueryRow(ctx, `SELECT max(reset_at) FROM market.daily_resets`).Scan(&last); err != nil {
		return time.Time{}, unavailable(err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertHistoryTx(ctx context.Context, q execer, stockID uuid.UUID, e market.PriceHistoryEntry) error {
	if !e.TransactionType.Valid() {
		return fmt.Errorf("invalid transaction type %q", e.TransactionType)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO market.stock_history (stock_id, price, volume, transaction_type, ts)
		VALUES ($1, $2, $3, $4, $5)
	`, stockID, e.Price, e.Volume, string(e.TransactionType), ts.UTC())
	return err
}

// domainError carries a Mutation's own error out of the transaction so it
// is returned unwrapped and never retried.
type domainError struct{ err error }

func (d domainError) Error() string { return d.err.Error() }

func lookupError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return market.ErrStockNotFound
	}
	return unavailable(err)
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", market.ErrStoreUnavailable, err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool { return pgCode(err) == "23505" }

func isForeignKeyViolation(err error) bool { return pgCode(err) == "23503" }

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
