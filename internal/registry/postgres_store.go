package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidrails/internal/money"
)

// PostgresStore is the durable lock registry. Rows carry a TTL covering the
// auction window plus a safety buffer so abandoned entries age out instead of
// accumulating.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

const createLocksTableSQL = `
CREATE TABLE IF NOT EXISTS bid_locks (
    auction_id BIGINT NOT NULL,
    position BIGSERIAL,
    lock_id BIGINT NOT NULL,
    bidder TEXT NOT NULL,
    amount_micros BIGINT NOT NULL,
    locked_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (auction_id, position)
);
`

// NewPostgresStore connects to Postgres and ensures the table exists. ttl
// should be at least the auction window plus five minutes.
func NewPostgresStore(ctx context.Context, dsn string, ttl time.Duration) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createLocksTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Push(ctx context.Context, auctionID int64, lock BidLock) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO bid_locks (auction_id, lock_id, bidder, amount_micros, locked_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, auctionID, lock.LockID, lock.Bidder, int64(lock.AmountMicros), lock.LockedAt, time.Now().Add(p.ttl))
	return err
}

func (p *PostgresStore) ReadAll(ctx context.Context, auctionID int64) ([]BidLock, error) {
	rows, err := p.pool.Query(ctx, `
SELECT lock_id, bidder, amount_micros, locked_at
FROM bid_locks
WHERE auction_id = $1 AND expires_at > now()
ORDER BY position
`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLocks(rows, auctionID)
}

func (p *PostgresStore) Clear(ctx context.Context, auctionID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM bid_locks WHERE auction_id = $1`, auctionID)
	return err
}

// Drain reads and deletes the auction's locks in one transaction, so a
// concurrent drain of the same auction sees nothing.
func (p *PostgresStore) Drain(ctx context.Context, auctionID int64) ([]BidLock, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT lock_id, bidder, amount_micros, locked_at
FROM bid_locks
WHERE auction_id = $1 AND expires_at > now()
ORDER BY position
FOR UPDATE
`, auctionID)
	if err != nil {
		return nil, err
	}
	locks, err := scanLocks(rows, auctionID)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM bid_locks WHERE auction_id = $1`, auctionID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return locks, nil
}

func scanLocks(rows pgx.Rows, auctionID int64) ([]BidLock, error) {
	var out []BidLock
	for rows.Next() {
		var (
			lock   BidLock
			amount int64
		)
		if err := rows.Scan(&lock.LockID, &lock.Bidder, &amount, &lock.LockedAt); err != nil {
			return nil, err
		}
		lock.AuctionID = auctionID
		lock.AmountMicros = money.Micros(amount)
		lock.Status = StatusPending
		out = append(out, lock)
	}
	return out, rows.Err()
}
