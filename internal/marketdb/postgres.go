package marketdb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidrails/internal/money"
)

// PostgresStore implements both AuctionStore and LedgerStore against the
// marketplace database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createMarketTablesSQL = `
CREATE TABLE IF NOT EXISTS auctions (
    id BIGINT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'IN_AUCTION',
    seller TEXT NOT NULL,
    reserve_micros BIGINT NOT NULL DEFAULT 0,
    deadline TIMESTAMPTZ NOT NULL,
    winner TEXT,
    winning_micros BIGINT,
    settle_tx TEXT,
    settled_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS ledger_cache (
    owner TEXT PRIMARY KEY,
    balance_micros BIGINT NOT NULL DEFAULT 0,
    locked_micros BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createMarketTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) FindExpiredUnprocessed(ctx context.Context, skip []int64) (*Auction, error) {
	if skip == nil {
		skip = []int64{}
	}
	row := p.pool.QueryRow(ctx, `
SELECT id, status, seller, reserve_micros, deadline
FROM auctions
WHERE status = 'IN_AUCTION' AND deadline <= now() AND NOT (id = ANY($1))
ORDER BY deadline
LIMIT 1
`, skip)

	var (
		a       Auction
		status  string
		reserve int64
	)
	if err := row.Scan(&a.ID, &status, &a.Seller, &reserve, &a.Deadline); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Status = AuctionStatus(status)
	a.ReserveMicros = money.Micros(reserve)
	return &a, nil
}

func (p *PostgresStore) MarkSettled(ctx context.Context, id int64, winner string, amount money.Micros, txHash string) error {
	_, err := p.pool.Exec(ctx, `
UPDATE auctions
SET status = 'SOLD', winner = $2, winning_micros = $3, settle_tx = $4, settled_at = now()
WHERE id = $1 AND status = 'IN_AUCTION'
`, id, winner, int64(amount), txHash)
	return err
}

func (p *PostgresStore) MarkUnsold(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `
UPDATE auctions
SET status = 'UNSOLD', settled_at = now()
WHERE id = $1 AND status = 'IN_AUCTION'
`, id)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, owner string) (*LedgerEntry, error) {
	row := p.pool.QueryRow(ctx, `
SELECT owner, balance_micros, locked_micros
FROM ledger_cache
WHERE owner = $1
`, owner)

	var (
		e               LedgerEntry
		balance, locked int64
	)
	if err := row.Scan(&e.Owner, &balance, &locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.BalanceMicros = money.Micros(balance)
	e.LockedMicros = money.Micros(locked)
	return &e, nil
}

func (p *PostgresStore) SetBalance(ctx context.Context, owner string, balance money.Micros) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO ledger_cache (owner, balance_micros, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (owner) DO UPDATE
SET balance_micros = EXCLUDED.balance_micros,
    updated_at = now()
`, owner, int64(balance))
	return err
}

func (p *PostgresStore) ListFunded(ctx context.Context) ([]LedgerEntry, error) {
	rows, err := p.pool.Query(ctx, `
SELECT owner, balance_micros, locked_micros
FROM ledger_cache
WHERE balance_micros <> 0
ORDER BY owner
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e               LedgerEntry
			balance, locked int64
		)
		if err := rows.Scan(&e.Owner, &balance, &locked); err != nil {
			return nil, err
		}
		e.BalanceMicros = money.Micros(balance)
		e.LockedMicros = money.Micros(locked)
		out = append(out, e)
	}
	return out, rows.Err()
}
