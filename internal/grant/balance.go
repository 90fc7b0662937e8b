package grant

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BalancePoolInterface defines the database operations needed by PgBalance.
type BalancePoolInterface interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgBalance credits user balances with a single UPSERT increment. The
// increment is one statement, so concurrent credits to the same user
// serialize on the row without an explicit transaction.
type PgBalance struct {
	pool BalancePoolInterface
}

// NewPgBalance creates a PgBalance backed by the given pool.
func NewPgBalance(pool *pgxpool.Pool) *PgBalance {
	return &PgBalance{pool: pool}
}

// NewPgBalanceWithPool creates a PgBalance with a custom pool interface.
// This is primarily used for testing.
func NewPgBalanceWithPool(pool BalancePoolInterface) *PgBalance {
	return &PgBalance{pool: pool}
}

// Credit adds amountMinor to a user's balance and returns the new balance.
func (b *PgBalance) Credit(ctx context.Context, userID int64, amountMinor int64, currency string) (int64, error) {
	query := `INSERT INTO balances (user_id, amount_minor, currency)
	          VALUES ($1, $2, $3)
	          ON CONFLICT (user_id)
	          DO UPDATE SET amount_minor = balances.amount_minor + EXCLUDED.amount_minor,
	                        updated_at = now()
	          RETURNING amount_minor`

	var balance int64
	if err := b.pool.QueryRow(ctx, query, userID, amountMinor, currency).Scan(&balance); err != nil {
		return 0, fmt.Errorf("credit balance for user %d: %w", userID, err)
	}
	return balance, nil
}
