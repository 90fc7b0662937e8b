package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/money"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/service"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// TransactionRepository provides data access for the transaction ledger using pgx.
type TransactionRepository struct {
	pool PoolInterface
}

// NewTransactionRepository creates a new TransactionRepository with the given pool.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// NewTransactionRepositoryWithPool creates a new TransactionRepository with a
// custom pool interface. This is primarily used for testing.
func NewTransactionRepositoryWithPool(pool PoolInterface) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// CreatePending inserts a new pending transaction into the ledger.
// Returns service.ErrDuplicateIntent if the intent_id already exists.
func (r *TransactionRepository) CreatePending(ctx context.Context, tx *model.Transaction) error {
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", tx.IntentID, err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO transactions (intent_id, user_id, amount_minor, currency, status, metadata)
		 VALUES ($1, $2, $3, $4, 'pending', $5)`,
		tx.IntentID, tx.UserID, tx.Amount.AmountMinor, string(tx.Amount.Currency), meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrDuplicateIntent
		}
		return fmt.Errorf("insert transaction %s: %w", tx.IntentID, err)
	}
	return nil
}

// ClaimForCompletion atomically transitions a transaction from pending to
// completed and returns the claimed row. This is a single conditional UPDATE
// guarded by the current status, so of N concurrent callers with the same
// intent_id exactly one gets the row back.
//
// Returns (nil, nil) when the row is already completed or does not exist:
// duplicate webhook deliveries are a no-op, not an error.
func (r *TransactionRepository) ClaimForCompletion(ctx context.Context, intentID string) (*model.Transaction, error) {
	query := `UPDATE transactions
	          SET status = 'completed', completed_at = now()
	          WHERE intent_id = $1 AND status = 'pending'
	          RETURNING intent_id, user_id, amount_minor, currency, metadata, created_at, completed_at`

	tx, err := scanTransactionRow(r.pool.QueryRow(ctx, query, intentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Already completed or unknown - let service treat as no-op
		}
		return nil, fmt.Errorf("claim transaction %s: %w", intentID, err)
	}
	tx.Status = model.TxCompleted
	return tx, nil
}

// MarkGranted records that the value grant for a completed transaction has
// been delivered. The reconciler uses the absence of granted_at to re-drive
// grants after a crash between claim and grant.
func (r *TransactionRepository) MarkGranted(ctx context.Context, intentID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET granted_at = now() WHERE intent_id = $1 AND status = 'completed'`,
		intentID)
	if err != nil {
		return fmt.Errorf("mark granted %s: %w", intentID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrTransactionNotFound
	}
	return nil
}

// ListUngranted returns completed transactions whose grant has not been
// recorded, oldest first. Only rows completed before the grace period are
// returned so the reconciler never races an in-flight completion.
func (r *TransactionRepository) ListUngranted(ctx context.Context, grace time.Duration, limit int) ([]*model.Transaction, error) {
	query := `SELECT intent_id, user_id, amount_minor, currency, metadata, created_at, completed_at
	          FROM transactions
	          WHERE status = 'completed' AND granted_at IS NULL AND completed_at < now() - $1::interval
	          ORDER BY completed_at
	          LIMIT $2`

	rows, err := r.pool.Query(ctx, query, grace.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list ungranted transactions: %w", err)
	}
	defer rows.Close()

	txs := []*model.Transaction{}
	for rows.Next() {
		tx, err := scanTransactionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ungranted transaction: %w", err)
		}
		tx.Status = model.TxCompleted
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ungranted transactions: %w", err)
	}
	return txs, nil
}

// Expire bulk-transitions stale pending transactions to expired and returns
// the number of rows touched. It never races ClaimForCompletion because it
// only touches rows already past the cutoff.
func (r *TransactionRepository) Expire(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET status = 'expired'
		 WHERE status = 'pending' AND created_at < now() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("expire stale transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByIntentID retrieves a transaction by its intent_id.
// Returns nil, nil if the transaction is not found (service layer handles this).
func (r *TransactionRepository) GetByIntentID(ctx context.Context, intentID string) (*model.Transaction, error) {
	query := `SELECT intent_id, user_id, amount_minor, currency, status, metadata, created_at, completed_at, granted_at
	          FROM transactions WHERE intent_id = $1`

	var (
		tx       model.Transaction
		amount   int64
		currency string
		status   string
		meta     []byte
	)
	err := r.pool.QueryRow(ctx, query, intentID).Scan(
		&tx.IntentID, &tx.UserID, &amount, &currency, &status, &meta,
		&tx.CreatedAt, &tx.CompletedAt, &tx.GrantedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction %s: %w", intentID, err)
	}
	tx.Amount = money.New(amount, money.Currency(currency))
	tx.Status = model.TxStatus(status)
	if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", intentID, err)
	}
	return &tx, nil
}

// scanTransactionRow scans the common claim/list column set into a Transaction.
func scanTransactionRow(row pgx.Row) (*model.Transaction, error) {
	var (
		tx       model.Transaction
		amount   int64
		currency string
		meta     []byte
	)
	err := row.Scan(&tx.IntentID, &tx.UserID, &amount, &currency, &meta, &tx.CreatedAt, &tx.CompletedAt)
	if err != nil {
		return nil, err
	}
	tx.Amount = money.New(amount, money.Currency(currency))
	if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", tx.IntentID, err)
	}
	return &tx, nil
}
