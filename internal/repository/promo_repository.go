package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/service"
	"github.com/CyberERROR/remnawave-shopbot-sub000/pkg/database"
)

// PromoRepository provides data access for promo codes and redemptions using pgx.
type PromoRepository struct {
	pool PoolInterface
}

// NewPromoRepository creates a new PromoRepository with the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// NewPromoRepositoryWithPool creates a new PromoRepository with a custom pool
// interface. This is primarily used for testing.
func NewPromoRepositoryWithPool(pool PoolInterface) *PromoRepository {
	return &PromoRepository{pool: pool}
}

const promoColumns = `code, discount_kind, discount_value, usage_limit_total, usage_limit_per_user,
	used_total, valid_from, valid_until, is_active, created_at`

// Insert inserts a new promo code.
// Returns service.ErrPromoExists if a code with the same name already exists.
func (r *PromoRepository) Insert(ctx context.Context, promo *model.PromoCode) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO promo_codes (code, discount_kind, discount_value, usage_limit_total,
		                          usage_limit_per_user, valid_from, valid_until, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, true)`,
		promo.Code, string(promo.DiscountKind), promo.DiscountValue,
		promo.UsageLimitTotal, promo.UsageLimitPerUser, promo.ValidFrom, promo.ValidUntil)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrPromoExists
		}
		return fmt.Errorf("insert promo code: %w", err)
	}
	return nil
}

// GetByCode retrieves a promo code by its case-normalized code.
// Returns nil, nil if the code is not found (service layer handles this).
func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*model.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`

	promo, err := scanPromoRow(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get promo code %s: %w", code, err)
	}
	return promo, nil
}

// GetForUpdate retrieves a promo code with a row lock (SELECT FOR UPDATE).
// This locks the row until the transaction completes, serializing concurrent
// redemptions of the same code.
// Returns service.ErrPromoNotFound if the code doesn't exist.
func (r *PromoRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1 FOR UPDATE`

	promo, err := scanPromoRow(tx.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrPromoNotFound
		}
		return nil, fmt.Errorf("get promo code for update %s: %w", code, err)
	}
	return promo, nil
}

// CountUserRedemptions counts the redemptions of a code by one user. Called
// inside the redemption transaction so the per-user limit check and the
// insert commit together.
func (r *PromoRepository) CountUserRedemptions(ctx context.Context, tx database.TxQuerier, code string, userID int64) (int, error) {
	var count int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM promo_redemptions WHERE code = $1 AND user_id = $2`,
		code, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count redemptions for %s by user %d: %w", code, userID, err)
	}
	return count, nil
}

// InsertRedemption inserts a redemption record within a transaction.
// Returns service.ErrAlreadyRedeemed if this payment already redeemed the code.
func (r *PromoRepository) InsertRedemption(ctx context.Context, tx database.TxQuerier, red *model.PromoRedemption) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO promo_redemptions (code, intent_id, user_id, applied_minor, currency)
		 VALUES ($1, $2, $3, $4, $5)`,
		red.Code, red.IntentID, red.UserID, red.AppliedAmount.AmountMinor, string(red.AppliedAmount.Currency))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrAlreadyRedeemed
		}
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// ConsumeUsage increments used_total by 1 and auto-retires the code in the
// same statement once the global limit is reached. Must be called within a
// transaction after locking the row.
func (r *PromoRepository) ConsumeUsage(ctx context.Context, tx database.TxQuerier, code string) (*model.RedemptionSnapshot, error) {
	query := `UPDATE promo_codes
	          SET used_total = used_total + 1,
	              is_active = CASE
	                  WHEN usage_limit_total IS NOT NULL AND used_total + 1 >= usage_limit_total THEN false
	                  ELSE is_active
	              END
	          WHERE code = $1
	          RETURNING used_total, is_active`

	snap := model.RedemptionSnapshot{Code: code}
	err := tx.QueryRow(ctx, query, code).Scan(&snap.UsedTotal, &snap.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrPromoNotFound
		}
		return nil, fmt.Errorf("consume usage for %s: %w", code, err)
	}
	return &snap, nil
}

// SetActive flips a promo code's is_active flag (manual admin retirement or
// reactivation).
// Returns service.ErrPromoNotFound if the code doesn't exist.
func (r *PromoRepository) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE promo_codes SET is_active = $2 WHERE code = $1`, code, active)
	if err != nil {
		return fmt.Errorf("set promo %s active=%t: %w", code, active, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrPromoNotFound
	}
	return nil
}

// ListRedeemers retrieves all user IDs who have redeemed a specific code.
// On success, returns an empty slice (not nil) when no redemptions exist.
func (r *PromoRepository) ListRedeemers(ctx context.Context, code string) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM promo_redemptions WHERE code = $1 ORDER BY created_at`, code)
	if err != nil {
		return nil, fmt.Errorf("get redemptions for code %s: %w", code, err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan redemption user_id: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemption rows: %w", err)
	}

	// Return empty slice, not nil
	if users == nil {
		users = []int64{}
	}
	return users, nil
}

func scanPromoRow(row pgx.Row) (*model.PromoCode, error) {
	var (
		promo model.PromoCode
		kind  string
	)
	err := row.Scan(
		&promo.Code, &kind, &promo.DiscountValue,
		&promo.UsageLimitTotal, &promo.UsageLimitPerUser, &promo.UsedTotal,
		&promo.ValidFrom, &promo.ValidUntil, &promo.IsActive, &promo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	promo.DiscountKind = model.DiscountKind(kind)
	return &promo, nil
}
