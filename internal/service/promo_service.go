package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/money"
	"github.com/CyberERROR/remnawave-shopbot-sub000/pkg/database"
)

// PromoRepositoryInterface defines the interface for promo ledger access.
type PromoRepositoryInterface interface {
	Insert(ctx context.Context, promo *model.PromoCode) error
	GetByCode(ctx context.Context, code string) (*model.PromoCode, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.PromoCode, error)
	CountUserRedemptions(ctx context.Context, tx database.TxQuerier, code string, userID int64) (int, error)
	InsertRedemption(ctx context.Context, tx database.TxQuerier, red *model.PromoRedemption) error
	ConsumeUsage(ctx context.Context, tx database.TxQuerier, code string) (*model.RedemptionSnapshot, error)
	SetActive(ctx context.Context, code string, active bool) error
	ListRedeemers(ctx context.Context, code string) ([]int64, error)
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UnavailableReason names why a promo code cannot be applied.
type UnavailableReason string

const (
	ReasonNotFound          UnavailableReason = "NotFound"
	ReasonInactive          UnavailableReason = "Inactive"
	ReasonOutOfWindow       UnavailableReason = "OutOfWindow"
	ReasonTotalLimitReached UnavailableReason = "TotalLimitReached"
	ReasonUserLimitReached  UnavailableReason = "UserLimitReached"
)

// Availability is the read-only eligibility verdict for a (code, user) pair.
type Availability struct {
	Available bool              `json:"available"`
	Reason    UnavailableReason `json:"reason,omitempty"`
	Discount  *model.PromoCode  `json:"-"`
}

// PromoService provides business logic for promo code operations: admin
// lifecycle, UI-time availability checks, and the atomic redemption path.
type PromoService struct {
	pool      TxBeginner
	promoRepo PromoRepositoryInterface
	now       func() time.Time
}

// NewPromoService creates a new PromoService with the given pool and repository.
func NewPromoService(pool *pgxpool.Pool, promoRepo PromoRepositoryInterface) *PromoService {
	return &PromoService{pool: pool, promoRepo: promoRepo, now: time.Now}
}

// NewPromoServiceWithTxBeginner creates a PromoService with a custom TxBeginner.
// Primarily used for testing.
func NewPromoServiceWithTxBeginner(pool TxBeginner, promoRepo PromoRepositoryInterface) *PromoService {
	return &PromoService{pool: pool, promoRepo: promoRepo, now: time.Now}
}

// Create creates a new promo code from the request.
// Returns ErrPromoExists if a code with the same name already exists.
// Returns ErrInvalidRequest if request data is nil or incomplete.
func (s *PromoService) Create(ctx context.Context, req *model.CreatePromoRequest) (*model.PromoCode, error) {
	// Defense-in-depth: check for nil pointer even though handler validates
	if req == nil || req.DiscountValue == nil {
		return nil, ErrInvalidRequest
	}

	kind := model.DiscountKind(req.DiscountKind)
	if kind == model.DiscountPercent && *req.DiscountValue > 100 {
		return nil, ErrInvalidRequest
	}

	validFrom := s.now().UTC()
	if req.ValidFrom != nil {
		validFrom = req.ValidFrom.UTC()
	}

	promo := &model.PromoCode{
		Code:              model.NormalizePromoCode(req.Code),
		DiscountKind:      kind,
		DiscountValue:     *req.DiscountValue,
		UsageLimitTotal:   req.UsageLimitTotal,
		UsageLimitPerUser: req.UsageLimitPerUser,
		ValidFrom:         validFrom,
		ValidUntil:        req.ValidUntil,
		IsActive:          true,
	}
	if err := s.promoRepo.Insert(ctx, promo); err != nil {
		return nil, err
	}
	return promo, nil
}

// CheckAvailability evaluates all eligibility conditions for a (code, user)
// pair without writing anything. It is used for UI-time validation before a
// purchase starts; Redeem re-validates everything at write time.
func (s *PromoService) CheckAvailability(ctx context.Context, code string, userID int64) (*Availability, error) {
	code = model.NormalizePromoCode(code)

	promo, err := s.promoRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	if promo == nil {
		return &Availability{Reason: ReasonNotFound}, nil
	}

	if reason, ok := s.eligible(promo); !ok {
		return &Availability{Reason: reason}, nil
	}

	if promo.UsageLimitPerUser != nil {
		// Advisory count only: the redemption transaction repeats this
		// check under the row lock.
		users, err := s.promoRepo.ListRedeemers(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("list redeemers: %w", err)
		}
		var used int
		for _, u := range users {
			if u == userID {
				used++
			}
		}
		if used >= *promo.UsageLimitPerUser {
			return &Availability{Reason: ReasonUserLimitReached}, nil
		}
	}

	return &Availability{Available: true, Discount: promo}, nil
}

// eligible checks the conditions that do not depend on the caller: active
// flag, validity window, global limit. The window is inclusive at both ends.
func (s *PromoService) eligible(promo *model.PromoCode) (UnavailableReason, bool) {
	if !promo.IsActive {
		return ReasonInactive, false
	}
	now := s.now().UTC()
	if now.Before(promo.ValidFrom) {
		return ReasonOutOfWindow, false
	}
	if promo.ValidUntil != nil && now.After(*promo.ValidUntil) {
		return ReasonOutOfWindow, false
	}
	if promo.UsageLimitTotal != nil && promo.UsedTotal >= *promo.UsageLimitTotal {
		return ReasonTotalLimitReached, false
	}
	return "", true
}

// Redeem atomically applies a promo code to a completed payment.
// All conditions are re-validated under a SELECT FOR UPDATE row lock so two
// concurrent redemptions cannot both commit past a limit. The redemption
// insert is keyed by (code, intent_id); a duplicate is idempotent and
// returns the current usage snapshot.
// Returns:
//   - ErrPromoNotFound / ErrPromoInactive / ErrPromoOutOfWindow /
//     ErrPromoTotalLimit / ErrPromoUserLimit when conditions no longer hold
func (s *PromoService) Redeem(ctx context.Context, code string, userID int64, applied money.Money, intentID string) (*model.RedemptionSnapshot, error) {
	code = model.NormalizePromoCode(code)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the promo row (SELECT FOR UPDATE)
	promo, err := s.promoRepo.GetForUpdate(ctx, tx, code)
	if err != nil {
		if errors.Is(err, ErrPromoNotFound) {
			return nil, ErrPromoNotFound
		}
		return nil, fmt.Errorf("get promo for update: %w", err)
	}

	// 2. Re-validate window, active flag, and the global limit
	if reason, ok := s.eligible(promo); !ok {
		return nil, reasonErr(reason)
	}

	// 3. Per-user limit, counted inside the same transaction
	if promo.UsageLimitPerUser != nil {
		used, err := s.promoRepo.CountUserRedemptions(ctx, tx, code, userID)
		if err != nil {
			return nil, fmt.Errorf("count user redemptions: %w", err)
		}
		if used >= *promo.UsageLimitPerUser {
			return nil, ErrPromoUserLimit
		}
	}

	// 4. Insert redemption ((code, intent_id) unique catches duplicates)
	red := &model.PromoRedemption{
		Code:          code,
		IntentID:      intentID,
		UserID:        userID,
		AppliedAmount: applied,
	}
	if err := s.promoRepo.InsertRedemption(ctx, tx, red); err != nil {
		if errors.Is(err, ErrAlreadyRedeemed) {
			// This payment already counted; report current state unchanged.
			return &model.RedemptionSnapshot{
				Code:      code,
				UsedTotal: promo.UsedTotal,
				IsActive:  promo.IsActive,
			}, nil
		}
		return nil, fmt.Errorf("insert redemption: %w", err)
	}

	// 5. Increment used_total, auto-retiring at the limit in the same statement
	snap, err := s.promoRepo.ConsumeUsage(ctx, tx, code)
	if err != nil {
		return nil, fmt.Errorf("consume usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit redemption: %w", err)
	}
	return snap, nil
}

// Deactivate manually retires a promo code.
func (s *PromoService) Deactivate(ctx context.Context, code string) error {
	return s.promoRepo.SetActive(ctx, model.NormalizePromoCode(code), false)
}

// Status retrieves a promo code with its redeemer list.
// Returns ErrPromoNotFound if the code doesn't exist.
func (s *PromoService) Status(ctx context.Context, code string) (*model.PromoStatusResponse, error) {
	code = model.NormalizePromoCode(code)

	promo, err := s.promoRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	if promo == nil {
		return nil, ErrPromoNotFound
	}

	redeemers, err := s.promoRepo.ListRedeemers(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("list redeemers: %w", err)
	}

	return &model.PromoStatusResponse{
		Code:              promo.Code,
		DiscountKind:      string(promo.DiscountKind),
		DiscountValue:     promo.DiscountValue,
		UsageLimitTotal:   promo.UsageLimitTotal,
		UsageLimitPerUser: promo.UsageLimitPerUser,
		UsedTotal:         promo.UsedTotal,
		ValidFrom:         promo.ValidFrom,
		ValidUntil:        promo.ValidUntil,
		IsActive:          promo.IsActive,
		RedeemedBy:        redeemers,
	}, nil
}

func reasonErr(reason UnavailableReason) error {
	switch reason {
	case ReasonInactive:
		return ErrPromoInactive
	case ReasonOutOfWindow:
		return ErrPromoOutOfWindow
	case ReasonTotalLimitReached:
		return ErrPromoTotalLimit
	case ReasonUserLimitReached:
		return ErrPromoUserLimit
	}
	return ErrPromoNotFound
}
