package model

import (
	"strings"
	"time"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/money"
)

// DiscountKind selects how a promo code's discount_value is interpreted.
type DiscountKind string

const (
	DiscountPercent DiscountKind = "percent" // discount_value is a percentage (1..100)
	DiscountFixed   DiscountKind = "fixed"   // discount_value is a fixed amount in minor units
)

// PromoCode is a row in the promo code ledger. Usage counters are mutated
// only through the redemption transaction, never by direct field writes.
type PromoCode struct {
	Code              string       `json:"code"`
	DiscountKind      DiscountKind `json:"discount_kind"`
	DiscountValue     int64        `json:"discount_value"`
	UsageLimitTotal   *int         `json:"usage_limit_total,omitempty"`    // nil = unlimited
	UsageLimitPerUser *int         `json:"usage_limit_per_user,omitempty"` // nil = unlimited
	UsedTotal         int          `json:"used_total"`
	ValidFrom         time.Time    `json:"valid_from"`
	ValidUntil        *time.Time   `json:"valid_until,omitempty"` // nil = no expiry
	IsActive          bool         `json:"is_active"`
	CreatedAt         time.Time    `json:"-"`
}

// Discount computes the discount this code yields on the given amount.
// Percent codes round to the nearest minor unit; fixed codes are capped at
// the amount itself.
func (p *PromoCode) Discount(amount money.Money) money.Money {
	switch p.DiscountKind {
	case DiscountPercent:
		return amount.Percentage(p.DiscountValue * 100)
	case DiscountFixed:
		if p.DiscountValue > amount.AmountMinor {
			return amount
		}
		return money.New(p.DiscountValue, amount.Currency)
	}
	return money.Zero(amount.Currency)
}

// PromoRedemption records one successful application of a promo code to one
// completed payment. The (code, intent_id) pair is unique, which prevents
// double-counting the same payment.
type PromoRedemption struct {
	Code          string      `json:"code"`
	IntentID      string      `json:"intent_id"`
	UserID        int64       `json:"user_id"`
	AppliedAmount money.Money `json:"applied_amount"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NormalizePromoCode case-normalizes a user-supplied code.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreatePromoRequest is the DTO for creating a promo code.
type CreatePromoRequest struct {
	Code              string     `json:"code" validate:"required,notblank,max=64"`
	DiscountKind      string     `json:"discount_kind" validate:"required,oneof=percent fixed"`
	DiscountValue     *int64     `json:"discount_value" validate:"required,gt=0"`
	UsageLimitTotal   *int       `json:"usage_limit_total" validate:"omitempty,gte=1"`
	UsageLimitPerUser *int       `json:"usage_limit_per_user" validate:"omitempty,gte=1"`
	ValidFrom         *time.Time `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until"`
}

// PromoStatusResponse is the API response for GET /api/promos/:code.
type PromoStatusResponse struct {
	Code              string     `json:"code"`
	DiscountKind      string     `json:"discount_kind"`
	DiscountValue     int64      `json:"discount_value"`
	UsageLimitTotal   *int       `json:"usage_limit_total,omitempty"`
	UsageLimitPerUser *int       `json:"usage_limit_per_user,omitempty"`
	UsedTotal         int        `json:"used_total"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	IsActive          bool       `json:"is_active"`
	RedeemedBy        []int64    `json:"redeemed_by"`
}

// RedemptionSnapshot is the usage state of a promo code right after a
// redemption committed.
type RedemptionSnapshot struct {
	Code      string `json:"code"`
	UsedTotal int    `json:"used_total"`
	IsActive  bool   `json:"is_active"`
}
