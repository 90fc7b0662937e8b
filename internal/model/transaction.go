package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/money"
)

// TxStatus is the lifecycle state of a payment transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxExpired   TxStatus = "expired"
)

// Action describes what a payment purchases.
type Action string

const (
	ActionTopup    Action = "topup"    // balance credit
	ActionPurchase Action = "purchase" // new access key
	ActionExtend   Action = "extend"   // extend an existing key
)

// PurchaseMetadata describes what a pending transaction pays for. It is
// created at invoice time and carried opaquely through the ledger until the
// completion service hands it to the grant executor.
type PurchaseMetadata struct {
	Action        Action            `json:"action"`
	PlanID        string            `json:"plan_id,omitempty"`
	Host          string            `json:"host,omitempty"`
	KeyRef        string            `json:"key_ref,omitempty"`
	PromoCode     string            `json:"promo_code,omitempty"`
	DiscountMinor int64             `json:"discount_minor,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"` // provider-specific extras
}

// Transaction is a row in the transaction ledger: one payment intent and its
// lifecycle state. The ledger is the single source of truth for whether a
// payment has already been applied.
type Transaction struct {
	IntentID    string           `json:"intent_id"`
	UserID      int64            `json:"user_id"`
	Amount      money.Money      `json:"amount"`
	Status      TxStatus         `json:"status"`
	Metadata    PurchaseMetadata `json:"metadata"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	GrantedAt   *time.Time       `json:"granted_at,omitempty"`
}

// NewIntentID generates a provider-agnostic payment intent identifier.
// ULIDs sort by creation time, which keeps the ledger index friendly.
func NewIntentID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// CreateInvoiceRequest is the DTO for issuing a new payment intent.
type CreateInvoiceRequest struct {
	IntentID      string            `json:"intent_id" validate:"omitempty,max=64"`
	UserID        int64             `json:"user_id" validate:"required,gt=0"`
	AmountMinor   int64             `json:"amount_minor" validate:"required,gt=0"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	Action        string            `json:"action" validate:"required,oneof=topup purchase extend"`
	PlanID        string            `json:"plan_id" validate:"omitempty,max=64"`
	Host          string            `json:"host" validate:"omitempty,max=255"`
	KeyRef        string            `json:"key_ref" validate:"omitempty,max=255"`
	PromoCode     string            `json:"promo_code" validate:"omitempty,max=64"`
	DiscountMinor int64             `json:"discount_minor" validate:"omitempty,gte=0"`
	Extra         map[string]string `json:"extra"`
}

// InvoiceResponse is returned after a pending transaction is created.
type InvoiceResponse struct {
	IntentID string      `json:"intent_id"`
	Amount   money.Money `json:"amount"`
	Status   TxStatus    `json:"status"`
}
