// Package grant delivers purchased value once a payment has been claimed:
// balance top-ups, new access keys, and key extensions.
package grant

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
)

// Result describes the outcome of a delivered grant.
type Result struct {
	Detail string `json:"detail"`
	KeyRef string `json:"key_ref,omitempty"`
}

// Granter delivers the value a completed transaction paid for. It is invoked
// at most once per completed transaction by the completion service, and may
// be re-driven by the reconciler if a crash interrupted the first attempt.
type Granter interface {
	GrantPurchase(ctx context.Context, tx *model.Transaction) (*Result, error)
}

// Executor routes a grant to the right backend based on the purchase action.
type Executor struct {
	keys    KeyProvisioner
	balance BalanceCreditor
}

// KeyProvisioner creates and extends access keys on the panel.
type KeyProvisioner interface {
	CreateKey(ctx context.Context, userID int64, planID, host string) (keyRef string, err error)
	ExtendKey(ctx context.Context, keyRef, planID string) error
}

// BalanceCreditor credits a user's balance.
type BalanceCreditor interface {
	Credit(ctx context.Context, userID int64, amountMinor int64, currency string) (newBalance int64, err error)
}

// NewExecutor creates an Executor with the given backends.
func NewExecutor(keys KeyProvisioner, balance BalanceCreditor) *Executor {
	return &Executor{keys: keys, balance: balance}
}

// GrantPurchase delivers the purchased value for a claimed transaction.
func (e *Executor) GrantPurchase(ctx context.Context, tx *model.Transaction) (*Result, error) {
	switch tx.Metadata.Action {
	case model.ActionTopup:
		balance, err := e.balance.Credit(ctx, tx.UserID, tx.Amount.AmountMinor, string(tx.Amount.Currency))
		if err != nil {
			return nil, fmt.Errorf("credit balance for %s: %w", tx.IntentID, err)
		}
		log.Info().
			Str("intent_id", tx.IntentID).
			Int64("user_id", tx.UserID).
			Int64("amount_minor", tx.Amount.AmountMinor).
			Int64("new_balance", balance).
			Msg("balance credited")
		return &Result{Detail: "balance credited"}, nil

	case model.ActionPurchase:
		keyRef, err := e.keys.CreateKey(ctx, tx.UserID, tx.Metadata.PlanID, tx.Metadata.Host)
		if err != nil {
			return nil, fmt.Errorf("create key for %s: %w", tx.IntentID, err)
		}
		log.Info().
			Str("intent_id", tx.IntentID).
			Int64("user_id", tx.UserID).
			Str("plan_id", tx.Metadata.PlanID).
			Str("key_ref", keyRef).
			Msg("access key created")
		return &Result{Detail: "key created", KeyRef: keyRef}, nil

	case model.ActionExtend:
		if tx.Metadata.KeyRef == "" {
			return nil, fmt.Errorf("extend grant for %s: metadata has no key_ref", tx.IntentID)
		}
		if err := e.keys.ExtendKey(ctx, tx.Metadata.KeyRef, tx.Metadata.PlanID); err != nil {
			return nil, fmt.Errorf("extend key for %s: %w", tx.IntentID, err)
		}
		log.Info().
			Str("intent_id", tx.IntentID).
			Int64("user_id", tx.UserID).
			Str("key_ref", tx.Metadata.KeyRef).
			Msg("access key extended")
		return &Result{Detail: "key extended", KeyRef: tx.Metadata.KeyRef}, nil
	}

	return nil, fmt.Errorf("grant for %s: unknown action %q", tx.IntentID, tx.Metadata.Action)
}
