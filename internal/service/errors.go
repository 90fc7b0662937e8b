package service

import "errors"

var (
	// ErrDuplicateIntent is returned when an invoice is created with an intent_id
	// that already exists. Callers treat this as "already issued", not a failure.
	ErrDuplicateIntent = errors.New("payment intent already exists")

	// ErrTransactionNotFound is returned when a transaction cannot be found
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPromoExists is returned when attempting to create a promo code that already exists
	ErrPromoExists = errors.New("promo code already exists")

	// ErrPromoNotFound is returned when a promo code cannot be found
	ErrPromoNotFound = errors.New("promo code not found")

	// ErrPromoInactive is returned when a promo code has been deactivated or retired
	ErrPromoInactive = errors.New("promo code is not active")

	// ErrPromoOutOfWindow is returned when a promo code is outside its validity window
	ErrPromoOutOfWindow = errors.New("promo code is outside its validity window")

	// ErrPromoTotalLimit is returned when a promo code has exhausted its global usage limit
	ErrPromoTotalLimit = errors.New("promo code total usage limit reached")

	// ErrPromoUserLimit is returned when a user has exhausted their per-user limit for a code
	ErrPromoUserLimit = errors.New("promo code per-user limit reached")

	// ErrAlreadyRedeemed is returned when a (code, intent_id) redemption already
	// exists. The redemption path treats this as idempotent success.
	ErrAlreadyRedeemed = errors.New("promo code already redeemed for this payment")
)

// IsPromoUnavailable reports whether err is one of the expected
// promo-eligibility outcomes, as opposed to a storage failure.
func IsPromoUnavailable(err error) bool {
	return errors.Is(err, ErrPromoNotFound) ||
		errors.Is(err, ErrPromoInactive) ||
		errors.Is(err, ErrPromoOutOfWindow) ||
		errors.Is(err, ErrPromoTotalLimit) ||
		errors.Is(err, ErrPromoUserLimit)
}
