package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/grant"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/money"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/notify"
)

// TransactionRepositoryInterface defines the interface for transaction ledger access.
type TransactionRepositoryInterface interface {
	CreatePending(ctx context.Context, tx *model.Transaction) error
	ClaimForCompletion(ctx context.Context, intentID string) (*model.Transaction, error)
	MarkGranted(ctx context.Context, intentID string) error
	ListUngranted(ctx context.Context, grace time.Duration, limit int) ([]*model.Transaction, error)
	Expire(ctx context.Context, olderThan time.Duration) (int64, error)
	GetByIntentID(ctx context.Context, intentID string) (*model.Transaction, error)
}

// PromoRedeemer is the slice of PromoService the completion path needs.
type PromoRedeemer interface {
	Redeem(ctx context.Context, code string, userID int64, applied money.Money, intentID string) (*model.RedemptionSnapshot, error)
}

// CompletionResult is the outcome of processing a "paid" signal.
type CompletionResult struct {
	AlreadyProcessed bool
	Transaction      *model.Transaction
	Grant            *grant.Result
}

// PaymentService turns a verified "paid" signal into exactly one value grant.
// The atomic ledger claim is the only synchronization point; everything after
// the claim runs at most once per intent_id.
type PaymentService struct {
	txRepo   TransactionRepositoryInterface
	granter  grant.Granter
	promo    PromoRedeemer
	notifier notify.Notifier
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(txRepo TransactionRepositoryInterface, granter grant.Granter, promo PromoRedeemer, notifier notify.Notifier) *PaymentService {
	return &PaymentService{
		txRepo:   txRepo,
		granter:  granter,
		promo:    promo,
		notifier: notifier,
	}
}

// CreateInvoice stores a new pending transaction for an issued invoice.
// An empty IntentID gets a generated one. Returns ErrDuplicateIntent when
// the intent already exists; the invoice-creation flow treats this as
// already-issued.
func (s *PaymentService) CreateInvoice(ctx context.Context, req *model.CreateInvoiceRequest) (*model.Transaction, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}

	intentID := req.IntentID
	if intentID == "" {
		intentID = model.NewIntentID()
	}

	tx := &model.Transaction{
		IntentID: intentID,
		UserID:   req.UserID,
		Amount:   money.New(req.AmountMinor, money.Currency(req.Currency)),
		Status:   model.TxPending,
		Metadata: model.PurchaseMetadata{
			Action: model.Action(req.Action),
			PlanID: req.PlanID,
			Host:   req.Host,
			KeyRef: req.KeyRef,
			// Discount is priced into the invoice amount at issue time; the
			// metadata remembers the code and how much was taken off so the
			// redemption can be recorded after completion.
			PromoCode:     model.NormalizePromoCode(req.PromoCode),
			DiscountMinor: req.DiscountMinor,
			Extra:         req.Extra,
		},
	}

	if err := s.txRepo.CreatePending(ctx, tx); err != nil {
		return nil, err
	}

	log.Info().
		Str("intent_id", tx.IntentID).
		Int64("user_id", tx.UserID).
		Int64("amount_minor", tx.Amount.AmountMinor).
		Str("action", string(tx.Metadata.Action)).
		Msg("invoice created")
	return tx, nil
}

// Complete consumes a verified "paid" signal for an intent. It atomically
// claims the ledger row; the first caller wins and triggers the value grant,
// any duplicate delivery observes a no-op and reports AlreadyProcessed.
// Callers must treat AlreadyProcessed identically to success so the provider
// stops retrying. Only storage failures return an error.
func (s *PaymentService) Complete(ctx context.Context, intentID string) (*CompletionResult, error) {
	claimed, err := s.txRepo.ClaimForCompletion(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", intentID, err)
	}
	if claimed == nil {
		log.Info().Str("intent_id", intentID).Msg("payment already processed or unknown")
		return &CompletionResult{AlreadyProcessed: true}, nil
	}

	log.Info().
		Str("intent_id", claimed.IntentID).
		Int64("user_id", claimed.UserID).
		Int64("amount_minor", claimed.Amount.AmountMinor).
		Str("action", string(claimed.Metadata.Action)).
		Msg("payment claimed")

	result := &CompletionResult{Transaction: claimed}
	result.Grant = s.deliverGrant(ctx, claimed)

	// Best-effort bookkeeping: the discount was already priced in at purchase
	// time, so an ineligible code never blocks the money already collected.
	if code := claimed.Metadata.PromoCode; code != "" {
		s.recordRedemption(ctx, claimed, code)
	}

	s.announce(ctx, claimed, result.Grant)
	return result, nil
}

// deliverGrant runs the value grant and records the granted sub-state. A
// failed grant leaves granted_at unset so the reconciler re-drives it; the
// claim stands either way, since a provider redelivery would no-op anyway.
func (s *PaymentService) deliverGrant(ctx context.Context, tx *model.Transaction) *grant.Result {
	res, err := s.granter.GrantPurchase(ctx, tx)
	if err != nil {
		log.Error().
			Err(err).
			Str("intent_id", tx.IntentID).
			Int64("user_id", tx.UserID).
			Msg("value grant failed, leaving for reconciler")
		if nerr := s.notifier.NotifyAdmins(ctx, fmt.Sprintf("grant failed for payment %s: %v", tx.IntentID, err)); nerr != nil {
			log.Error().Err(nerr).Str("intent_id", tx.IntentID).Msg("admin notification failed")
		}
		return nil
	}

	if err := s.txRepo.MarkGranted(ctx, tx.IntentID); err != nil {
		// Grant landed but the flag write failed; the reconciler will retry
		// the grant, which the executors tolerate.
		log.Error().Err(err).Str("intent_id", tx.IntentID).Msg("failed to mark granted")
	}
	return res
}

func (s *PaymentService) recordRedemption(ctx context.Context, tx *model.Transaction, code string) {
	applied := money.New(tx.Metadata.DiscountMinor, tx.Amount.Currency)
	snap, err := s.promo.Redeem(ctx, code, tx.UserID, applied, tx.IntentID)
	if err != nil {
		if IsPromoUnavailable(err) {
			log.Warn().
				Str("intent_id", tx.IntentID).
				Str("promo_code", code).
				Str("reason", err.Error()).
				Msg("promo no longer eligible at completion time, payment stands")
			return
		}
		log.Error().Err(err).Str("intent_id", tx.IntentID).Str("promo_code", code).Msg("promo redemption failed")
		return
	}

	log.Info().
		Str("intent_id", tx.IntentID).
		Str("promo_code", code).
		Int("used_total", snap.UsedTotal).
		Bool("is_active", snap.IsActive).
		Msg("promo code redeemed")

	if event, err := notify.NewEvent(notify.EventPromoRedeemed, snap); err == nil {
		if perr := s.notifier.PublishEvent(ctx, event); perr != nil {
			log.Error().Err(perr).Str("promo_code", code).Msg("failed to publish redemption event")
		}
	}
}

func (s *PaymentService) announce(ctx context.Context, tx *model.Transaction, res *grant.Result) {
	if event, err := notify.NewEvent(notify.EventPaymentCompleted, tx); err == nil {
		if perr := s.notifier.PublishEvent(ctx, event); perr != nil {
			log.Error().Err(perr).Str("intent_id", tx.IntentID).Msg("failed to publish completion event")
		}
	}

	text := fmt.Sprintf("Payment %s confirmed: %s", tx.IntentID, tx.Amount)
	if res != nil && res.KeyRef != "" {
		text = fmt.Sprintf("Payment %s confirmed: %s, key %s", tx.IntentID, tx.Amount, res.KeyRef)
	}
	if err := s.notifier.NotifyUser(ctx, tx.UserID, text); err != nil {
		log.Error().Err(err).Str("intent_id", tx.IntentID).Msg("user notification failed")
	}
}

// ExpireStale reaps pending transactions older than the cutoff.
func (s *PaymentService) ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.txRepo.Expire(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Dur("older_than", olderThan).Msg("expired stale transactions")
	}
	return n, nil
}

// GetTransaction retrieves a transaction for inspection.
// Returns ErrTransactionNotFound if the intent doesn't exist.
func (s *PaymentService) GetTransaction(ctx context.Context, intentID string) (*model.Transaction, error) {
	tx, err := s.txRepo.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}
