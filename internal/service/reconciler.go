package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/grant"
)

// Reconciler re-drives value grants for transactions that were claimed but
// never granted, closing the crash window between the ledger claim and the
// grant. It only looks at rows past a grace period so it never races an
// in-flight completion.
type Reconciler struct {
	txRepo   TransactionRepositoryInterface
	granter  grant.Granter
	interval time.Duration
	grace    time.Duration
	batch    int
}

// NewReconciler creates a Reconciler.
func NewReconciler(txRepo TransactionRepositoryInterface, granter grant.Granter, interval, grace time.Duration, batch int) *Reconciler {
	return &Reconciler{
		txRepo:   txRepo,
		granter:  granter,
		interval: interval,
		grace:    grace,
		batch:    batch,
	}
}

// Run loops until ctx is cancelled, reconciling one batch per tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", r.interval).
		Dur("grace", r.grace).
		Msg("grant reconciler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("grant reconciler stopped")
			return
		case <-ticker.C:
			if n, err := r.ReconcileOnce(ctx); err != nil {
				log.Error().Err(err).Msg("reconciliation pass failed")
			} else if n > 0 {
				log.Info().Int("recovered", n).Msg("reconciled ungranted payments")
			}
		}
	}
}

// ReconcileOnce processes a single batch of completed-but-ungranted
// transactions and returns how many grants were recovered.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	txs, err := r.txRepo.ListUngranted(ctx, r.grace, r.batch)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, tx := range txs {
		if _, err := r.granter.GrantPurchase(ctx, tx); err != nil {
			log.Error().
				Err(err).
				Str("intent_id", tx.IntentID).
				Msg("reconciler grant attempt failed")
			continue
		}
		if err := r.txRepo.MarkGranted(ctx, tx.IntentID); err != nil {
			log.Error().Err(err).Str("intent_id", tx.IntentID).Msg("reconciler failed to mark granted")
			continue
		}
		recovered++
	}
	return recovered, nil
}
