package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/grant"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/money"
)

func ungrantedTransaction(intentID string) *model.Transaction {
	return &model.Transaction{
		IntentID: intentID,
		UserID:   42,
		Amount:   money.New(50000, money.RUB),
		Status:   model.TxCompleted,
		Metadata: model.PurchaseMetadata{Action: model.ActionTopup},
	}
}

func TestReconciler_ReconcileOnce_RecoversGrants(t *testing.T) {
	marked := []string{}
	repo := &mockTransactionRepository{
		listUngrantedFn: func(ctx context.Context, grace time.Duration, limit int) ([]*model.Transaction, error) {
			assert.Equal(t, 2*time.Minute, grace)
			assert.Equal(t, 50, limit)
			return []*model.Transaction{
				ungrantedTransaction("pay-001"),
				ungrantedTransaction("pay-002"),
			}, nil
		},
		markGrantedFn: func(ctx context.Context, intentID string) error {
			marked = append(marked, intentID)
			return nil
		},
	}
	granter := &mockGranter{}

	r := NewReconciler(repo, granter, time.Minute, 2*time.Minute, 50)
	n, err := r.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, granter.calls)
	assert.Equal(t, []string{"pay-001", "pay-002"}, marked)
}

func TestReconciler_ReconcileOnce_SkipsFailedGrant(t *testing.T) {
	marked := []string{}
	repo := &mockTransactionRepository{
		listUngrantedFn: func(ctx context.Context, grace time.Duration, limit int) ([]*model.Transaction, error) {
			return []*model.Transaction{
				ungrantedTransaction("pay-001"),
				ungrantedTransaction("pay-002"),
			}, nil
		},
		markGrantedFn: func(ctx context.Context, intentID string) error {
			marked = append(marked, intentID)
			return nil
		},
	}
	granter := &mockGranter{
		grantFn: func(ctx context.Context, tx *model.Transaction) (*grant.Result, error) {
			if tx.IntentID == "pay-001" {
				return nil, errors.New("panel unreachable")
			}
			return &grant.Result{Detail: "balance credited"}, nil
		},
	}

	r := NewReconciler(repo, granter, time.Minute, 2*time.Minute, 50)
	n, err := r.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n, "a failed grant stays ungranted for the next pass")
	assert.Equal(t, []string{"pay-002"}, marked, "only the successful grant is flagged")
}

func TestReconciler_ReconcileOnce_ListError(t *testing.T) {
	dbErr := errors.New("connection reset")
	repo := &mockTransactionRepository{
		listUngrantedFn: func(ctx context.Context, grace time.Duration, limit int) ([]*model.Transaction, error) {
			return nil, dbErr
		},
	}

	r := NewReconciler(repo, &mockGranter{}, time.Minute, 2*time.Minute, 50)
	_, err := r.ReconcileOnce(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, dbErr))
}

func TestReconciler_ReconcileOnce_EmptyBatch(t *testing.T) {
	r := NewReconciler(&mockTransactionRepository{}, &mockGranter{}, time.Minute, 2*time.Minute, 50)
	n, err := r.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReconciler_Run_StopsOnContextCancel(t *testing.T) {
	repo := &mockTransactionRepository{}
	r := NewReconciler(repo, &mockGranter{}, 10*time.Millisecond, 2*time.Minute, 50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancellation")
	}
}
