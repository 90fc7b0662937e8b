//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrency_SimultaneousWebhookDeliveries fires N copies of the same
// paid webhook at once. Exactly one must win the ledger claim; the balance
// is credited exactly once.
func TestConcurrency_SimultaneousWebhookDeliveries(t *testing.T) {
	cleanupTables(t)
	createPendingTransaction(t, "pay-race-001", 42, 50000, "topup")

	const workers = 50
	body := cardlinkWebhookBody(t, "pay-race-001", "50000", "success")

	var wg sync.WaitGroup
	results := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := postJSONWithHeaders(formatURL("/webhooks/cardlink"), body, nil)
			if err != nil {
				results <- "error"
				return
			}
			var out map[string]string
			if err := readJSONResponse(resp, &out); err != nil {
				results <- "error"
				return
			}
			results <- out["status"]
		}()
	}
	wg.Wait()
	close(results)

	var okCount, dupCount int
	for status := range results {
		switch status {
		case "ok":
			okCount++
		case "already_processed":
			dupCount++
		default:
			t.Errorf("unexpected webhook outcome: %s", status)
		}
	}

	assert.Equal(t, 1, okCount, "exactly one delivery wins the claim")
	assert.Equal(t, workers-1, dupCount)
	assert.Equal(t, int64(50000), getBalanceFromDB(t, 42), "value granted exactly once")

	status, granted := getTransactionFromDB(t, "pay-race-001")
	assert.Equal(t, "completed", status)
	assert.True(t, granted)
}

// TestConcurrency_PromoGlobalLimit races 20 distinct payments carrying a
// limit-5 code. Exactly 5 redemptions commit and the code retires; every
// payment still completes.
func TestConcurrency_PromoGlobalLimit(t *testing.T) {
	cleanupTables(t)
	createTestPromo(t, "FLASH5", intPtr(5), nil)

	const payments = 20
	for i := 0; i < payments; i++ {
		createPendingWithPromo(t, fmt.Sprintf("pay-flash-%03d", i), int64(i+1), 45000, "FLASH5", 5000)
	}

	var wg sync.WaitGroup
	for i := 0; i < payments; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := deliverCardlinkWebhook(t, fmt.Sprintf("pay-flash-%03d", i), "45000")
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	usedTotal, isActive, redemptions := getPromoFromDB(t, "FLASH5")
	assert.Equal(t, 5, usedTotal, "the global limit must hold under concurrency")
	assert.Equal(t, 5, redemptions)
	assert.False(t, isActive, "code retires at the limit")

	var completed int
	err := testPool.QueryRow(t.Context(),
		"SELECT COUNT(*) FROM transactions WHERE status = 'completed'").Scan(&completed)
	require.NoError(t, err)
	assert.Equal(t, payments, completed, "losing the promo race never fails the payment")
}

// TestConcurrency_PerUserLimitRace races several payments by the same user
// against a per-user limit of one.
func TestConcurrency_PerUserLimitRace(t *testing.T) {
	cleanupTables(t)
	createTestPromo(t, "ONEEACH", nil, intPtr(1))

	const payments = 10
	for i := 0; i < payments; i++ {
		createPendingWithPromo(t, fmt.Sprintf("pay-peruser-%03d", i), 42, 45000, "ONEEACH", 5000)
	}

	var wg sync.WaitGroup
	for i := 0; i < payments; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := deliverCardlinkWebhook(t, fmt.Sprintf("pay-peruser-%03d", i), "45000")
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	usedTotal, _, redemptions := getPromoFromDB(t, "ONEEACH")
	assert.Equal(t, 1, usedTotal, "per-user limit must hold under concurrency")
	assert.Equal(t, 1, redemptions)
}

// TestConcurrency_MixedIntents races duplicates of several different intents
// at once and checks each granted exactly once.
func TestConcurrency_MixedIntents(t *testing.T) {
	cleanupTables(t)

	const intents = 10
	const duplicates = 5
	for i := 0; i < intents; i++ {
		createPendingTransaction(t, fmt.Sprintf("pay-mixed-%03d", i), int64(i+1), 10000, "topup")
	}

	var wg sync.WaitGroup
	for i := 0; i < intents; i++ {
		for d := 0; d < duplicates; d++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp := deliverCardlinkWebhook(t, fmt.Sprintf("pay-mixed-%03d", i), "10000")
				resp.Body.Close()
			}(i)
		}
	}
	wg.Wait()

	for i := 0; i < intents; i++ {
		userID := int64(i + 1)
		assert.Equal(t, int64(10000), getBalanceFromDB(t, userID),
			fmt.Sprintf("user %d should be credited exactly once", userID))
	}

	t.Logf("%d intents, %d deliveries each: every grant exactly once", intents, duplicates)
}
