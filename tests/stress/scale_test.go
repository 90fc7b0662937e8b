//go:build stress

// Scale tests drive the completion path with provider-grade duplication:
// every payment intent is delivered several times concurrently, the way a
// fleet of webhook workers retries until it sees a 2xx. The ledger claim is
// the only gate, so correctness here means every balance moves exactly once
// no matter how many deliveries land.
package stress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScaleTest(t *testing.T, intents, deliveriesPerIntent int) {
	cleanupTables(t)

	const amountMinor = int64(25000)
	totalDeliveries := intents * deliveriesPerIntent
	timeout := 120 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startTime := time.Now()
	t.Logf("Starting scale test: %d intents x %d deliveries = %d concurrent completions",
		intents, deliveriesPerIntent, totalDeliveries)

	for i := 0; i < intents; i++ {
		createPendingIntent(t, ctx, fmt.Sprintf("scale-%04d", i), int64(9000+i), amountMinor, "")
	}

	paymentSvc := newStressPaymentService()

	var wg sync.WaitGroup
	type outcome struct {
		already bool
		err     error
	}
	results := make(chan outcome, totalDeliveries)

	for i := 0; i < intents; i++ {
		for d := 0; d < deliveriesPerIntent; d++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				res, err := paymentSvc.Complete(ctx, fmt.Sprintf("scale-%04d", n))
				if err != nil {
					results <- outcome{err: err}
					return
				}
				results <- outcome{already: res.AlreadyProcessed}
			}(i)
		}
	}

	wg.Wait()
	close(results)

	var granted, alreadyProcessed, failures int
	for out := range results {
		switch {
		case out.err != nil:
			failures++
			t.Logf("Unexpected error: %v", out.err)
		case out.already:
			alreadyProcessed++
		default:
			granted++
		}
	}

	executionTime := time.Since(startTime)
	t.Logf("Results - Granted: %d, AlreadyProcessed: %d, Failures: %d", granted, alreadyProcessed, failures)
	t.Logf("Execution time: %v (%.0f deliveries/sec)", executionTime,
		float64(totalDeliveries)/executionTime.Seconds())

	assert.Equal(t, intents, granted, "Each intent should be granted exactly once")
	assert.Equal(t, totalDeliveries-intents, alreadyProcessed,
		"Every duplicate delivery should observe a no-op")
	assert.Equal(t, 0, failures, "No delivery should fail")

	// Every user paid once, so every balance holds exactly one credit.
	var wrongBalances int
	err := testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM balances WHERE amount_minor <> $1", amountMinor).Scan(&wrongBalances)
	require.NoError(t, err, "Failed to query balances")
	assert.Equal(t, 0, wrongBalances, "No balance should be credited more or less than once")

	var creditedUsers int
	err = testPool.QueryRow(ctx, "SELECT COUNT(*) FROM balances").Scan(&creditedUsers)
	require.NoError(t, err, "Failed to count balances")
	assert.Equal(t, intents, creditedUsers, "Every paying user should hold a balance")

	var pending, ungranted int
	err = testPool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'completed' AND granted_at IS NULL)
		FROM transactions`).Scan(&pending, &ungranted)
	require.NoError(t, err, "Failed to query ledger state")
	assert.Equal(t, 0, pending, "No intent should remain pending")
	assert.Equal(t, 0, ungranted, "No completed intent should remain ungranted")

	assert.Less(t, executionTime, timeout, "Test should complete within %v", timeout)
}

// TestScale100 delivers each of 100 intents 5 times concurrently.
func TestScale100(t *testing.T) {
	runScaleTest(t, 100, 5)
}

// TestScale200 doubles the intent count to shake out pool contention.
func TestScale200(t *testing.T) {
	runScaleTest(t, 200, 5)
}

// TestScale500 is the heaviest run; 2500 concurrent deliveries.
func TestScale500(t *testing.T) {
	runScaleTest(t, 500, 5)
}
