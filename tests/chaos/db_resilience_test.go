//go:build ci

// Database resilience tests verify behavior under connection pressure:
// exhausted pools, statement timeouts, and server-side connection kills.
// The API must degrade to slow or failed requests, never to corrupted state.
package chaos

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnectionPoolExhaustion saturates a deliberately tiny pool with slow
// queries and verifies that waiting acquirers either queue up or time out
// cleanly, and that the pool is fully usable afterwards.
func TestConnectionPoolExhaustion(t *testing.T) {
	cleanupTables(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const maxConns = 3
	pool, err := createPoolWithConfig(ctx, maxConns)
	require.NoError(t, err)
	defer pool.Close()

	// Saturate: every slot runs a 3-second sleep.
	var wg sync.WaitGroup
	for i := 0; i < maxConns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.Exec(ctx, "SELECT pg_sleep(3)")
		}()
	}

	// Give the sleepers time to acquire their connections.
	time.Sleep(500 * time.Millisecond)

	// An acquirer with a short deadline must fail fast, not hang.
	shortCtx, shortCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer shortCancel()
	var one int
	err = pool.QueryRow(shortCtx, "SELECT 1").Scan(&one)
	assert.Error(t, err, "Acquire against an exhausted pool should fail within its deadline")

	// A patient acquirer gets a slot once a sleeper finishes.
	patientCtx, patientCancel := context.WithTimeout(ctx, 10*time.Second)
	defer patientCancel()
	err = pool.QueryRow(patientCtx, "SELECT 1").Scan(&one)
	assert.NoError(t, err, "Acquire should succeed once the pool drains")
	assert.Equal(t, 1, one)

	wg.Wait()

	// Full recovery: run more queries than the pool has slots.
	for i := 0; i < maxConns*3; i++ {
		err := pool.QueryRow(ctx, "SELECT 1").Scan(&one)
		require.NoError(t, err, "Pool should be fully functional after exhaustion")
	}

	// The API server, which has its own pool, was never affected.
	resp, err := httpClient.Get(formatURL("/health"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "Server health should be unaffected")
}

// TestConnectionDrop kills a backend mid-query with pg_terminate_backend and
// verifies the pool discards the dead connection and recovers, and that an
// in-flight completion on a killed connection leaves no partial state.
func TestConnectionDrop(t *testing.T) {
	cleanupTables(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := createPoolWithConfig(ctx, 2)
	require.NoError(t, err)
	defer pool.Close()

	// Find our backend PID and kill it from the main pool.
	var pid int
	require.NoError(t, pool.QueryRow(ctx, "SELECT pg_backend_pid()").Scan(&pid))

	var killed bool
	require.NoError(t, testPool.QueryRow(ctx,
		"SELECT pg_terminate_backend($1)", pid).Scan(&killed))
	assert.True(t, killed, "Backend should be terminated")

	// The pool notices the dead connection and hands out a fresh one.
	deadline := time.Now().Add(10 * time.Second)
	recovered := false
	for time.Now().Before(deadline) {
		var one int
		if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err == nil && one == 1 {
			recovered = true
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	assert.True(t, recovered, "Pool should recover after a backend kill")

	// End-to-end sanity: a completion still works through the server.
	createPendingIntent(t, "drop-intent", 6200, 50000)
	resp, err := postRaw(formatURL("/webhooks/cardlink"),
		cardlinkWebhookBody(t, "drop-intent", "500.00", "success"), nil)
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, readJSONResponse(resp, &result))
	assert.Equal(t, "ok", result["status"])

	status, granted := getTransactionFromDB(t, "drop-intent")
	assert.Equal(t, "completed", status)
	assert.True(t, granted)
}

// TestGoroutineLeakDetection runs several cancellation-heavy bursts and
// verifies the process goroutine count returns to the neighborhood it
// started in.
func TestGoroutineLeakDetection(t *testing.T) {
	cleanupTables(t)

	// Let any previous test's goroutines settle.
	time.Sleep(1 * time.Second)
	runtime.GC()
	baseline := runtime.NumGoroutine()
	t.Logf("Baseline goroutines: %d", baseline)

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
				defer cancel()
				_, _ = testPool.Exec(ctx, "SELECT pg_sleep(2)")
			}()
		}
		wg.Wait()
	}

	// Allow the pool's cleanup goroutines to wind down.
	time.Sleep(2 * time.Second)
	runtime.GC()
	after := runtime.NumGoroutine()
	t.Logf("Goroutines after bursts: %d", after)

	// Some slack for pool health checks; a leak would show up as dozens.
	assert.LessOrEqual(t, after, baseline+10,
		"Goroutine count should return near baseline (baseline=%d, after=%d)", baseline, after)
}
