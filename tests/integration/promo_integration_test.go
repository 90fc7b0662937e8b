//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

// TestPromo_AdminLifecycle creates, inspects, and retires a promo code
// through the admin API.
func TestPromo_AdminLifecycle(t *testing.T) {
	cleanupTables(t)

	body := []byte(`{"code": "WELCOME10", "discount_kind": "percent", "discount_value": 10, "usage_limit_total": 5}`)
	resp, err := postJSONWithHeaders(formatURL("/api/promos"), body, map[string]string{
		"X-Admin-Token": adminToken,
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Admin surface rejects requests without the token
	resp, err = postJSONWithHeaders(formatURL("/api/promos"), body, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Retire it
	resp, err = postJSONWithHeaders(formatURL("/api/promos/WELCOME10/deactivate"), nil, map[string]string{
		"X-Admin-Token": adminToken,
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, isActive, _ := getPromoFromDB(t, "WELCOME10")
	assert.False(t, isActive)
}

// TestPromo_RedemptionOnCompletion completes a payment that carries a promo
// code and verifies the redemption is recorded atomically with the counter.
func TestPromo_RedemptionOnCompletion(t *testing.T) {
	cleanupTables(t)
	createTestPromo(t, "WELCOME10", intPtr(5), nil)
	createPendingWithPromo(t, "pay-promo-001", 42, 45000, "WELCOME10", 5000)

	resp := deliverCardlinkWebhook(t, "pay-promo-001", "45000")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	usedTotal, isActive, redemptions := getPromoFromDB(t, "WELCOME10")
	assert.Equal(t, 1, usedTotal)
	assert.True(t, isActive)
	assert.Equal(t, 1, redemptions)

	// Replaying the webhook must not double-count the redemption
	resp = deliverCardlinkWebhook(t, "pay-promo-001", "45000")
	resp.Body.Close()

	usedTotal, _, redemptions = getPromoFromDB(t, "WELCOME10")
	assert.Equal(t, 1, usedTotal, "replay must not consume usage twice")
	assert.Equal(t, 1, redemptions)
}

// TestPromo_AutoRetireAtLimit exhausts a limit-2 code and verifies the final
// redemption retires it in the same transaction.
func TestPromo_AutoRetireAtLimit(t *testing.T) {
	cleanupTables(t)
	createTestPromo(t, "LASTCALL", intPtr(2), nil)

	for i := 1; i <= 2; i++ {
		intentID := fmt.Sprintf("pay-retire-%03d", i)
		createPendingWithPromo(t, intentID, int64(i), 45000, "LASTCALL", 5000)
		resp := deliverCardlinkWebhook(t, intentID, "45000")
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	usedTotal, isActive, redemptions := getPromoFromDB(t, "LASTCALL")
	assert.Equal(t, 2, usedTotal)
	assert.False(t, isActive, "code retires exactly when the limit is hit")
	assert.Equal(t, 2, redemptions)

	// A third payment with the retired code still completes; only the
	// redemption is refused.
	createPendingWithPromo(t, "pay-retire-003", 3, 45000, "LASTCALL", 5000)
	resp := deliverCardlinkWebhook(t, "pay-retire-003", "45000")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ := getTransactionFromDB(t, "pay-retire-003")
	assert.Equal(t, "completed", status, "an ineligible code never blocks the payment")

	usedTotal, _, redemptions = getPromoFromDB(t, "LASTCALL")
	assert.Equal(t, 2, usedTotal)
	assert.Equal(t, 2, redemptions)
}

// TestPromo_PerUserLimit lets one user redeem a per-user-limited code twice;
// the second redemption is refused while the payment still completes.
func TestPromo_PerUserLimit(t *testing.T) {
	cleanupTables(t)
	createTestPromo(t, "ONEEACH", nil, intPtr(1))

	createPendingWithPromo(t, "pay-user-001", 42, 45000, "ONEEACH", 5000)
	resp := deliverCardlinkWebhook(t, "pay-user-001", "45000")
	resp.Body.Close()

	createPendingWithPromo(t, "pay-user-002", 42, 45000, "ONEEACH", 5000)
	resp = deliverCardlinkWebhook(t, "pay-user-002", "45000")
	resp.Body.Close()

	usedTotal, _, redemptions := getPromoFromDB(t, "ONEEACH")
	assert.Equal(t, 1, usedTotal, "the same user cannot redeem twice")
	assert.Equal(t, 1, redemptions)

	status, _ := getTransactionFromDB(t, "pay-user-002")
	assert.Equal(t, "completed", status)

	// A different user still can
	createPendingWithPromo(t, "pay-user-003", 7, 45000, "ONEEACH", 5000)
	resp = deliverCardlinkWebhook(t, "pay-user-003", "45000")
	resp.Body.Close()

	usedTotal, _, _ = getPromoFromDB(t, "ONEEACH")
	assert.Equal(t, 2, usedTotal)
}

// TestPromo_AvailabilityEndpoint checks the UI-time eligibility verdicts.
func TestPromo_AvailabilityEndpoint(t *testing.T) {
	cleanupTables(t)
	createTestPromo(t, "WELCOME10", intPtr(5), nil)

	resp, err := getJSON(formatURL("/api/promos/WELCOME10/availability?user_id=42"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, readJSONResponse(resp, &result))
	assert.Equal(t, true, result["available"])

	resp, err = getJSON(formatURL("/api/promos/NOSUCHCODE/availability?user_id=42"))
	require.NoError(t, err)
	require.NoError(t, readJSONResponse(resp, &result))
	assert.Equal(t, false, result["available"])
	assert.Equal(t, "NotFound", result["reason"])
}

// TestPromo_ExpiredWindow verifies a code past its valid_until is refused at
// completion time but the payment still lands.
func TestPromo_ExpiredWindow(t *testing.T) {
	cleanupTables(t)

	_, err := testPool.Exec(t.Context(),
		`INSERT INTO promo_codes (code, discount_kind, discount_value, valid_from, valid_until, is_active)
		 VALUES ('BYGONE', 'percent', 10, now() - interval '2 days', now() - interval '1 day', true)`)
	require.NoError(t, err)

	createPendingWithPromo(t, "pay-late-001", 42, 45000, "BYGONE", 5000)
	resp := deliverCardlinkWebhook(t, "pay-late-001", "45000")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ := getTransactionFromDB(t, "pay-late-001")
	assert.Equal(t, "completed", status)

	usedTotal, _, redemptions := getPromoFromDB(t, "BYGONE")
	assert.Equal(t, 0, usedTotal)
	assert.Equal(t, 0, redemptions)
}
