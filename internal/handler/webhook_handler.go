package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/config"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/service"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/signature"
)

// CompletionServiceInterface is the slice of payment business logic the
// webhook adapters need.
type CompletionServiceInterface interface {
	Complete(ctx context.Context, intentID string) (*service.CompletionResult, error)
}

// WebhookHandler normalizes the six payment providers' webhook callbacks
// into a verified (intent_id, paid) signal for the completion service.
//
// Every endpoint follows the same contract: an invalid signature is rejected
// before any ledger call; a not-paid status is acknowledged and ignored; a
// duplicate delivery is acknowledged as already-processed; only a storage
// failure returns 5xx, leaving the delivery unacknowledged so the provider
// redelivers.
type WebhookHandler struct {
	service CompletionServiceInterface
	secrets config.ProvidersConfig
}

// NewWebhookHandler creates a WebhookHandler with the given service and
// per-provider secrets.
func NewWebhookHandler(svc CompletionServiceInterface, secrets config.ProvidersConfig) *WebhookHandler {
	return &WebhookHandler{service: svc, secrets: secrets}
}

// complete drives the shared completion path once a provider's payload has
// been verified and normalized.
func (h *WebhookHandler) complete(c *fiber.Ctx, provider, intentID string) error {
	if intentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing payment reference"})
	}

	result, err := h.service.Complete(c.Context(), intentID)
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("provider", provider).
			Str("intent_id", intentID).
			Msg("payment completion failed, provider will redeliver")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	if result.AlreadyProcessed {
		log.Info().
			Str("provider", provider).
			Str("intent_id", intentID).
			Msg("duplicate webhook delivery, already processed")
		return c.JSON(fiber.Map{"status": "already_processed"})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func rejectSignature(c *fiber.Ctx, provider string) error {
	log.Warn().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("provider", provider).
		Str("ip", c.IP()).
		Msg("webhook signature invalid")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
}

// cardlinkPayload is the card gateway's callback body. The signature is a
// SHA1 over the ordered &-joined fields with the shared secret in the last
// slot.
type cardlinkPayload struct {
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Sign     string `json:"sign"`
}

// Cardlink handles POST /webhooks/cardlink.
func (h *WebhookHandler) Cardlink(c *fiber.Ctx) error {
	var p cardlinkPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if !signature.VerifySHA1Joined(p.Sign, p.OrderID, p.Amount, p.Currency, p.Status, h.secrets.CardlinkSecret) {
		return rejectSignature(c, "cardlink")
	}

	if p.Status != "success" {
		log.Info().Str("provider", "cardlink").Str("intent_id", p.OrderID).Str("status", p.Status).Msg("ignoring non-paid webhook")
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	return h.complete(c, "cardlink", p.OrderID)
}

// cryptopayPayload is the first crypto gateway's callback body. The body
// carries its own "sign" field, an HMAC-SHA256 over the canonical sorted
// JSON of the remaining fields.
type cryptopayPayload struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
	Sign      string `json:"sign"`
}

// Cryptopay handles POST /webhooks/cryptopay.
func (h *WebhookHandler) Cryptopay(c *fiber.Ctx) error {
	var p cryptopayPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if !signature.VerifyHMACSHA256JSON(h.secrets.CryptopaySecret, c.Body(), "sign", p.Sign) {
		return rejectSignature(c, "cryptopay")
	}

	if p.Status != "paid" {
		log.Info().Str("provider", "cryptopay").Str("intent_id", p.InvoiceID).Str("status", p.Status).Msg("ignoring non-paid webhook")
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	return h.complete(c, "cryptopay", p.InvoiceID)
}

// coinboxPayload is the second crypto gateway's callback body. The signature
// arrives in the X-Coinbox-Signature header as md5(base64(body)+secret).
type coinboxPayload struct {
	PaymentID string `json:"payment_id"`
	State     string `json:"state"`
}

// Coinbox handles POST /webhooks/coinbox.
func (h *WebhookHandler) Coinbox(c *fiber.Ctx) error {
	provided := c.Get("X-Coinbox-Signature")
	if !signature.VerifyMD5Base64(h.secrets.CoinboxSecret, c.Body(), provided) {
		return rejectSignature(c, "coinbox")
	}

	var p coinboxPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if p.State != "completed" {
		log.Info().Str("provider", "coinbox").Str("intent_id", p.PaymentID).Str("state", p.State).Msg("ignoring non-paid webhook")
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	return h.complete(c, "coinbox", p.PaymentID)
}

// walletgatePayload is the wallet gateway's callback body. The signature is
// an HMAC-SHA256 over the canonical sorted JSON body, delivered in the
// X-Walletgate-Signature header.
type walletgatePayload struct {
	ExternalID string `json:"external_id"`
	Event      string `json:"event"`
}

// Walletgate handles POST /webhooks/walletgate.
func (h *WebhookHandler) Walletgate(c *fiber.Ctx) error {
	provided := c.Get("X-Walletgate-Signature")
	if !signature.VerifyHMACSHA256JSON(h.secrets.WalletgateSecret, c.Body(), "", provided) {
		return rejectSignature(c, "walletgate")
	}

	var p walletgatePayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if p.Event != "payment.succeeded" {
		log.Info().Str("provider", "walletgate").Str("intent_id", p.ExternalID).Str("event", p.Event).Msg("ignoring non-paid webhook")
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	return h.complete(c, "walletgate", p.ExternalID)
}

// pointsPayload is the in-platform points gateway's callback. Points move
// inside the platform, so authentication is a shared-secret header.
type pointsPayload struct {
	IntentID string `json:"intent_id"`
	UserID   int64  `json:"user_id"`
	Paid     bool   `json:"paid"`
}

// Points handles POST /webhooks/points.
func (h *WebhookHandler) Points(c *fiber.Ctx) error {
	if !signature.VerifyHeaderToken(h.secrets.PointsSecret, c.Get("X-Points-Token")) {
		return rejectSignature(c, "points")
	}

	var p pointsPayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if !p.Paid {
		log.Info().Str("provider", "points").Str("intent_id", p.IntentID).Int64("user_id", p.UserID).Msg("ignoring non-paid webhook")
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	return h.complete(c, "points", p.IntentID)
}

// bankwirePayload is the bank-transfer gateway's callback. Transfers are
// matched by the invoice reference carried in the payment purpose field.
type bankwirePayload struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount_minor"`
}

// Bankwire handles POST /webhooks/bankwire.
func (h *WebhookHandler) Bankwire(c *fiber.Ctx) error {
	if !signature.VerifyHeaderToken(h.secrets.BankwireSecret, c.Get("X-Bankwire-Token")) {
		return rejectSignature(c, "bankwire")
	}

	var p bankwirePayload
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if p.Status != "credited" {
		log.Info().Str("provider", "bankwire").Str("intent_id", p.Reference).Str("status", p.Status).Msg("ignoring non-paid webhook")
		return c.JSON(fiber.Map{"status": "ignored"})
	}
	return h.complete(c, "bankwire", p.Reference)
}
