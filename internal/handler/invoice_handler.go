package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/service"
)

// InvoiceServiceInterface defines the interface for invoice business logic.
type InvoiceServiceInterface interface {
	CreateInvoice(ctx context.Context, req *model.CreateInvoiceRequest) (*model.Transaction, error)
	GetTransaction(ctx context.Context, intentID string) (*model.Transaction, error)
}

// InvoiceHandler handles HTTP requests from the invoice-creation flow: the
// bot registers a pending transaction here before handing the user off to a
// payment provider.
type InvoiceHandler struct {
	service   InvoiceServiceInterface
	validator *validator.Validate
}

// NewInvoiceHandler creates a new InvoiceHandler with the given service and validator.
func NewInvoiceHandler(svc InvoiceServiceInterface, v *validator.Validate) *InvoiceHandler {
	return &InvoiceHandler{service: svc, validator: v}
}

// CreateInvoice handles POST /api/invoices requests.
// A duplicate intent_id returns 200 with the already-issued marker rather
// than an error: the caller treats it as already-issued.
func (h *InvoiceHandler) CreateInvoice(c *fiber.Ctx) error {
	var req model.CreateInvoiceRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: " + err.Error()})
	}

	tx, err := h.service.CreateInvoice(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateIntent) {
			return c.JSON(fiber.Map{"status": "already_issued", "intent_id": req.IntentID})
		}
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		log.Error().Err(err).Int64("user_id", req.UserID).Msg("failed to create invoice")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(model.InvoiceResponse{
		IntentID: tx.IntentID,
		Amount:   tx.Amount,
		Status:   tx.Status,
	})
}

// GetTransaction handles GET /api/transactions/:intent_id requests.
func (h *InvoiceHandler) GetTransaction(c *fiber.Ctx) error {
	intentID := c.Params("intent_id")
	if intentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: intent_id is required"})
	}

	tx, err := h.service.GetTransaction(c.Context(), intentID)
	if err != nil {
		if errors.Is(err, service.ErrTransactionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "transaction not found"})
		}
		log.Error().Err(err).Str("intent_id", intentID).Msg("failed to get transaction")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(tx)
}
