package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/model"
	"github.com/CyberERROR/remnawave-shopbot-sub000/internal/service"
)

// PromoServiceInterface defines the interface for promo business logic.
type PromoServiceInterface interface {
	Create(ctx context.Context, req *model.CreatePromoRequest) (*model.PromoCode, error)
	CheckAvailability(ctx context.Context, code string, userID int64) (*service.Availability, error)
	Deactivate(ctx context.Context, code string) error
	Status(ctx context.Context, code string) (*model.PromoStatusResponse, error)
}

// PromoHandler handles HTTP requests for promo code operations.
type PromoHandler struct {
	service   PromoServiceInterface
	validator *validator.Validate
}

// NewPromoHandler creates a new PromoHandler with the given service and validator.
func NewPromoHandler(svc PromoServiceInterface, v *validator.Validate) *PromoHandler {
	return &PromoHandler{service: svc, validator: v}
}

// formatPromoValidationError converts validator errors to API messages.
func formatPromoValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "Code":
				if tag == "required" {
					return "invalid request: code is required"
				}
				if tag == "notblank" {
					return "invalid request: code cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: code exceeds maximum length of 64"
				}
				return "invalid request: code is invalid"
			case "DiscountKind":
				if tag == "required" {
					return "invalid request: discount_kind is required"
				}
				return "invalid request: discount_kind must be percent or fixed"
			case "DiscountValue":
				if tag == "required" {
					return "invalid request: discount_value is required"
				}
				return "invalid request: discount_value must be positive"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// CreatePromo handles POST /api/promos requests to create a new promo code.
func (h *PromoHandler) CreatePromo(c *fiber.Ctx) error {
	var req model.CreatePromoRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatPromoValidationError(err)})
	}

	promo, err := h.service.Create(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrPromoExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "promo code already exists"})
		}
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		log.Error().Err(err).Str("code", req.Code).Msg("failed to create promo code")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(promo)
}

// GetPromo handles GET /api/promos/:code requests to retrieve promo status.
func (h *PromoHandler) GetPromo(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: code is required"})
	}

	status, err := h.service.Status(c.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrPromoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "promo code not found"})
		}
		log.Error().Err(err).Str("code", code).Msg("failed to get promo code")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(status)
}

// CheckAvailability handles GET /api/promos/:code/availability?user_id=N.
// This is the UI-time eligibility check used before a purchase is started.
func (h *PromoHandler) CheckAvailability(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: code is required"})
	}

	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: user_id must be a positive integer"})
	}

	avail, err := h.service.CheckAvailability(c.Context(), code, userID)
	if err != nil {
		log.Error().Err(err).Str("code", code).Int64("user_id", userID).Msg("failed to check promo availability")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	if !avail.Available {
		return c.JSON(fiber.Map{"available": false, "reason": avail.Reason})
	}
	return c.JSON(fiber.Map{"available": true})
}

// DeactivatePromo handles POST /api/promos/:code/deactivate requests.
func (h *PromoHandler) DeactivatePromo(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: code is required"})
	}

	if err := h.service.Deactivate(c.Context(), code); err != nil {
		if errors.Is(err, service.ErrPromoNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "promo code not found"})
		}
		log.Error().Err(err).Str("code", code).Msg("failed to deactivate promo code")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	log.Info().Str("code", code).Msg("promo code deactivated")
	return c.Status(fiber.StatusOK).Send(nil)
}
