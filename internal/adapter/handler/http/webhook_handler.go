package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	domainErrors "github.com/wekeepgrowing/entitlement-service/internal/domain/errors"
	"github.com/wekeepgrowing/entitlement-service/internal/usecase"
	pkgErrors "github.com/wekeepgrowing/entitlement-service/pkg/errors"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

type WebhookHandler struct {
	logger   *zap.Logger
	ingestor *usecase.WebhookIngestor
}

func NewWebhookHandler(logger *zap.Logger, ingestor *usecase.WebhookIngestor) *WebhookHandler {
	return &WebhookHandler{
		logger:   logger,
		ingestor: ingestor,
	}
}

// HandleWebhook verifies and applies one provider delivery. Any 2xx tells
// the provider to stop redelivering, so only processing failures get an
// error status.
func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		return pkgErrors.WriteJSON(c, invalidRequest(err))
	}

	result, err := h.ingestor.Handle(c.Request().Context(), payload, c.Request().Header.Get(SignatureHeader))
	if errors.Is(err, domainErrors.ErrInvalidSignature) {
		h.logger.Warn("Rejected webhook with invalid signature",
			zap.String("remote_ip", c.RealIP()),
			zap.Int("payload_size", len(payload)))
		return pkgErrors.WriteJSON(c, ToAppError(err))
	}
	if err != nil {
		return respondError(c, h.logger, err, "Webhook processing failed",
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"received": true,
		"event_id": result.EventID,
		"outcome":  result.Outcome,
	})
}
