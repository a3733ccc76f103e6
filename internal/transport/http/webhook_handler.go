package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/njprem/Profile_APP_BackEnd/internal/domain"
	"github.com/njprem/Profile_APP_BackEnd/internal/util"
)

type webhookProcessor interface {
	HandleEvent(ctx context.Context, event domain.WebhookEvent) error
}

type WebhookHandler struct {
	service webhookProcessor
}

// RegisterWebhooks mounts the identity provider user webhook behind the
// signature check.
func RegisterWebhooks(e *echo.Echo, signingKey string, svc webhookProcessor) {
	h := &WebhookHandler{service: svc}
	e.POST("/user-login-wh", h.receive, RequireWebhookSignature(signingKey))
}

func (h *WebhookHandler) receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("unable to read body"))
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, util.Error("invalid webhook payload"))
	}
	event.Raw = body
	if err := c.Validate(&event); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, util.Error(err.Error()))
	}
	if !event.IsUserEvent() {
		return c.JSON(http.StatusOK, util.Envelope{"status": "ignored"})
	}

	if err := h.service.HandleEvent(c.Request().Context(), event); err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to process webhook"))
	}
	return c.JSON(http.StatusOK, util.Envelope{"status": "ok"})
}
