// internal/handlers/subscriptions/subscriptions_handler.go
package subscriptions

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	domain "github.com/D-7J/beast-downloader-bot/internal/domain/subscription"
	"github.com/D-7J/beast-downloader-bot/internal/payment"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"
	"github.com/D-7J/beast-downloader-bot/internal/pkg/response"
	"github.com/D-7J/beast-downloader-bot/internal/subscription"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	subs     *subscription.Service
	payments *payment.Service
}

func NewSubscriptionHandler(subs *subscription.Service, payments *payment.Service) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, payments: payments}
}

// Get returns a user's subscription status, including the effective tier.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid user id", err)
		return
	}

	status, err := h.subs.Status(c.Request.Context(), userID, time.Now())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load subscription", err)
		return
	}
	response.Success(c, http.StatusOK, "subscription retrieved", status)
}

// ConfirmPayment is invoked by the payment-confirmation flow after a
// gateway or manual card-to-card verification reports success.
func (h *SubscriptionHandler) ConfirmPayment(c *gin.Context) {
	var conf domain.PaymentConfirmation
	if err := c.ShouldBindJSON(&conf); err != nil {
		response.ValidationError(c, "invalid confirmation body", err)
		return
	}

	sub, err := h.payments.Confirm(c.Request.Context(), conf, time.Now())
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, "payment applied", sub)
	case errors.Is(err, xerrors.ErrInvalidInput):
		response.ValidationError(c, "invalid purchase", err)
	default:
		response.Error(c, http.StatusInternalServerError, "failed to apply payment", err)
	}
}
