package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kiraya/internal/app/commands"
	PaymentApp "kiraya/internal/app/handlers/payment"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/queries"
)

type PaymentHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type initiatePaymentRequest struct {
	BookingID string `json:"booking_id"`
	Method    string `json:"method"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Name      string `json:"name"`
}

func (h PaymentHandler) Initiate(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"})
		return
	}
	cmd := PaymentApp.InitiatePaymentCommand{
		CommandID:  uuid.NewString(),
		BookingID:  req.BookingID,
		Actor:      actor,
		MethodHint: req.Method,
		Payer: policies.PayerInfo{
			UserID: actor.UserID,
			Email:  req.Email,
			Phone:  req.Phone,
			Name:   req.Name,
		},
	}
	result, err := commands.Dispatch[PaymentApp.InitiatePaymentCommand, *PaymentApp.InitiatePaymentResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (h PaymentHandler) Status(c *gin.Context) {
	if _, ok := actorFrom(c); !ok {
		return
	}
	q := PaymentApp.StatusQuery{PaymentID: c.Param("id")}
	result, err := queries.Ask[PaymentApp.StatusQuery, PaymentApp.StatusResult](c.Request.Context(), h.Queries, q)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h PaymentHandler) Refund(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"})
		return
	}
	cmd := PaymentApp.RefundPaymentCommand{
		PaymentID: c.Param("id"),
		Actor:     actor,
		Amount:    req.Amount,
		Reason:    req.Reason,
	}
	result, err := commands.Dispatch[PaymentApp.RefundPaymentCommand, *PaymentApp.RefundPaymentResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h PaymentHandler) Retry(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	cmd := PaymentApp.RetryPaymentCommand{PaymentID: c.Param("id"), Actor: actor}
	result, err := commands.Dispatch[PaymentApp.RetryPaymentCommand, *PaymentApp.RetryPaymentResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
