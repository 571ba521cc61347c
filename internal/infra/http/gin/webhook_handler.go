package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"kiraya/internal/app/recon"
	domainpayment "kiraya/internal/domain/payment"
	infragateway "kiraya/internal/infra/gateway"
	"kiraya/internal/infra/obs"
)

const maxWebhookBody = 1 << 20

// WebhookHandler terminates gateway callbacks. Signatures are verified over
// the raw body before anything is parsed; payload statuses are never
// trusted, only the extracted reference feeds the reconciliation pass.
type WebhookHandler struct {
	MobileMoney *infragateway.MobileMoney
	Card        *infragateway.Card
	Coordinator *recon.Coordinator
	Metrics     *obs.Metrics
	Logger      *slog.Logger
}

func (h WebhookHandler) MobileMoneyWebhook(c *gin.Context) {
	if h.MobileMoney == nil || h.Coordinator == nil {
		c.Status(http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "unreadable body", Code: "bad_request"})
		return
	}
	if !h.MobileMoney.VerifyWebhookSignature(body, c.GetHeader("x-webhook-signature")) {
		h.count("mobilemoney", "bad_signature")
		c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid signature", Code: "signature"})
		return
	}
	ref, err := h.MobileMoney.WebhookRef(body)
	if err != nil {
		h.count("mobilemoney", "malformed")
		c.JSON(http.StatusBadRequest, errorBody{Error: "malformed payload", Code: "bad_request"})
		return
	}
	outcome, err := h.Coordinator.ReconcileByProviderRef(c.Request.Context(), domainpayment.MethodMobileMoney, ref)
	if err != nil {
		h.reconcileError(c, "mobilemoney", ref, err)
		return
	}
	h.countOutcome("mobilemoney", outcome)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h WebhookHandler) CardWebhook(c *gin.Context) {
	if h.Card == nil || h.Coordinator == nil {
		c.Status(http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "unreadable body", Code: "bad_request"})
		return
	}
	if !h.Card.VerifyWebhookSignature(body, c.GetHeader("Gateway-Signature")) {
		h.count("card", "bad_signature")
		c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid signature", Code: "signature"})
		return
	}
	ref, err := h.Card.WebhookRef(body)
	if err != nil {
		h.count("card", "malformed")
		c.JSON(http.StatusBadRequest, errorBody{Error: "malformed payload", Code: "bad_request"})
		return
	}
	outcome, err := h.Coordinator.ReconcileByProviderRef(c.Request.Context(), domainpayment.MethodCard, ref)
	if err != nil {
		h.reconcileError(c, "card", ref, err)
		return
	}
	h.countOutcome("card", outcome)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// reconcileError answers 200 for unknown references so the provider stops
// retrying a webhook we can never match; real failures get a 5xx and a
// provider-side redelivery.
func (h WebhookHandler) reconcileError(c *gin.Context, gateway, ref string, err error) {
	if h.Logger != nil {
		h.Logger.Error("webhook reconcile failed", "gateway", gateway, "provider_ref", ref, "err", err)
	}
	if isUnknownRef(err) {
		h.count(gateway, "unknown_ref")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	h.count(gateway, "error")
	c.JSON(http.StatusBadGateway, errorBody{Error: "reconciliation failed", Code: "reconcile"})
}

func isUnknownRef(err error) bool {
	return errors.Is(err, domainpayment.ErrNotFound)
}

func (h WebhookHandler) count(gateway, verdict string) {
	if h.Metrics != nil {
		h.Metrics.WebhooksTotal.WithLabelValues(gateway, verdict).Inc()
	}
}

func (h WebhookHandler) countOutcome(gateway string, outcome recon.Outcome) {
	verdict := "reconciled"
	if outcome.Idempotent {
		verdict = "idempotent"
	}
	h.count(gateway, verdict)
	if h.Metrics != nil {
		idem := "false"
		if outcome.Idempotent {
			idem = "true"
		}
		h.Metrics.Reconciliations.WithLabelValues(string(outcome.Status), idem).Inc()
	}
}
