package payment

import (
	"context"
	"log/slog"

	"kiraya/internal/app/queries"
	"kiraya/internal/app/recon"
	"kiraya/internal/app/uow"
	domainpayment "kiraya/internal/domain/payment"
)

const paymentStatusKey = "payment.status"

type StatusQuery struct {
	PaymentID string
}

func (q StatusQuery) Key() string { return paymentStatusKey }

type StatusResult struct {
	PaymentID      string `json:"payment_id"`
	BookingID      string `json:"booking_id"`
	Status         string `json:"status"`
	Method         string `json:"method"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ProviderRef    string `json:"provider_ref,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	PaidAt         string `json:"paid_at,omitempty"`
	RefundedAmount int64  `json:"refunded_amount,omitempty"`
}

// StatusHandler serves the polling contract. A processing mobile-money
// payment triggers a just-in-time verification pass before answering, so a
// missed webhook cannot strand the payment.
type StatusHandler struct {
	UoWFactory  uow.Factory
	Coordinator *recon.Coordinator
	Logger      *slog.Logger
}

func (h *StatusHandler) Handle(ctx context.Context, q StatusQuery) (StatusResult, error) {
	p, err := h.load(ctx, domainpayment.PaymentID(q.PaymentID))
	if err != nil {
		return StatusResult{}, err
	}

	if p.Status == domainpayment.StatusProcessing && p.Method == domainpayment.MethodMobileMoney && h.Coordinator != nil {
		if _, err := h.Coordinator.ReconcileByID(ctx, p.ID); err != nil {
			// Inconclusive verification leaves the payment untouched; the
			// poll still answers with the last durable state.
			if h.Logger != nil {
				h.Logger.Warn("just-in-time verification failed", "payment_id", p.ID, "error", err)
			}
		} else {
			p, err = h.load(ctx, p.ID)
			if err != nil {
				return StatusResult{}, err
			}
		}
	}

	res := StatusResult{
		PaymentID:     string(p.ID),
		BookingID:     p.BookingID,
		Status:        string(p.Status),
		Method:        string(p.Method),
		Amount:        p.Amount.Amount,
		Currency:      p.Amount.Currency,
		ProviderRef:   p.ProviderRef,
		FailureReason: p.FailureReason,
	}
	if p.PaidAt != nil {
		res.PaidAt = p.PaidAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if refunded := p.RefundedTotal(); refunded.IsPositive() {
		res.RefundedAmount = refunded.Amount
	}
	return res, nil
}

func (h *StatusHandler) load(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.Payment, error) {
	unit, err := h.UoWFactory.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	ctx = uow.Bind(ctx, unit)
	defer func() { _ = unit.Rollback(ctx) }()
	return unit.Payments().ByID(ctx, id)
}

var _ queries.Handler[StatusQuery, StatusResult] = (*StatusHandler)(nil)
