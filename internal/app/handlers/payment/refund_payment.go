package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kiraya/internal/app/commands"
	"kiraya/internal/app/outbox"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainpayment "kiraya/internal/domain/payment"
	"kiraya/internal/domain/shared/money"
)

const (
	refundPaymentKey = "payment.refund"
	retryPaymentKey  = "payment.retry"
)

type RefundPaymentCommand struct {
	PaymentID string
	Actor     domainbooking.Actor
	Amount    int64
	Reason    string
}

func (c RefundPaymentCommand) Key() string { return refundPaymentKey }

type RefundPaymentResult struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	RefundedAmount int64  `json:"refunded_amount"`
}

// RefundPaymentHandler executes a ledger refund and flips the booking mirror
// to refunded. Runs under the bus transaction middleware.
type RefundPaymentHandler struct {
	Outbox  outbox.Outbox
	Encoder outbox.EventEncoder
	Audit   policies.AuditPort
	Logger  *slog.Logger
	Now     func() time.Time
}

func (h *RefundPaymentHandler) Handle(ctx context.Context, cmd RefundPaymentCommand) (*RefundPaymentResult, error) {
	unit, err := uow.Require(ctx)
	if err != nil {
		return nil, err
	}
	p, err := unit.Payments().ByID(ctx, domainpayment.PaymentID(cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	// Refunds are owner (payee) or admin actions.
	switch cmd.Actor.Role {
	case domainbooking.RoleAdmin:
	case domainbooking.RoleOwner:
		if cmd.Actor.UserID != p.PayeeID {
			return nil, domainbooking.ErrForbidden
		}
	default:
		return nil, domainbooking.ErrForbidden
	}

	amount, err := money.New(cmd.Amount, p.Amount.Currency)
	if err != nil {
		return nil, err
	}
	now := h.now()
	if err := p.ApplyRefund(uuid.NewString(), amount, cmd.Reason, now); err != nil {
		return nil, err
	}
	if err := unit.Payments().Save(ctx, p); err != nil {
		return nil, err
	}

	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(p.BookingID))
	if err != nil {
		return nil, err
	}
	b.SetPaymentStatus(domainbooking.PaymentRefunded, string(p.ID), now)
	if err := unit.Bookings().Save(ctx, b); err != nil {
		return nil, err
	}

	pending := p.PendingEvents()
	p.ClearEvents()
	if err := outbox.RecordDomainEvents(ctx, stagingOutbox(unit, h.Outbox), h.encoder(), pending); err != nil {
		return nil, err
	}

	policies.RecordAudit(ctx, h.Audit, h.Logger, policies.AuditEntry{
		Action:      "payment.refund",
		TargetID:    string(p.ID),
		TargetType:  "payment",
		PerformedBy: cmd.Actor.UserID,
		Details:     map[string]any{"amount": cmd.Amount, "reason": cmd.Reason, "status": string(p.Status)},
		Severity:    policies.AuditWarning,
	})
	if h.Logger != nil {
		h.Logger.Info("payment refunded", "payment_id", p.ID, "amount", cmd.Amount, "status", p.Status)
	}
	return &RefundPaymentResult{
		PaymentID:      string(p.ID),
		Status:         string(p.Status),
		RefundedAmount: p.RefundedTotal().Amount,
	}, nil
}

func (h *RefundPaymentHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *RefundPaymentHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

type RetryPaymentCommand struct {
	PaymentID string
	Actor     domainbooking.Actor
}

func (c RetryPaymentCommand) Key() string { return retryPaymentKey }

type RetryPaymentResult struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// RetryPaymentHandler reopens a failed payment for another initiation
// attempt. The provider reference is cleared so the next attempt gets a
// fresh one.
type RetryPaymentHandler struct {
	Audit  policies.AuditPort
	Logger *slog.Logger
	Now    func() time.Time
}

func (h *RetryPaymentHandler) Handle(ctx context.Context, cmd RetryPaymentCommand) (*RetryPaymentResult, error) {
	unit, err := uow.Require(ctx)
	if err != nil {
		return nil, err
	}
	p, err := unit.Payments().ByID(ctx, domainpayment.PaymentID(cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	switch cmd.Actor.Role {
	case domainbooking.RoleAdmin:
	case domainbooking.RoleTenant:
		if cmd.Actor.UserID != p.PayerID {
			return nil, domainbooking.ErrForbidden
		}
	default:
		return nil, domainbooking.ErrForbidden
	}

	now := h.nowTime()
	if err := p.ResetForRetry(now); err != nil {
		return nil, err
	}
	if err := unit.Payments().Save(ctx, p); err != nil {
		return nil, err
	}

	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(p.BookingID))
	if err != nil {
		return nil, err
	}
	b.SetPaymentStatus(domainbooking.PaymentUnpaid, string(p.ID), now)
	if err := unit.Bookings().Save(ctx, b); err != nil {
		return nil, err
	}

	policies.RecordAudit(ctx, h.Audit, h.Logger, policies.AuditEntry{
		Action:      "payment.retry",
		TargetID:    string(p.ID),
		TargetType:  "payment",
		PerformedBy: cmd.Actor.UserID,
		Details:     map[string]any{"booking_id": p.BookingID},
	})
	return &RetryPaymentResult{PaymentID: string(p.ID), Status: string(p.Status)}, nil
}

func (h *RetryPaymentHandler) nowTime() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ commands.Handler[RefundPaymentCommand, *RefundPaymentResult] = (*RefundPaymentHandler)(nil)
	_ commands.Handler[RetryPaymentCommand, *RetryPaymentResult]   = (*RetryPaymentHandler)(nil)
)

// stagingOutbox prefers the unit's own outbox so events commit atomically
// with the aggregate writes; the handler-level outbox is the fallback.
func stagingOutbox(unit uow.UnitOfWork, fallback outbox.Outbox) outbox.Outbox {
	if provider, ok := unit.(interface{ Outbox() outbox.Outbox }); ok {
		if box := provider.Outbox(); box != nil {
			return box
		}
	}
	return fallback
}
