package payment

import (
	"context"
	"log/slog"
	"time"

	"kiraya/internal/app/commands"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
	domainpricing "kiraya/internal/domain/pricing"
)

const initiatePaymentKey = "payment.initiate"

type InitiatePaymentCommand struct {
	CommandID  string
	BookingID  string
	Actor      domainbooking.Actor
	MethodHint string
	Payer      policies.PayerInfo
}

func (c InitiatePaymentCommand) Key() string { return initiatePaymentKey }

// ManagesOwnTransaction opts this command out of the bus transaction
// middleware: the payment must be durably persisted with its provider
// reference BEFORE the gateway network call, so the handler runs two
// separate units of work around it.
func (c InitiatePaymentCommand) ManagesOwnTransaction() bool { return true }

type InitiatePaymentResult struct {
	PaymentID    string `json:"payment_id"`
	Status       string `json:"status"`
	Method       string `json:"method"`
	ProviderRef  string `json:"provider_ref,omitempty"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type InitiatePaymentHandler struct {
	UoWFactory uow.Factory
	Gateways   policies.GatewayResolver
	Pricing    domainpricing.Calculator
	Audit      policies.AuditPort
	Logger     *slog.Logger
	Now        func() time.Time
}

func (h *InitiatePaymentHandler) Handle(ctx context.Context, cmd InitiatePaymentCommand) (*InitiatePaymentResult, error) {
	method := policies.ResolveMethod(h.Gateways, cmd.MethodHint)
	adapter, err := h.Gateways.ByMethod(method)
	if err != nil {
		return nil, err
	}
	now := h.now()

	// Phase 1: guards and the durable pending payment. Committed before any
	// network traffic so a timed-out initiation can still be reconciled by a
	// later webhook or poll.
	p, err := h.createPending(ctx, cmd, adapter, method, now)
	if err != nil {
		return nil, err
	}

	// Phase 2: the gateway call. On failure the payment stays pending and
	// the gateway error surfaces to the caller for a safe retry.
	initiated, err := adapter.Initiate(ctx, p, cmd.Payer)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("gateway initiation failed", "payment_id", p.ID, "method", method, "error", err)
		}
		return nil, err
	}

	// Phase 3: record acceptance. Processing means the gateway took the
	// initiation call, not that money moved.
	if err := h.markProcessing(ctx, p.ID, initiated.ProviderRef, cmd, now); err != nil {
		return nil, err
	}

	if h.Logger != nil {
		h.Logger.Info("payment initiated", "payment_id", p.ID, "booking_id", cmd.BookingID, "method", method, "provider_ref", initiated.ProviderRef)
	}
	return &InitiatePaymentResult{
		PaymentID:    string(p.ID),
		Status:       string(domainpayment.StatusProcessing),
		Method:       string(method),
		ProviderRef:  initiated.ProviderRef,
		CheckoutURL:  initiated.CheckoutURL,
		ClientSecret: initiated.ClientSecret,
	}, nil
}

func (h *InitiatePaymentHandler) createPending(
	ctx context.Context,
	cmd InitiatePaymentCommand,
	adapter policies.GatewayAdapter,
	method domainpayment.Method,
	now time.Time,
) (*domainpayment.Payment, error) {
	unit, err := h.UoWFactory.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	ctx = uow.Bind(ctx, unit)
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(ctx)
		}
	}()

	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(cmd.BookingID))
	if err != nil {
		return nil, err
	}
	switch cmd.Actor.Role {
	case domainbooking.RoleAdmin:
	case domainbooking.RoleTenant:
		if cmd.Actor.UserID != b.TenantID {
			return nil, domainbooking.ErrForbidden
		}
	default:
		return nil, domainbooking.ErrForbidden
	}
	if b.PaymentStatus == domainbooking.PaymentPaid {
		return nil, domainpayment.ErrAlreadyPaid
	}
	if b.Status != domainbooking.StatusApproved {
		return nil, domainpayment.ErrBookingNotApproved
	}
	open, err := unit.Payments().HasOpenForBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, domainpayment.ErrOpenPaymentExists
	}

	property, err := unit.Properties().ByID(ctx, domainlisting.PropertyID(string(b.PropertyID)))
	if err != nil {
		return nil, err
	}
	// The charge reuses the exact quote math from booking time; the derived
	// total must equal the booking's immutable total.
	quote, err := h.Pricing.Quote(property.MonthlyRate, b.Range)
	if err != nil {
		return nil, err
	}

	p, err := domainpayment.NewPayment(domainpayment.CreateParams{
		ID:        domainpayment.PaymentID(cmd.CommandID),
		BookingID: string(b.ID),
		PayerID:   b.TenantID,
		PayeeID:   b.OwnerID,
		Method:    method,
		Breakdown: domainpayment.Breakdown{Rent: quote.Rent, ServiceFee: quote.ServiceFee},
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if ref, ok := adapter.PreRef(); ok {
		p.AttachProviderRef(ref, now)
	}
	if err := unit.Payments().Create(ctx, p); err != nil {
		return nil, err
	}
	if err := unit.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return p, nil
}

func (h *InitiatePaymentHandler) markProcessing(
	ctx context.Context,
	id domainpayment.PaymentID,
	providerRef string,
	cmd InitiatePaymentCommand,
	now time.Time,
) error {
	unit, err := h.UoWFactory.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return err
	}
	ctx = uow.Bind(ctx, unit)
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(ctx)
		}
	}()

	p, err := unit.Payments().ByID(ctx, id)
	if err != nil {
		return err
	}
	if providerRef != "" && p.ProviderRef == "" {
		p.AttachProviderRef(providerRef, now)
	}
	if err := p.MarkProcessing(now); err != nil {
		return err
	}
	if err := unit.Payments().Save(ctx, p); err != nil {
		return err
	}

	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(p.BookingID))
	if err != nil {
		return err
	}
	b.SetPaymentStatus(domainbooking.PaymentProcessing, string(p.ID), now)
	if err := unit.Bookings().Save(ctx, b); err != nil {
		return err
	}
	if err := unit.Commit(ctx); err != nil {
		return err
	}
	committed = true

	policies.RecordAudit(ctx, h.Audit, h.Logger, policies.AuditEntry{
		Action:      "payment.initiate",
		TargetID:    string(p.ID),
		TargetType:  "payment",
		PerformedBy: cmd.Actor.UserID,
		Details:     map[string]any{"booking_id": p.BookingID, "method": string(p.Method), "amount": p.Amount.Amount},
	})
	return nil
}

func (h *InitiatePaymentHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

var _ commands.Handler[InitiatePaymentCommand, *InitiatePaymentResult] = (*InitiatePaymentHandler)(nil)
