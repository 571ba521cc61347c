// Package recon applies external payment outcomes to the ledger exactly once
// and keeps the booking's payment-status mirror consistent with it.
package recon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kiraya/internal/app/outbox"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainpayment "kiraya/internal/domain/payment"
	"kiraya/internal/domain/shared/events"
)

// Outcome describes the state a reconciliation pass ended in. Idempotent is
// true when the payment was already terminal and the pass changed nothing.
type Outcome struct {
	PaymentID  domainpayment.PaymentID
	BookingID  string
	Status     domainpayment.Status
	Idempotent bool
}

// Coordinator runs the reconciliation algorithm for webhook pushes and
// polling pulls. Both entry points converge on the same per-payment
// serialized pass, so ordering and duplication of notifications cannot
// produce divergent state.
type Coordinator struct {
	UoWFactory uow.Factory
	Gateways   policies.GatewayResolver
	Encoder    outbox.EventEncoder
	Audit      policies.AuditPort
	Logger     *slog.Logger
	Now        func() time.Time

	locks *keyedMutex
}

func NewCoordinator(factory uow.Factory, gateways policies.GatewayResolver, audit policies.AuditPort, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		UoWFactory: factory,
		Gateways:   gateways,
		Audit:      audit,
		Logger:     logger,
		locks:      newKeyedMutex(),
	}
}

// ReconcileByProviderRef is the webhook entry point.
func (c *Coordinator) ReconcileByProviderRef(ctx context.Context, method domainpayment.Method, providerRef string) (Outcome, error) {
	if providerRef == "" {
		return Outcome{}, domainpayment.ErrNotFound
	}
	id, err := c.resolveID(ctx, func(ctx context.Context, unit uow.UnitOfWork) (*domainpayment.Payment, error) {
		return unit.Payments().ByProviderRef(ctx, method, providerRef)
	})
	if err != nil {
		return Outcome{}, err
	}
	return c.ReconcileByID(ctx, id)
}

// ReconcileByID is the polling entry point.
func (c *Coordinator) ReconcileByID(ctx context.Context, id domainpayment.PaymentID) (Outcome, error) {
	unlock := c.locks.Lock(string(id))
	defer unlock()

	outcome, retry, err := c.reconcileOnce(ctx, id)
	if retry {
		// Lost an optimistic-version race; one retry against fresh state.
		outcome, _, err = c.reconcileOnce(ctx, id)
	}
	return outcome, err
}

// Repair re-derives the booking's payment-status mirror from the payment and
// restores the outcome event a lost pass failed to stage. Running it against
// a consistent pair is a no-op.
func (c *Coordinator) Repair(ctx context.Context, id domainpayment.PaymentID) error {
	unlock := c.locks.Lock(string(id))
	defer unlock()

	unit, err := c.UoWFactory.Begin(ctx, uow.TxOptions{})
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
	_, _, err = c.settle(ctx, unit, p, &committed)
	return err
}

func (c *Coordinator) reconcileOnce(ctx context.Context, id domainpayment.PaymentID) (Outcome, bool, error) {
	unit, err := c.UoWFactory.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return Outcome{}, false, err
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
		return Outcome{}, false, err
	}

	// Idempotency guard: a terminal payment is never re-verified. If steps
	// 4-5 were lost after the payment write (an optimistic race on the
	// booking save), this pass finishes them; a consistent pair changes
	// nothing and re-emits nothing, whatever the provider redelivers.
	if p.Status.Terminal() {
		return c.settle(ctx, unit, p, &committed)
	}

	adapter, err := c.Gateways.ByMethod(p.Method)
	if err != nil {
		return Outcome{}, false, err
	}
	verified, err := adapter.Verify(ctx, p.ProviderRef)
	if err != nil {
		// Inconclusive verification: never guess a terminal state. The
		// payment stays where it was for later webhook/poll resolution.
		return Outcome{}, false, err
	}

	now := c.now()
	switch verified.Outcome {
	case policies.OutcomeSucceeded:
		if err := p.MarkSucceeded(verified.Raw, now); err != nil {
			return Outcome{}, false, err
		}
	case policies.OutcomeFailed:
		reason := verified.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		if err := p.MarkFailed(reason, now); err != nil {
			return Outcome{}, false, err
		}
	default:
		// Still pending at the provider; nothing to apply yet.
		_ = unit.Rollback(ctx)
		committed = true
		return Outcome{PaymentID: p.ID, BookingID: p.BookingID, Status: p.Status}, false, nil
	}

	if err := unit.Payments().Save(ctx, p); err != nil {
		if errors.Is(err, domainpayment.ErrConcurrentUpdate) {
			return Outcome{}, true, err
		}
		return Outcome{}, false, err
	}

	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(p.BookingID))
	if err != nil {
		return Outcome{}, false, err
	}
	b.SetPaymentStatus(mirrorFor(p.Status, b.PaymentStatus), string(p.ID), now)
	if err := unit.Bookings().Save(ctx, b); err != nil {
		if errors.Is(err, domainbooking.ErrConcurrentUpdate) {
			return Outcome{}, true, err
		}
		return Outcome{}, false, err
	}

	// Exactly one logical event per reconciliation outcome, staged in the
	// same unit of work as both writes.
	pending := p.PendingEvents()
	p.ClearEvents()
	if box := outboxFromUnit(unit); box != nil {
		if err := outbox.RecordDomainEvents(ctx, box, c.Encoder, pending); err != nil {
			return Outcome{}, false, err
		}
	}

	if err := unit.Commit(ctx); err != nil {
		return Outcome{}, false, err
	}
	committed = true

	policies.RecordAudit(ctx, c.Audit, c.Logger, policies.AuditEntry{
		Action:      "payment.reconcile",
		TargetID:    string(p.ID),
		TargetType:  "payment",
		PerformedBy: "system",
		Details:     map[string]any{"status": string(p.Status), "booking_id": p.BookingID},
	})
	if c.Logger != nil {
		c.Logger.Info("payment reconciled", "payment_id", p.ID, "booking_id", p.BookingID, "status", p.Status)
	}
	return Outcome{PaymentID: p.ID, BookingID: p.BookingID, Status: p.Status}, false, nil
}

// settle closes out a pass against the payment's current status. When the
// booking mirror matches, the pass is a pure no-op; when it is stale, the
// mirror write and the outcome event were lost with an earlier pass's
// rollback, so both are applied here.
func (c *Coordinator) settle(ctx context.Context, unit uow.UnitOfWork, p *domainpayment.Payment, committed *bool) (Outcome, bool, error) {
	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(p.BookingID))
	if err != nil {
		return Outcome{}, false, err
	}
	want := mirrorFor(p.Status, b.PaymentStatus)
	if b.PaymentStatus == want && b.PaymentID == string(p.ID) {
		_ = unit.Rollback(ctx)
		*committed = true
		return Outcome{PaymentID: p.ID, BookingID: p.BookingID, Status: p.Status, Idempotent: true}, false, nil
	}

	now := c.now()
	b.SetPaymentStatus(want, string(p.ID), now)
	if err := unit.Bookings().Save(ctx, b); err != nil {
		if errors.Is(err, domainbooking.ErrConcurrentUpdate) {
			return Outcome{}, true, err
		}
		return Outcome{}, false, err
	}
	if box := outboxFromUnit(unit); box != nil {
		if ev := outcomeEvent(p, now); ev != nil {
			if err := outbox.RecordDomainEvents(ctx, box, c.Encoder, []events.DomainEvent{ev}); err != nil {
				return Outcome{}, false, err
			}
		}
	}
	if err := unit.Commit(ctx); err != nil {
		return Outcome{}, false, err
	}
	*committed = true
	if c.Logger != nil {
		c.Logger.Info("payment mirror settled", "payment_id", p.ID, "booking_id", b.ID, "payment_status", want)
	}
	return Outcome{PaymentID: p.ID, BookingID: p.BookingID, Status: p.Status}, false, nil
}

// outcomeEvent rebuilds the event a lost reconciliation pass would have
// emitted. Only succeeded and failed are reconciliation outcomes; other
// terminal states emit from their own flows.
func outcomeEvent(p *domainpayment.Payment, now time.Time) events.DomainEvent {
	switch p.Status {
	case domainpayment.StatusSucceeded:
		at := now
		if p.PaidAt != nil {
			at = *p.PaidAt
		}
		return domainpayment.PaymentSucceeded{
			PaymentID: p.ID,
			BookingID: p.BookingID,
			PayerID:   p.PayerID,
			PayeeID:   p.PayeeID,
			Amount:    p.Amount,
			At:        at,
		}
	case domainpayment.StatusFailed:
		return domainpayment.PaymentFailed{
			PaymentID: p.ID,
			BookingID: p.BookingID,
			PayerID:   p.PayerID,
			PayeeID:   p.PayeeID,
			Amount:    p.Amount,
			Reason:    p.FailureReason,
			At:        now,
		}
	}
	return nil
}

func (c *Coordinator) resolveID(ctx context.Context, find func(context.Context, uow.UnitOfWork) (*domainpayment.Payment, error)) (domainpayment.PaymentID, error) {
	unit, err := c.UoWFactory.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return "", err
	}
	ctx = uow.Bind(ctx, unit)
	defer func() { _ = unit.Rollback(ctx) }()
	p, err := find(ctx, unit)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// mirrorFor maps a ledger status onto the booking's informational mirror.
func mirrorFor(s domainpayment.Status, current domainbooking.PaymentStatus) domainbooking.PaymentStatus {
	switch s {
	case domainpayment.StatusPending, domainpayment.StatusProcessing:
		return domainbooking.PaymentProcessing
	case domainpayment.StatusSucceeded:
		return domainbooking.PaymentPaid
	case domainpayment.StatusFailed:
		return domainbooking.PaymentFailed
	case domainpayment.StatusRefunded, domainpayment.StatusPartiallyRefunded:
		return domainbooking.PaymentRefunded
	case domainpayment.StatusCancelled:
		return domainbooking.PaymentUnpaid
	}
	return current
}

// OutboxProvider is implemented by units of work that carry their own staged
// outbox; events then commit atomically with the payment and booking writes.
type OutboxProvider interface {
	Outbox() outbox.Outbox
}

func outboxFromUnit(unit uow.UnitOfWork) outbox.Outbox {
	if provider, ok := unit.(OutboxProvider); ok {
		return provider.Outbox()
	}
	return nil
}
