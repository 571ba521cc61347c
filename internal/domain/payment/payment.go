package payment

import (
	"context"
	"errors"
	"time"

	"kiraya/internal/domain/shared/events"
	"kiraya/internal/domain/shared/money"
)

var (
	ErrNotFound            = errors.New("payment: not found")
	ErrAlreadyPaid         = errors.New("payment: booking is already paid")
	ErrBookingNotApproved  = errors.New("payment: booking is not approved")
	ErrInvalidAmount       = errors.New("payment: amount must be positive")
	ErrOpenPaymentExists   = errors.New("payment: booking already has a payment in flight")
	ErrNotSucceeded        = errors.New("payment: refund requires a succeeded payment")
	ErrRefundExceedsAmount = errors.New("payment: cumulative refund exceeds payment amount")
	ErrConcurrentUpdate    = errors.New("payment: concurrent update detected")
)

type PaymentID string

// Method is the closed set of payment channels. The server resolves the
// method from configuration plus an optional client preference hint; it is
// never taken verbatim from client input.
type Method string

const (
	MethodMobileMoney Method = "mobile_money"
	MethodCard        Method = "card"
	MethodManual      Method = "manual"
)

func ParseMethod(raw string) (Method, bool) {
	switch Method(raw) {
	case MethodMobileMoney, MethodCard, MethodManual:
		return Method(raw), true
	}
	return "", false
}

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusProcessing        Status = "PROCESSING"
	StatusSucceeded         Status = "SUCCEEDED"
	StatusFailed            Status = "FAILED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal states short-circuit reconciliation: duplicate notifications for a
// payment that already reached one of these are absorbed without re-verifying
// or re-emitting events.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRefunded, StatusPartiallyRefunded, StatusCancelled:
		return true
	}
	return false
}

// TransitionError reports a requested edge outside the ledger's map.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return "payment: invalid transition " + string(e.From) + " -> " + string(e.To)
}

// validNext mirrors the ledger lifecycle: pending -> processing/failed/cancelled,
// processing -> succeeded/failed, succeeded -> refund states, failed -> pending
// (manual retry only).
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusSucceeded: true,
		StatusFailed:    true,
	},
	StatusSucceeded: {
		StatusRefunded:          true,
		StatusPartiallyRefunded: true,
	},
	StatusPartiallyRefunded: {
		StatusRefunded:          true,
		StatusPartiallyRefunded: true,
	},
	StatusFailed: {
		StatusPending: true,
	},
}

// Breakdown itemizes the charged amount. Components must sum to Amount.
type Breakdown struct {
	Rent       money.Money
	ServiceFee money.Money
	Taxes      money.Money
	Deposit    money.Money
	Discount   money.Money
}

func (b Breakdown) Sum() (money.Money, error) {
	total := b.Rent
	for _, part := range []money.Money{b.ServiceFee, b.Taxes, b.Deposit} {
		if part.Currency == "" {
			continue
		}
		var err error
		total, err = total.Add(part)
		if err != nil {
			return money.Money{}, err
		}
	}
	if b.Discount.Currency != "" {
		var err error
		total, err = total.Sub(b.Discount)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// Refund records one executed refund against a succeeded payment.
type Refund struct {
	RefundID   string
	Amount     money.Money
	Reason     string
	RefundedAt time.Time
}

type Payment struct {
	ID        PaymentID
	BookingID string
	PayerID   string
	PayeeID   string
	Amount    money.Money
	Method    Method
	Status    Status
	// ProviderRef is the gateway transaction reference, unique within a
	// gateway namespace. It doubles as the webhook idempotency key.
	ProviderRef     string
	Breakdown       Breakdown
	Refunds         []Refund
	FailureReason   string
	ProviderPayload []byte
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id PaymentID) (*Payment, error)
	ByProviderRef(ctx context.Context, method Method, providerRef string) (*Payment, error)
	Create(ctx context.Context, p *Payment) error
	Save(ctx context.Context, p *Payment) error
	ListByBooking(ctx context.Context, bookingID string) ([]*Payment, error)
	// HasOpenForBooking reports whether a non-terminal payment exists for the
	// booking; at most one may be in flight at a time.
	HasOpenForBooking(ctx context.Context, bookingID string) (bool, error)
}

type CreateParams struct {
	ID        PaymentID
	BookingID string
	PayerID   string
	PayeeID   string
	Method    Method
	Breakdown Breakdown
	CreatedAt time.Time
}

func NewPayment(params CreateParams) (*Payment, error) {
	amount, err := params.Breakdown.Sum()
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := params.CreatedAt.UTC()
	return &Payment{
		ID:        params.ID,
		BookingID: params.BookingID,
		PayerID:   params.PayerID,
		PayeeID:   params.PayeeID,
		Amount:    amount,
		Method:    params.Method,
		Status:    StatusPending,
		Breakdown: params.Breakdown,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Payment) transition(to Status, now time.Time) error {
	if !validNext[p.Status][to] {
		return &TransitionError{From: p.Status, To: to}
	}
	p.Status = to
	p.UpdatedAt = now.UTC()
	return nil
}

// AttachProviderRef stores the gateway reference. For gateways that generate
// the reference locally this must be persisted before the initiate network
// call, so a timed-out initiation can still be reconciled later.
func (p *Payment) AttachProviderRef(ref string, now time.Time) {
	p.ProviderRef = ref
	p.UpdatedAt = now.UTC()
}

// MarkProcessing is applied once the gateway accepted the initiation call.
// Network acceptance, not payment success.
func (p *Payment) MarkProcessing(now time.Time) error {
	return p.transition(StatusProcessing, now)
}

// MarkSucceeded applies a verified successful outcome. A payment still in
// pending (initiation timed out locally but completed at the provider) passes
// through processing first; the ledger map has no pending->succeeded edge.
func (p *Payment) MarkSucceeded(providerPayload []byte, now time.Time) error {
	if p.Status == StatusPending {
		if err := p.transition(StatusProcessing, now); err != nil {
			return err
		}
	}
	if err := p.transition(StatusSucceeded, now); err != nil {
		return err
	}
	if p.PaidAt == nil {
		t := now.UTC()
		p.PaidAt = &t
	}
	p.ProviderPayload = providerPayload
	p.Record(PaymentSucceeded{
		PaymentID: p.ID,
		BookingID: p.BookingID,
		PayerID:   p.PayerID,
		PayeeID:   p.PayeeID,
		Amount:    p.Amount,
		At:        now.UTC(),
	})
	return nil
}

// MarkFailed applies a verified failure outcome.
func (p *Payment) MarkFailed(reason string, now time.Time) error {
	if err := p.transition(StatusFailed, now); err != nil {
		return err
	}
	p.FailureReason = reason
	p.Record(PaymentFailed{
		PaymentID: p.ID,
		BookingID: p.BookingID,
		PayerID:   p.PayerID,
		PayeeID:   p.PayeeID,
		Amount:    p.Amount,
		Reason:    reason,
		At:        now.UTC(),
	})
	return nil
}

// MarkCancelled abandons a pending payment that never reached the gateway.
func (p *Payment) MarkCancelled(now time.Time) error {
	return p.transition(StatusCancelled, now)
}

// ResetForRetry reopens a failed payment for another attempt. The provider
// reference is cleared so the retry allocates a fresh one and cannot collide
// with the previous attempt's idempotency key.
func (p *Payment) ResetForRetry(now time.Time) error {
	if err := p.transition(StatusPending, now); err != nil {
		return err
	}
	p.ProviderRef = ""
	p.FailureReason = ""
	p.ProviderPayload = nil
	return nil
}

// RefundedTotal is the cumulative amount refunded so far.
func (p *Payment) RefundedTotal() money.Money {
	total := money.Zero(p.Amount.Currency)
	for _, r := range p.Refunds {
		total, _ = total.Add(r.Amount)
	}
	return total
}

// ApplyRefund executes a (possibly partial) refund. Cumulative refunds may
// never exceed the original amount; state is left untouched on rejection.
func (p *Payment) ApplyRefund(refundID string, amount money.Money, reason string, now time.Time) error {
	if p.Status != StatusSucceeded && p.Status != StatusPartiallyRefunded {
		return ErrNotSucceeded
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	cumulative, err := p.RefundedTotal().Add(amount)
	if err != nil {
		return err
	}
	if p.Amount.LessThan(cumulative) {
		return ErrRefundExceedsAmount
	}
	target := StatusPartiallyRefunded
	if cumulative.Amount == p.Amount.Amount {
		target = StatusRefunded
	}
	if err := p.transition(target, now); err != nil {
		return err
	}
	p.Refunds = append(p.Refunds, Refund{
		RefundID:   refundID,
		Amount:     amount,
		Reason:     reason,
		RefundedAt: now.UTC(),
	})
	p.Record(PaymentRefunded{
		PaymentID: p.ID,
		BookingID: p.BookingID,
		PayerID:   p.PayerID,
		PayeeID:   p.PayeeID,
		Amount:    amount,
		Reason:    reason,
		At:        now.UTC(),
	})
	return nil
}
