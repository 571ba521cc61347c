package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kiraya/internal/app/commands"
	"kiraya/internal/app/middleware"
	"kiraya/internal/app/outbox"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpricing "kiraya/internal/domain/pricing"
	domainrange "kiraya/internal/domain/shared/daterange"
)

const requestBookingKey = "booking.request"

type RequestBookingCommand struct {
	CommandID       string
	PropertyID      string
	TenantID        string
	StartDate       time.Time
	EndDate         time.Time
	Occupants       int
	Message         string
	IdempotencyKeyV string
}

func (c RequestBookingCommand) Key() string { return requestBookingKey }

func (c RequestBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c RequestBookingCommand) ResultPrototype() any { return &RequestBookingResult{} }

type RequestBookingResult struct {
	BookingID   string `json:"booking_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	Nights      int    `json:"nights"`
}

var ErrUnitOfWorkRequired = errors.New("booking: unit of work required")

type RequestBookingHandler struct {
	UoWFactory uow.Factory
	Pricing    domainpricing.Calculator
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Audit      policies.AuditPort
	Logger     *slog.Logger
	Now        func() time.Time
}

func (h *RequestBookingHandler) Handle(ctx context.Context, cmd RequestBookingCommand) (*RequestBookingResult, error) {
	unit, ok := uow.FromContext(ctx)
	managed := false
	committed := false
	if !ok {
		if h.UoWFactory == nil {
			return nil, ErrUnitOfWorkRequired
		}
		var err error
		unit, err = h.UoWFactory.Begin(ctx, uow.TxOptions{})
		if err != nil {
			return nil, err
		}
		ctx = uow.ContextWithUnitOfWork(uow.Bind(ctx, unit), unit)
		managed = true
	}
	if managed {
		defer func() {
			if !committed {
				_ = unit.Rollback(ctx)
			}
		}()
	}

	dr, err := domainrange.New(cmd.StartDate, cmd.EndDate)
	if err != nil {
		return nil, domainbooking.ErrInvalidDateRange
	}
	now := h.now()

	property, err := unit.Properties().ByID(ctx, domainlisting.PropertyID(cmd.PropertyID))
	if err != nil {
		return nil, err
	}

	minMonths := h.Pricing.MinLeaseMonths
	if property.MinLeaseMonths > 0 {
		minMonths = property.MinLeaseMonths
	}
	calc := domainpricing.Calculator{FeeRate: h.Pricing.FeeRate, MinLeaseMonths: minMonths}
	quote, err := calc.Quote(property.MonthlyRate, dr)
	if err != nil {
		return nil, err
	}

	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:        domainbooking.BookingID(cmd.CommandID),
		Property:  property,
		TenantID:  cmd.TenantID,
		Range:     dr,
		Occupants: cmd.Occupants,
		Message:   cmd.Message,
		Total:     quote.Total,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	// Create runs the overlap check and the insert in one property-scoped
	// exclusive section; concurrent overlapping requests lose with
	// ErrDateOverlap, never with two pending holds.
	if err := unit.Bookings().Create(ctx, b); err != nil {
		return nil, err
	}

	pending := b.PendingEvents()
	b.ClearEvents()
	if err := outbox.RecordDomainEvents(ctx, stagingOutbox(unit, h.Outbox), h.encoder(), pending); err != nil {
		return nil, err
	}

	policies.RecordAudit(ctx, h.Audit, h.Logger, policies.AuditEntry{
		Action:      "booking.create",
		TargetID:    string(b.ID),
		TargetType:  "booking",
		PerformedBy: cmd.TenantID,
		Details:     map[string]any{"property_id": cmd.PropertyID, "total": quote.Total.Amount},
	})

	if managed {
		if err := unit.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
	}

	if h.Logger != nil {
		h.Logger.Info("booking requested", "booking_id", b.ID, "property_id", b.PropertyID, "tenant_id", b.TenantID, "total", quote.Total.Amount)
	}

	return &RequestBookingResult{
		BookingID:   string(b.ID),
		TotalAmount: quote.Total.Amount,
		Currency:    quote.Total.Currency,
		Nights:      quote.Nights,
	}, nil
}

func (h *RequestBookingHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

func (h *RequestBookingHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

var _ commands.Handler[RequestBookingCommand, *RequestBookingResult] = (*RequestBookingHandler)(nil)
var _ middleware.IdempotentCommand = (*RequestBookingCommand)(nil)

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
