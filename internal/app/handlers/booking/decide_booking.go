package booking

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"kiraya/internal/app/commands"
	"kiraya/internal/app/outbox"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
)

const (
	approveBookingKey  = "booking.approve"
	rejectBookingKey   = "booking.reject"
	cancelBookingKey   = "booking.cancel"
	completeBookingKey = "booking.complete"
)

// Transition commands run inside the bus transaction middleware; the unit of
// work must already be in context.

type ApproveBookingCommand struct {
	BookingID string
	Actor     domainbooking.Actor
	Response  string
}

func (c ApproveBookingCommand) Key() string { return approveBookingKey }

type RejectBookingCommand struct {
	BookingID string
	Actor     domainbooking.Actor
	Response  string
}

func (c RejectBookingCommand) Key() string { return rejectBookingKey }

type CancelBookingCommand struct {
	BookingID string
	Actor     domainbooking.Actor
	Reason    string
}

func (c CancelBookingCommand) Key() string { return cancelBookingKey }

type CompleteBookingCommand struct {
	BookingID string
	Actor     domainbooking.Actor
}

func (c CompleteBookingCommand) Key() string { return completeBookingKey }

type TransitionResult struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

// TransitionHandler applies an actor-gated booking transition and stages the
// resulting events.
type TransitionHandler struct {
	Outbox  outbox.Outbox
	Encoder outbox.EventEncoder
	Audit   policies.AuditPort
	Logger  *slog.Logger
	Now     func() time.Time
}

func (h *TransitionHandler) apply(
	ctx context.Context,
	bookingID string,
	actor domainbooking.Actor,
	action string,
	mutate func(b *domainbooking.Booking, now time.Time) error,
) (*TransitionResult, error) {
	unit, err := uow.Require(ctx)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(bookingID)
	if id == "" {
		return nil, domainbooking.ErrNotFound
	}

	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(id))
	if err != nil {
		return nil, err
	}

	now := h.now()
	if err := mutate(b, now); err != nil {
		return nil, err
	}
	if err := unit.Bookings().Save(ctx, b); err != nil {
		return nil, err
	}

	pending := b.PendingEvents()
	b.ClearEvents()
	if err := outbox.RecordDomainEvents(ctx, stagingOutbox(unit, h.Outbox), h.encoder(), pending); err != nil {
		return nil, err
	}

	policies.RecordAudit(ctx, h.Audit, h.Logger, policies.AuditEntry{
		Action:      action,
		TargetID:    string(b.ID),
		TargetType:  "booking",
		PerformedBy: actor.UserID,
		Details:     map[string]any{"status": string(b.Status), "role": string(actor.Role)},
	})

	if h.Logger != nil {
		h.Logger.Info("booking transition", "booking_id", b.ID, "action", action, "status", b.Status, "actor", actor.UserID, "role", actor.Role)
	}
	return &TransitionResult{BookingID: string(b.ID), Status: string(b.Status)}, nil
}

func (h *TransitionHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *TransitionHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

type ApproveBookingHandler struct{ *TransitionHandler }

func (h ApproveBookingHandler) Handle(ctx context.Context, cmd ApproveBookingCommand) (*TransitionResult, error) {
	return h.apply(ctx, cmd.BookingID, cmd.Actor, "booking.approve", func(b *domainbooking.Booking, now time.Time) error {
		return b.Approve(cmd.Actor, cmd.Response, now)
	})
}

type RejectBookingHandler struct{ *TransitionHandler }

func (h RejectBookingHandler) Handle(ctx context.Context, cmd RejectBookingCommand) (*TransitionResult, error) {
	return h.apply(ctx, cmd.BookingID, cmd.Actor, "booking.reject", func(b *domainbooking.Booking, now time.Time) error {
		return b.Reject(cmd.Actor, cmd.Response, now)
	})
}

type CancelBookingHandler struct{ *TransitionHandler }

func (h CancelBookingHandler) Handle(ctx context.Context, cmd CancelBookingCommand) (*TransitionResult, error) {
	return h.apply(ctx, cmd.BookingID, cmd.Actor, "booking.cancel", func(b *domainbooking.Booking, now time.Time) error {
		return b.Cancel(cmd.Actor, cmd.Reason, now)
	})
}

type CompleteBookingHandler struct{ *TransitionHandler }

func (h CompleteBookingHandler) Handle(ctx context.Context, cmd CompleteBookingCommand) (*TransitionResult, error) {
	return h.apply(ctx, cmd.BookingID, cmd.Actor, "booking.complete", func(b *domainbooking.Booking, now time.Time) error {
		return b.Complete(cmd.Actor, now)
	})
}

var (
	_ commands.Handler[ApproveBookingCommand, *TransitionResult]  = ApproveBookingHandler{}
	_ commands.Handler[RejectBookingCommand, *TransitionResult]   = RejectBookingHandler{}
	_ commands.Handler[CancelBookingCommand, *TransitionResult]   = CancelBookingHandler{}
	_ commands.Handler[CompleteBookingCommand, *TransitionResult] = CompleteBookingHandler{}
)
