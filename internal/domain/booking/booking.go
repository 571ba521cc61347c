package booking

import (
	"context"
	"errors"
	"time"

	"kiraya/internal/domain/listing"
	"kiraya/internal/domain/shared/daterange"
	"kiraya/internal/domain/shared/events"
	"kiraya/internal/domain/shared/money"
)

var (
	ErrNotFound            = errors.New("booking: not found")
	ErrForbidden           = errors.New("booking: actor not allowed to perform transition")
	ErrSelfBooking         = errors.New("booking: tenant cannot book their own property")
	ErrPropertyUnavailable = errors.New("booking: property is not available")
	ErrInvalidDateRange    = errors.New("booking: invalid date range")
	ErrDateOverlap         = errors.New("booking: date range overlaps an existing booking")
	ErrInvalidOccupants    = errors.New("booking: occupants count must be positive")
	ErrCompletionNotDue    = errors.New("booking: stay not paid or not yet ended")
	ErrConcurrentUpdate    = errors.New("booking: concurrent update detected")
)

type BookingID string

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether a booking status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether the booking holds its date range. Pending requests
// hold the range too, so two simultaneous requests cannot race each other.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// PaymentStatus is an informational mirror of the linked payment, written
// only by the reconciliation coordinator or explicit admin action.
type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "UNPAID"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentPaid       PaymentStatus = "PAID"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

type Role string

const (
	RoleTenant Role = "tenant"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor identifies who requests a transition. Authentication happens at the
// edge; the aggregate only enforces the transition table.
type Actor struct {
	UserID string
	Role   Role
}

// TransitionError reports an edge absent from the transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return "booking: invalid transition " + string(e.From) + " -> " + string(e.To)
}

// Cancellation records who cancelled a booking and why.
type Cancellation struct {
	Actor     string
	Role      Role
	Reason    string
	Timestamp time.Time
}

type Booking struct {
	ID            BookingID
	PropertyID    listing.PropertyID
	TenantID      string
	OwnerID       string
	Range         daterange.DateRange
	Occupants     int
	Message       string
	Total         money.Money
	Status        Status
	PaymentStatus PaymentStatus
	PaymentID     string
	OwnerResponse string
	Cancellation  *Cancellation
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	// Create atomically checks the overlap invariant and inserts the booking
	// within a property-scoped exclusive section; returns ErrDateOverlap when
	// the range conflicts with a pending or approved booking.
	Create(ctx context.Context, b *Booking) error
	Save(ctx context.Context, b *Booking) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Booking, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Booking, error)
	ListByProperty(ctx context.Context, propertyID listing.PropertyID) ([]*Booking, error)
}

type CreateParams struct {
	ID        BookingID
	Property  *listing.Property
	TenantID  string
	Range     daterange.DateRange
	Occupants int
	Message   string
	Total     money.Money
	CreatedAt time.Time
}

func NewBooking(params CreateParams) (*Booking, error) {
	if params.Property == nil {
		return nil, listing.ErrPropertyNotFound
	}
	if params.Property.Unavailable {
		return nil, ErrPropertyUnavailable
	}
	if params.TenantID == "" {
		return nil, errors.New("booking: tenant id required")
	}
	if params.TenantID == params.Property.OwnerID {
		return nil, ErrSelfBooking
	}
	if params.Occupants <= 0 {
		return nil, ErrInvalidOccupants
	}
	now := params.CreatedAt.UTC()
	if err := params.Range.Validate(); err != nil {
		return nil, ErrInvalidDateRange
	}
	if params.Range.Start.Before(daterange.Day(now)) {
		return nil, ErrInvalidDateRange
	}
	if !params.Total.IsPositive() {
		return nil, errors.New("booking: total must be positive")
	}
	b := &Booking{
		ID:            params.ID,
		PropertyID:    params.Property.ID,
		TenantID:      params.TenantID,
		OwnerID:       params.Property.OwnerID,
		Range:         params.Range,
		Occupants:     params.Occupants,
		Message:       params.Message,
		Total:         params.Total,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.Record(BookingCreated{
		BookingID:  b.ID,
		PropertyID: b.PropertyID,
		TenantID:   b.TenantID,
		OwnerID:    b.OwnerID,
		Range:      b.Range,
		Total:      b.Total,
		At:         now,
	})
	return b, nil
}

// transitionTable maps each allowed edge to the roles that may walk it.
// Anything missing here is an invalid transition regardless of actor.
var transitionTable = map[Status]map[Status][]Role{
	StatusPending: {
		StatusApproved:  {RoleOwner, RoleAdmin},
		StatusRejected:  {RoleOwner, RoleAdmin},
		StatusCancelled: {RoleTenant, RoleOwner, RoleAdmin},
	},
	StatusApproved: {
		StatusCancelled: {RoleTenant, RoleOwner, RoleAdmin},
		StatusCompleted: {RoleOwner, RoleAdmin, RoleSystem},
	},
}

func (b *Booking) authorize(to Status, actor Actor) error {
	// A tenant may only ever cancel, whatever the current state looks like.
	if actor.Role == RoleTenant && to != StatusCancelled {
		return ErrForbidden
	}
	allowed, ok := transitionTable[b.Status][to]
	if !ok {
		return &TransitionError{From: b.Status, To: to}
	}
	permitted := false
	for _, role := range allowed {
		if role == actor.Role {
			permitted = true
			break
		}
	}
	if !permitted {
		return ErrForbidden
	}
	switch actor.Role {
	case RoleTenant:
		if actor.UserID != b.TenantID {
			return ErrForbidden
		}
	case RoleOwner:
		if actor.UserID != b.OwnerID {
			return ErrForbidden
		}
	}
	return nil
}

func (b *Booking) Approve(actor Actor, response string, now time.Time) error {
	if err := b.authorize(StatusApproved, actor); err != nil {
		return err
	}
	b.applyTransition(StatusApproved, actor, now)
	b.OwnerResponse = response
	return nil
}

func (b *Booking) Reject(actor Actor, response string, now time.Time) error {
	if err := b.authorize(StatusRejected, actor); err != nil {
		return err
	}
	b.applyTransition(StatusRejected, actor, now)
	b.OwnerResponse = response
	return nil
}

func (b *Booking) Cancel(actor Actor, reason string, now time.Time) error {
	if err := b.authorize(StatusCancelled, actor); err != nil {
		return err
	}
	b.applyTransition(StatusCancelled, actor, now)
	b.Cancellation = &Cancellation{
		Actor:     actor.UserID,
		Role:      actor.Role,
		Reason:    reason,
		Timestamp: now.UTC(),
	}
	return nil
}

func (b *Booking) Complete(actor Actor, now time.Time) error {
	if err := b.authorize(StatusCompleted, actor); err != nil {
		return err
	}
	// The system actor completes stays automatically, but only once the
	// booking is paid and the stay's end date has passed. Owners and admins
	// complete explicitly.
	if actor.Role == RoleSystem {
		if b.PaymentStatus != PaymentPaid || !b.Range.Ended(now) {
			return ErrCompletionNotDue
		}
	}
	b.applyTransition(StatusCompleted, actor, now)
	return nil
}

func (b *Booking) applyTransition(to Status, actor Actor, now time.Time) {
	from := b.Status
	b.Status = to
	b.UpdatedAt = now.UTC()
	b.Record(BookingStatusChanged{
		BookingID: b.ID,
		From:      from,
		To:        to,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		At:        b.UpdatedAt,
	})
}

// SetPaymentStatus updates the informational mirror. Only the reconciliation
// coordinator and admin override paths call this; booking status is not
// affected.
func (b *Booking) SetPaymentStatus(ps PaymentStatus, paymentID string, now time.Time) {
	b.PaymentStatus = ps
	if paymentID != "" {
		b.PaymentID = paymentID
	}
	b.UpdatedAt = now.UTC()
}
