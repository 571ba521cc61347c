package booking

import (
	"time"

	"kiraya/internal/domain/listing"
	"kiraya/internal/domain/shared/daterange"
	"kiraya/internal/domain/shared/money"
)

const (
	EventCreated       = "booking.created"
	EventStatusChanged = "booking.statusChanged"
)

type BookingCreated struct {
	BookingID  BookingID           `json:"booking_id"`
	PropertyID listing.PropertyID  `json:"property_id"`
	TenantID   string              `json:"tenant_id"`
	OwnerID    string              `json:"owner_id"`
	Range      daterange.DateRange `json:"range"`
	Total      money.Money         `json:"total"`
	At         time.Time           `json:"at"`
}

func (e BookingCreated) EventName() string     { return EventCreated }
func (e BookingCreated) AggregateID() string   { return string(e.BookingID) }
func (e BookingCreated) OccurredAt() time.Time { return e.At }

type BookingStatusChanged struct {
	BookingID BookingID `json:"booking_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorID   string    `json:"actor_id"`
	ActorRole Role      `json:"actor_role"`
	At        time.Time `json:"at"`
}

func (e BookingStatusChanged) EventName() string     { return EventStatusChanged }
func (e BookingStatusChanged) AggregateID() string   { return string(e.BookingID) }
func (e BookingStatusChanged) OccurredAt() time.Time { return e.At }
