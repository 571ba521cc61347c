package payment

import (
	"time"

	"kiraya/internal/domain/shared/money"
)

const (
	EventSucceeded = "payment.succeeded"
	EventFailed    = "payment.failed"
	EventRefunded  = "payment.refunded"
)

type PaymentSucceeded struct {
	PaymentID PaymentID   `json:"payment_id"`
	BookingID string      `json:"booking_id"`
	PayerID   string      `json:"payer_id"`
	PayeeID   string      `json:"payee_id"`
	Amount    money.Money `json:"amount"`
	At        time.Time   `json:"at"`
}

func (e PaymentSucceeded) EventName() string     { return EventSucceeded }
func (e PaymentSucceeded) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentSucceeded) OccurredAt() time.Time { return e.At }

type PaymentFailed struct {
	PaymentID PaymentID   `json:"payment_id"`
	BookingID string      `json:"booking_id"`
	PayerID   string      `json:"payer_id"`
	PayeeID   string      `json:"payee_id"`
	Amount    money.Money `json:"amount"`
	Reason    string      `json:"reason"`
	At        time.Time   `json:"at"`
}

func (e PaymentFailed) EventName() string     { return EventFailed }
func (e PaymentFailed) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentFailed) OccurredAt() time.Time { return e.At }

type PaymentRefunded struct {
	PaymentID PaymentID   `json:"payment_id"`
	BookingID string      `json:"booking_id"`
	PayerID   string      `json:"payer_id"`
	PayeeID   string      `json:"payee_id"`
	Amount    money.Money `json:"amount"`
	Reason    string      `json:"reason"`
	At        time.Time   `json:"at"`
}

func (e PaymentRefunded) EventName() string     { return EventRefunded }
func (e PaymentRefunded) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentRefunded) OccurredAt() time.Time { return e.At }
