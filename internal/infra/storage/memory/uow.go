package memory

import (
	"context"
	"errors"

	appoutbox "kiraya/internal/app/outbox"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
)

// Factory wires in-memory repositories into a unit-of-work boundary.
type Factory struct {
	PropertyRepo domainlisting.Repository
	BookingRepo  domainbooking.Repository
	PaymentRepo  domainpayment.Repository
	// Sink receives outbox records on commit. Usually the Outbox drained by
	// the publisher worker; nil drops events.
	Sink *Outbox
}

var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// Begin starts a lightweight transaction boundary. Repository writes apply
// immediately; only outbox records are buffered until Commit, matching the
// stage-then-flush contract the coordinator relies on.
func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.PropertyRepo == nil || f.BookingRepo == nil || f.PaymentRepo == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{
		properties: f.PropertyRepo,
		bookings:   f.BookingRepo,
		payments:   f.PaymentRepo,
		outbox:     &bufferedOutbox{sink: f.Sink},
	}, nil
}

type Unit struct {
	properties domainlisting.Repository
	bookings   domainbooking.Repository
	payments   domainpayment.Repository
	outbox     *bufferedOutbox
}

func (u *Unit) Properties() domainlisting.Repository { return u.properties }

func (u *Unit) Bookings() domainbooking.Repository { return u.bookings }

func (u *Unit) Payments() domainpayment.Repository { return u.payments }

// Outbox returns the per-unit staging buffer.
func (u *Unit) Outbox() appoutbox.Outbox { return u.outbox }

func (u *Unit) Commit(ctx context.Context) error {
	return u.outbox.flushToSink(ctx)
}

func (u *Unit) Rollback(ctx context.Context) error {
	u.outbox.discard()
	return nil
}

// bufferedOutbox holds records staged during a unit of work and hands them
// to the shared sink when that unit commits.
type bufferedOutbox struct {
	sink    *Outbox
	records []appoutbox.EventRecord
}

func (b *bufferedOutbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	b.records = append(b.records, record)
	return nil
}

func (b *bufferedOutbox) Flush(ctx context.Context) error { return nil }

func (b *bufferedOutbox) flushToSink(ctx context.Context) error {
	if b.sink == nil {
		b.records = nil
		return nil
	}
	for _, rec := range b.records {
		if err := b.sink.Add(ctx, rec); err != nil {
			return err
		}
	}
	b.records = nil
	return nil
}

func (b *bufferedOutbox) discard() { b.records = nil }
