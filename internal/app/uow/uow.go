package uow

import (
	"context"

	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
)

// UnitOfWork coordinates repositories inside a transaction boundary. The
// reconciliation coordinator relies on its payment and booking writes landing
// in one durable unit.
type UnitOfWork interface {
	Properties() domainlisting.Repository
	Bookings() domainbooking.Repository
	Payments() domainpayment.Repository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory starts unit of work instances.
type Factory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

// TxOptions configure transaction boundaries.
type TxOptions struct {
	ReadOnly bool
}
