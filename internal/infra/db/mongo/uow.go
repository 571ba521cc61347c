package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appoutbox "kiraya/internal/app/outbox"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
)

// OutboxStore persists staged event records. Implemented by the outbox
// package's mongo-backed store.
type OutboxStore interface {
	Add(ctx context.Context, record appoutbox.EventRecord) error
}

// Factory wires Mongo transactions into the generic UnitOfWork interface.
type Factory struct {
	DB *mongo.Database

	PropertyRepo domainlisting.Repository
	BookingRepo  domainbooking.Repository
	PaymentRepo  domainpayment.Repository
	OutboxStore  OutboxStore
}

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

// Begin starts a MongoDB session/transaction.
func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	session, err := f.DB.Client().StartSession()
	if err != nil {
		return nil, err
	}
	txnOpts := options.Transaction().SetReadConcern(f.DB.ReadConcern()).SetWriteConcern(f.DB.WriteConcern())
	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, err
	}
	return &Unit{
		db:         f.DB,
		session:    session,
		properties: f.PropertyRepo,
		bookings:   f.BookingRepo,
		payments:   f.PaymentRepo,
		box:        &stagedOutbox{store: f.OutboxStore},
	}, nil
}

type Unit struct {
	db      *mongo.Database
	session mongo.Session

	properties domainlisting.Repository
	bookings   domainbooking.Repository
	payments   domainpayment.Repository
	box        *stagedOutbox
}

func (u *Unit) Properties() domainlisting.Repository { return u.properties }

func (u *Unit) Bookings() domainbooking.Repository { return u.bookings }

func (u *Unit) Payments() domainpayment.Repository { return u.payments }

// Outbox returns the staging buffer for this transaction. Records land in
// the outbox collection inside the same session, so events commit or abort
// together with the aggregate writes.
func (u *Unit) Outbox() appoutbox.Outbox { return u.box }

func (u *Unit) Commit(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	sctx := mongo.NewSessionContext(ctx, u.session)
	if err := u.box.persist(sctx); err != nil {
		_ = u.session.AbortTransaction(ctx)
		return err
	}
	return u.session.CommitTransaction(ctx)
}

func (u *Unit) Rollback(ctx context.Context) error {
	defer u.session.EndSession(ctx)
	u.box.discard()
	return u.session.AbortTransaction(ctx)
}

// InjectContext makes the Mongo session visible to repository calls made
// under this unit.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, u.session)
}

type stagedOutbox struct {
	store   OutboxStore
	records []appoutbox.EventRecord
}

func (s *stagedOutbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	s.records = append(s.records, record)
	return nil
}

func (s *stagedOutbox) Flush(ctx context.Context) error { return nil }

func (s *stagedOutbox) persist(ctx context.Context) error {
	if s.store == nil {
		s.records = nil
		return nil
	}
	for _, rec := range s.records {
		if err := s.store.Add(ctx, rec); err != nil {
			return err
		}
	}
	s.records = nil
	return nil
}

func (s *stagedOutbox) discard() { s.records = nil }
