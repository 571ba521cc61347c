package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainpayment "kiraya/internal/domain/payment"
	"kiraya/internal/domain/shared/money"
)

type PaymentRepository struct {
	col *mongo.Collection
}

func NewPaymentRepository(db *mongo.Database) *PaymentRepository {
	col := db.Collection("agg_payment")
	// Partial unique index keeps one payment per provider reference within a
	// gateway namespace, ignoring rows that have no reference yet.
	refIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "method", Value: 1}, {Key: "provider_ref", Value: 1}},
		Options: options.Index().SetUnique(true).SetPartialFilterExpression(
			bson.M{"provider_ref": bson.M{"$gt": ""}},
		),
	}
	bookingIdx := mongo.IndexModel{Keys: bson.D{{Key: "booking_id", Value: 1}}}
	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{refIdx, bookingIdx})
	return &PaymentRepository{col: col}
}

func (r *PaymentRepository) ByID(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.Payment, error) {
	var doc paymentDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainpayment.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *PaymentRepository) ByProviderRef(ctx context.Context, method domainpayment.Method, providerRef string) (*domainpayment.Payment, error) {
	var doc paymentDocument
	filter := bson.M{"method": string(method), "provider_ref": providerRef}
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainpayment.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *domainpayment.Payment) error {
	p.Version = 1
	_, err := r.col.InsertOne(ctx, newPaymentDocument(p))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domainpayment.ErrConcurrentUpdate
	}
	return err
}

func (r *PaymentRepository) Save(ctx context.Context, p *domainpayment.Payment) error {
	doc := newPaymentDocument(p)
	filter := bson.M{"_id": doc.ID, "version": p.Version}
	doc.Version = p.Version + 1
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update())
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainpayment.ErrConcurrentUpdate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return domainpayment.ErrConcurrentUpdate
	}
	p.Version = doc.Version
	return nil
}

func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domainpayment.Payment, error) {
	cursor, err := r.col.Find(ctx, bson.M{"booking_id": bookingID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []*domainpayment.Payment
	for cursor.Next(ctx) {
		var doc paymentDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cursor.Err()
}

func (r *PaymentRepository) HasOpenForBooking(ctx context.Context, bookingID string) (bool, error) {
	open := []string{
		string(domainpayment.StatusPending),
		string(domainpayment.StatusProcessing),
	}
	count, err := r.col.CountDocuments(ctx, bson.M{"booking_id": bookingID, "status": bson.M{"$in": open}})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type paymentDocument struct {
	ID              string           `bson:"_id"`
	BookingID       string           `bson:"booking_id"`
	PayerID         string           `bson:"payer_id"`
	PayeeID         string           `bson:"payee_id"`
	Amount          int64            `bson:"amount"`
	Currency        string           `bson:"currency"`
	Method          string           `bson:"method"`
	Status          string           `bson:"status"`
	ProviderRef     string           `bson:"provider_ref"`
	Breakdown       breakdownDoc     `bson:"breakdown"`
	Refunds         []refundDocument `bson:"refunds,omitempty"`
	FailureReason   string           `bson:"failure_reason"`
	ProviderPayload []byte           `bson:"provider_payload,omitempty"`
	PaidAt          *int64           `bson:"paid_at,omitempty"`
	CreatedAt       int64            `bson:"created_at"`
	UpdatedAt       int64            `bson:"updated_at"`
	Version         int64            `bson:"version"`
}

type breakdownDoc struct {
	Rent       int64 `bson:"rent"`
	ServiceFee int64 `bson:"service_fee"`
	Taxes      int64 `bson:"taxes"`
	Deposit    int64 `bson:"deposit"`
	Discount   int64 `bson:"discount"`
}

type refundDocument struct {
	RefundID   string `bson:"refund_id"`
	Amount     int64  `bson:"amount"`
	Currency   string `bson:"currency"`
	Reason     string `bson:"reason"`
	RefundedAt int64  `bson:"refunded_at"`
}

func newPaymentDocument(p *domainpayment.Payment) paymentDocument {
	doc := paymentDocument{
		ID:        string(p.ID),
		BookingID: p.BookingID,
		PayerID:   p.PayerID,
		PayeeID:   p.PayeeID,
		Amount:    p.Amount.Amount,
		Currency:  p.Amount.Currency,
		Method:    string(p.Method),
		Status:    string(p.Status),
		Breakdown: breakdownDoc{
			Rent:       p.Breakdown.Rent.Amount,
			ServiceFee: p.Breakdown.ServiceFee.Amount,
			Taxes:      p.Breakdown.Taxes.Amount,
			Deposit:    p.Breakdown.Deposit.Amount,
			Discount:   p.Breakdown.Discount.Amount,
		},
		ProviderRef:     p.ProviderRef,
		FailureReason:   p.FailureReason,
		ProviderPayload: p.ProviderPayload,
		CreatedAt:       p.CreatedAt.UnixMilli(),
		UpdatedAt:       p.UpdatedAt.UnixMilli(),
		Version:         p.Version,
	}
	if p.PaidAt != nil {
		ms := p.PaidAt.UnixMilli()
		doc.PaidAt = &ms
	}
	for _, ref := range p.Refunds {
		doc.Refunds = append(doc.Refunds, refundDocument{
			RefundID:   ref.RefundID,
			Amount:     ref.Amount.Amount,
			Currency:   ref.Amount.Currency,
			Reason:     ref.Reason,
			RefundedAt: ref.RefundedAt.UnixMilli(),
		})
	}
	return doc
}

func (d paymentDocument) toAggregate() *domainpayment.Payment {
	cur := d.Currency
	agg := &domainpayment.Payment{
		ID:          domainpayment.PaymentID(d.ID),
		BookingID:   d.BookingID,
		PayerID:     d.PayerID,
		PayeeID:     d.PayeeID,
		Amount:      money.Must(d.Amount, cur),
		Method:      domainpayment.Method(d.Method),
		Status:      domainpayment.Status(d.Status),
		ProviderRef: d.ProviderRef,
		Breakdown: domainpayment.Breakdown{
			Rent:       money.Must(d.Breakdown.Rent, cur),
			ServiceFee: money.Must(d.Breakdown.ServiceFee, cur),
			Taxes:      money.Must(d.Breakdown.Taxes, cur),
			Deposit:    money.Must(d.Breakdown.Deposit, cur),
			Discount:   money.Must(d.Breakdown.Discount, cur),
		},
		FailureReason:   d.FailureReason,
		ProviderPayload: d.ProviderPayload,
		CreatedAt:       time.UnixMilli(d.CreatedAt).UTC(),
		UpdatedAt:       time.UnixMilli(d.UpdatedAt).UTC(),
		Version:         d.Version,
	}
	if d.PaidAt != nil {
		t := time.UnixMilli(*d.PaidAt).UTC()
		agg.PaidAt = &t
	}
	for _, ref := range d.Refunds {
		agg.Refunds = append(agg.Refunds, domainpayment.Refund{
			RefundID:   ref.RefundID,
			Amount:     money.Must(ref.Amount, ref.Currency),
			Reason:     ref.Reason,
			RefundedAt: time.UnixMilli(ref.RefundedAt).UTC(),
		})
	}
	return agg
}

var _ domainpayment.Repository = (*PaymentRepository)(nil)
