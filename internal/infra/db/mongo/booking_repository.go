package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	"kiraya/internal/domain/shared/daterange"
	"kiraya/internal/domain/shared/money"
)

type BookingRepository struct {
	col   *mongo.Collection
	locks *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) *BookingRepository {
	col := db.Collection("agg_booking")
	idx := mongo.IndexModel{Keys: bson.D{
		{Key: "property_id", Value: 1},
		{Key: "range.start", Value: 1},
		{Key: "range.end", Value: 1},
	}}
	_, _ = col.Indexes().CreateOne(context.Background(), idx)
	return &BookingRepository{col: col, locks: db.Collection("agg_booking_locks")}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var doc bookingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainbooking.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// Create checks the overlap invariant and inserts inside the caller's
// session. Transactions are snapshot-isolated, so the read-check alone would
// let two racing creations both see zero overlaps and both commit; writing a
// shared per-property lock document first forces a write-write conflict, and
// the later transaction aborts. The loser surfaces as ErrConcurrentUpdate
// and the client retries against fresh state.
func (r *BookingRepository) Create(ctx context.Context, b *domainbooking.Booking) error {
	_, err := r.locks.UpdateOne(ctx,
		bson.M{"_id": string(b.PropertyID)},
		bson.M{"$set": bson.M{"touched_at": time.Now().UnixMilli()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return mapWriteConflict(err)
	}

	filter := bson.M{
		"property_id": string(b.PropertyID),
		"status":      bson.M{"$in": []string{string(domainbooking.StatusPending), string(domainbooking.StatusApproved)}},
		"range.start": bson.M{"$lt": b.Range.End.UnixMilli()},
		"range.end":   bson.M{"$gt": b.Range.Start.UnixMilli()},
	}
	count, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return err
	}
	if count > 0 {
		return domainbooking.ErrDateOverlap
	}
	b.Version = 1
	_, err = r.col.InsertOne(ctx, newBookingDocument(b))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainbooking.ErrConcurrentUpdate
		}
		return mapWriteConflict(err)
	}
	return nil
}

const codeWriteConflict = 112

// mapWriteConflict folds a transactional write-write conflict into the
// optimistic-concurrency error the command layer already handles.
func mapWriteConflict(err error) error {
	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) && (srvErr.HasErrorCode(codeWriteConflict) || srvErr.HasErrorLabel("TransientTransactionError")) {
		return domainbooking.ErrConcurrentUpdate
	}
	return err
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	doc := newBookingDocument(b)
	filter := bson.M{"_id": doc.ID, "version": b.Version}
	doc.Version = b.Version + 1
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update())
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version = doc.Version
	return nil
}

func (r *BookingRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domainbooking.Booking, error) {
	return r.find(ctx, bson.M{"tenant_id": tenantID})
}

func (r *BookingRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domainbooking.Booking, error) {
	return r.find(ctx, bson.M{"owner_id": ownerID})
}

func (r *BookingRepository) ListByProperty(ctx context.Context, propertyID domainlisting.PropertyID) ([]*domainbooking.Booking, error) {
	return r.find(ctx, bson.M{"property_id": string(propertyID)})
}

func (r *BookingRepository) find(ctx context.Context, filter bson.M) ([]*domainbooking.Booking, error) {
	cursor, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []*domainbooking.Booking
	for cursor.Next(ctx) {
		var doc bookingDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cursor.Err()
}

type bookingDocument struct {
	ID            string                `bson:"_id"`
	PropertyID    string                `bson:"property_id"`
	TenantID      string                `bson:"tenant_id"`
	OwnerID       string                `bson:"owner_id"`
	Range         rangeDocument         `bson:"range"`
	Occupants     int                   `bson:"occupants"`
	Message       string                `bson:"message"`
	TotalAmount   int64                 `bson:"total_amount"`
	Currency      string                `bson:"currency"`
	Status        string                `bson:"status"`
	PaymentStatus string                `bson:"payment_status"`
	PaymentID     string                `bson:"payment_id"`
	OwnerResponse string                `bson:"owner_response"`
	Cancellation  *cancellationDocument `bson:"cancellation,omitempty"`
	CreatedAt     int64                 `bson:"created_at"`
	UpdatedAt     int64                 `bson:"updated_at"`
	Version       int64                 `bson:"version"`
}

type rangeDocument struct {
	Start int64 `bson:"start"`
	End   int64 `bson:"end"`
}

type cancellationDocument struct {
	Actor     string `bson:"actor"`
	Role      string `bson:"role"`
	Reason    string `bson:"reason"`
	Timestamp int64  `bson:"timestamp"`
}

func newBookingDocument(b *domainbooking.Booking) bookingDocument {
	doc := bookingDocument{
		ID:            string(b.ID),
		PropertyID:    string(b.PropertyID),
		TenantID:      b.TenantID,
		OwnerID:       b.OwnerID,
		Range:         rangeDocument{Start: b.Range.Start.UnixMilli(), End: b.Range.End.UnixMilli()},
		Occupants:     b.Occupants,
		Message:       b.Message,
		TotalAmount:   b.Total.Amount,
		Currency:      b.Total.Currency,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		PaymentID:     b.PaymentID,
		OwnerResponse: b.OwnerResponse,
		CreatedAt:     b.CreatedAt.UnixMilli(),
		UpdatedAt:     b.UpdatedAt.UnixMilli(),
		Version:       b.Version,
	}
	if b.Cancellation != nil {
		doc.Cancellation = &cancellationDocument{
			Actor:     b.Cancellation.Actor,
			Role:      string(b.Cancellation.Role),
			Reason:    b.Cancellation.Reason,
			Timestamp: b.Cancellation.Timestamp.UnixMilli(),
		}
	}
	return doc
}

func (d bookingDocument) toAggregate() *domainbooking.Booking {
	agg := &domainbooking.Booking{
		ID:         domainbooking.BookingID(d.ID),
		PropertyID: domainlisting.PropertyID(d.PropertyID),
		TenantID:   d.TenantID,
		OwnerID:    d.OwnerID,
		Range: daterange.DateRange{
			Start: time.UnixMilli(d.Range.Start).UTC(),
			End:   time.UnixMilli(d.Range.End).UTC(),
		},
		Occupants:     d.Occupants,
		Message:       d.Message,
		Total:         money.Must(d.TotalAmount, d.Currency),
		Status:        domainbooking.Status(d.Status),
		PaymentStatus: domainbooking.PaymentStatus(d.PaymentStatus),
		PaymentID:     d.PaymentID,
		OwnerResponse: d.OwnerResponse,
		CreatedAt:     time.UnixMilli(d.CreatedAt).UTC(),
		UpdatedAt:     time.UnixMilli(d.UpdatedAt).UTC(),
		Version:       d.Version,
	}
	if d.Cancellation != nil {
		agg.Cancellation = &domainbooking.Cancellation{
			Actor:     d.Cancellation.Actor,
			Role:      domainbooking.Role(d.Cancellation.Role),
			Reason:    d.Cancellation.Reason,
			Timestamp: time.UnixMilli(d.Cancellation.Timestamp).UTC(),
		}
	}
	return agg
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
