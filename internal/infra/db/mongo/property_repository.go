package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainlisting "kiraya/internal/domain/listing"
	"kiraya/internal/domain/shared/money"
)

type PropertyRepository struct {
	col *mongo.Collection
}

func NewPropertyRepository(db *mongo.Database) *PropertyRepository {
	return &PropertyRepository{col: db.Collection("agg_property")}
}

func (r *PropertyRepository) ByID(ctx context.Context, id domainlisting.PropertyID) (*domainlisting.Property, error) {
	var doc propertyDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainlisting.ErrPropertyNotFound
		}
		return nil, err
	}
	p := doc.toAggregate()
	return &p, nil
}

func (r *PropertyRepository) Save(ctx context.Context, p *domainlisting.Property) error {
	doc := newPropertyDocument(p)
	_, err := r.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

type propertyDocument struct {
	ID             string `bson:"_id"`
	OwnerID        string `bson:"owner_id"`
	Title          string `bson:"title"`
	City           string `bson:"city"`
	MonthlyRate    int64  `bson:"monthly_rate"`
	Currency       string `bson:"currency"`
	MinLeaseMonths int    `bson:"min_lease_months"`
	Unavailable    bool   `bson:"unavailable"`
	UpdatedAt      int64  `bson:"updated_at"`
}

func newPropertyDocument(p *domainlisting.Property) propertyDocument {
	return propertyDocument{
		ID:             string(p.ID),
		OwnerID:        p.OwnerID,
		Title:          p.Title,
		City:           p.City,
		MonthlyRate:    p.MonthlyRate.Amount,
		Currency:       p.MonthlyRate.Currency,
		MinLeaseMonths: p.MinLeaseMonths,
		Unavailable:    p.Unavailable,
		UpdatedAt:      p.UpdatedAt.UnixMilli(),
	}
}

func (d propertyDocument) toAggregate() domainlisting.Property {
	return domainlisting.Property{
		ID:             domainlisting.PropertyID(d.ID),
		OwnerID:        d.OwnerID,
		Title:          d.Title,
		City:           d.City,
		MonthlyRate:    money.Must(d.MonthlyRate, d.Currency),
		MinLeaseMonths: d.MinLeaseMonths,
		Unavailable:    d.Unavailable,
		UpdatedAt:      time.UnixMilli(d.UpdatedAt).UTC(),
	}
}

var _ domainlisting.Repository = (*PropertyRepository)(nil)
