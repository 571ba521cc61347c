package listing

import (
	"context"
	"errors"
	"time"

	"kiraya/internal/domain/shared/money"
)

var ErrPropertyNotFound = errors.New("listing: property not found")

type PropertyID string

// Property is the snapshot of a listed unit that the booking core needs.
// Listing CRUD, search and media live in a separate collaborator; the core
// only reads rate and availability.
type Property struct {
	ID             PropertyID
	OwnerID        string
	Title          string
	City           string
	MonthlyRate    money.Money
	MinLeaseMonths int
	Unavailable    bool
	UpdatedAt      time.Time
}

type Repository interface {
	ByID(ctx context.Context, id PropertyID) (*Property, error)
	Save(ctx context.Context, p *Property) error
}
