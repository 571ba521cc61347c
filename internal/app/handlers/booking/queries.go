package booking

import (
	"context"
	"sort"

	"kiraya/internal/app/queries"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
)

const (
	getBookingKey         = "booking.get"
	listTenantBookingsKey = "booking.list.tenant"
	listOwnerBookingsKey  = "booking.list.owner"
)

type GetBookingQuery struct {
	BookingID string
	Actor     domainbooking.Actor
}

func (q GetBookingQuery) Key() string { return getBookingKey }

// BookingView is the read shape returned to HTTP callers.
type BookingView struct {
	ID            string `json:"id"`
	PropertyID    string `json:"property_id"`
	TenantID      string `json:"tenant_id"`
	OwnerID       string `json:"owner_id"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	Occupants     int    `json:"occupants"`
	Message       string `json:"message,omitempty"`
	TotalAmount   int64  `json:"total_amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentID     string `json:"payment_id,omitempty"`
	OwnerResponse string `json:"owner_response,omitempty"`
}

func mapBookingView(b *domainbooking.Booking) BookingView {
	return BookingView{
		ID:            string(b.ID),
		PropertyID:    string(b.PropertyID),
		TenantID:      b.TenantID,
		OwnerID:       b.OwnerID,
		StartDate:     b.Range.Start.Format("2006-01-02"),
		EndDate:       b.Range.End.Format("2006-01-02"),
		Occupants:     b.Occupants,
		Message:       b.Message,
		TotalAmount:   b.Total.Amount,
		Currency:      b.Total.Currency,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		PaymentID:     b.PaymentID,
		OwnerResponse: b.OwnerResponse,
	}
}

type GetBookingHandler struct {
	UoWFactory uow.Factory
}

func (h *GetBookingHandler) Handle(ctx context.Context, q GetBookingQuery) (BookingView, error) {
	unit, cleanup, err := beginReadUnit(ctx, h.UoWFactory)
	if err != nil {
		return BookingView{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	b, err := unit.Bookings().ByID(ctx, domainbooking.BookingID(q.BookingID))
	if err != nil {
		return BookingView{}, err
	}
	// Bookings are only visible to their parties; admins see everything.
	switch q.Actor.Role {
	case domainbooking.RoleAdmin, domainbooking.RoleSystem:
	default:
		if q.Actor.UserID != b.TenantID && q.Actor.UserID != b.OwnerID {
			return BookingView{}, domainbooking.ErrForbidden
		}
	}
	return mapBookingView(b), nil
}

type ListTenantBookingsQuery struct {
	TenantID string
}

func (q ListTenantBookingsQuery) Key() string { return listTenantBookingsKey }

type ListOwnerBookingsQuery struct {
	OwnerID string
	Status  string
}

func (q ListOwnerBookingsQuery) Key() string { return listOwnerBookingsKey }

type BookingCollection struct {
	Items []BookingView `json:"items"`
}

type ListTenantBookingsHandler struct {
	UoWFactory uow.Factory
}

func (h *ListTenantBookingsHandler) Handle(ctx context.Context, q ListTenantBookingsQuery) (BookingCollection, error) {
	unit, cleanup, err := beginReadUnit(ctx, h.UoWFactory)
	if err != nil {
		return BookingCollection{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	items, err := unit.Bookings().ListByTenant(ctx, q.TenantID)
	if err != nil {
		return BookingCollection{}, err
	}
	return collect(items, ""), nil
}

type ListOwnerBookingsHandler struct {
	UoWFactory uow.Factory
}

func (h *ListOwnerBookingsHandler) Handle(ctx context.Context, q ListOwnerBookingsQuery) (BookingCollection, error) {
	unit, cleanup, err := beginReadUnit(ctx, h.UoWFactory)
	if err != nil {
		return BookingCollection{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	items, err := unit.Bookings().ListByOwner(ctx, q.OwnerID)
	if err != nil {
		return BookingCollection{}, err
	}
	return collect(items, q.Status), nil
}

func collect(items []*domainbooking.Booking, statusFilter string) BookingCollection {
	out := BookingCollection{Items: make([]BookingView, 0, len(items))}
	for _, b := range items {
		if statusFilter != "" && string(b.Status) != statusFilter {
			continue
		}
		out.Items = append(out.Items, mapBookingView(b))
	}
	sort.Slice(out.Items, func(i, j int) bool {
		return out.Items[i].ID < out.Items[j].ID
	})
	return out
}

func beginReadUnit(ctx context.Context, factory uow.Factory) (uow.UnitOfWork, func(), error) {
	if unit, ok := uow.FromContext(ctx); ok {
		return unit, nil, nil
	}
	if factory == nil {
		return nil, nil, ErrUnitOfWorkRequired
	}
	unit, err := factory.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	return unit, func() { _ = unit.Rollback(ctx) }, nil
}

var (
	_ queries.Handler[GetBookingQuery, BookingView]                  = (*GetBookingHandler)(nil)
	_ queries.Handler[ListTenantBookingsQuery, BookingCollection]    = (*ListTenantBookingsHandler)(nil)
	_ queries.Handler[ListOwnerBookingsQuery, BookingCollection]     = (*ListOwnerBookingsHandler)(nil)
)
