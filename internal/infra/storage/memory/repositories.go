package memory

import (
	"context"
	"sort"
	"sync"

	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
)

// PropertyRepository keeps property snapshots in memory.
type PropertyRepository struct {
	mu    sync.RWMutex
	items map[domainlisting.PropertyID]domainlisting.Property
}

func NewPropertyRepository() *PropertyRepository {
	return &PropertyRepository{items: make(map[domainlisting.PropertyID]domainlisting.Property)}
}

func (r *PropertyRepository) ByID(ctx context.Context, id domainlisting.PropertyID) (*domainlisting.Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, domainlisting.ErrPropertyNotFound
	}
	out := p
	return &out, nil
}

func (r *PropertyRepository) Save(ctx context.Context, p *domainlisting.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID] = *p
	return nil
}

var _ domainlisting.Repository = (*PropertyRepository)(nil)

// BookingRepository stores bookings with optimistic versioning. Create runs
// the overlap check and the insert under one property-scoped lock, so two
// concurrent requests for the same dates cannot both pass.
type BookingRepository struct {
	mu       sync.RWMutex
	items    map[domainbooking.BookingID]domainbooking.Booking
	property map[domainlisting.PropertyID]*sync.Mutex
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{
		items:    make(map[domainbooking.BookingID]domainbooking.Booking),
		property: make(map[domainlisting.PropertyID]*sync.Mutex),
	}
}

func (r *BookingRepository) propertyLock(id domainlisting.PropertyID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.property[id]
	if !ok {
		lock = &sync.Mutex{}
		r.property[id] = lock
	}
	return lock
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domainbooking.ErrNotFound
	}
	out := cloneBooking(b)
	return &out, nil
}

func (r *BookingRepository) Create(ctx context.Context, b *domainbooking.Booking) error {
	lock := r.propertyLock(b.PropertyID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.PropertyID != b.PropertyID || existing.ID == b.ID {
			continue
		}
		if !existing.Status.Active() {
			continue
		}
		if existing.Range.Overlaps(b.Range) {
			return domainbooking.ErrDateOverlap
		}
	}
	b.Version = 1
	r.items[b.ID] = cloneBooking(*b)
	return nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[b.ID]
	if !ok {
		return domainbooking.ErrNotFound
	}
	if current.Version != b.Version {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version++
	r.items[b.ID] = cloneBooking(*b)
	return nil
}

func (r *BookingRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domainbooking.Booking, error) {
	return r.list(func(b domainbooking.Booking) bool { return b.TenantID == tenantID })
}

func (r *BookingRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domainbooking.Booking, error) {
	return r.list(func(b domainbooking.Booking) bool { return b.OwnerID == ownerID })
}

func (r *BookingRepository) ListByProperty(ctx context.Context, propertyID domainlisting.PropertyID) ([]*domainbooking.Booking, error) {
	return r.list(func(b domainbooking.Booking) bool { return b.PropertyID == propertyID })
}

func (r *BookingRepository) list(match func(domainbooking.Booking) bool) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainbooking.Booking
	for _, b := range r.items {
		if match(b) {
			c := cloneBooking(b)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func cloneBooking(b domainbooking.Booking) domainbooking.Booking {
	out := b
	out.ClearEvents()
	if b.Cancellation != nil {
		c := *b.Cancellation
		out.Cancellation = &c
	}
	return out
}

var _ domainbooking.Repository = (*BookingRepository)(nil)

// PaymentRepository stores ledger entries keyed by id with a secondary
// method+provider reference index for webhook lookups.
type PaymentRepository struct {
	mu    sync.RWMutex
	items map[domainpayment.PaymentID]domainpayment.Payment
	byRef map[string]domainpayment.PaymentID
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		items: make(map[domainpayment.PaymentID]domainpayment.Payment),
		byRef: make(map[string]domainpayment.PaymentID),
	}
}

func refKey(method domainpayment.Method, ref string) string {
	return string(method) + "\x00" + ref
}

func (r *PaymentRepository) ByID(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, domainpayment.ErrNotFound
	}
	out := clonePayment(p)
	return &out, nil
}

func (r *PaymentRepository) ByProviderRef(ctx context.Context, method domainpayment.Method, providerRef string) (*domainpayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[refKey(method, providerRef)]
	if !ok {
		return nil, domainpayment.ErrNotFound
	}
	p := clonePayment(r.items[id])
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *domainpayment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Version = 1
	r.items[p.ID] = clonePayment(*p)
	if p.ProviderRef != "" {
		r.byRef[refKey(p.Method, p.ProviderRef)] = p.ID
	}
	return nil
}

func (r *PaymentRepository) Save(ctx context.Context, p *domainpayment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[p.ID]
	if !ok {
		return domainpayment.ErrNotFound
	}
	if current.Version != p.Version {
		return domainpayment.ErrConcurrentUpdate
	}
	if current.ProviderRef != "" && current.ProviderRef != p.ProviderRef {
		delete(r.byRef, refKey(current.Method, current.ProviderRef))
	}
	p.Version++
	r.items[p.ID] = clonePayment(*p)
	if p.ProviderRef != "" {
		r.byRef[refKey(p.Method, p.ProviderRef)] = p.ID
	}
	return nil
}

func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domainpayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainpayment.Payment
	for _, p := range r.items {
		if p.BookingID == bookingID {
			c := clonePayment(p)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *PaymentRepository) HasOpenForBooking(ctx context.Context, bookingID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.BookingID == bookingID && !p.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func clonePayment(p domainpayment.Payment) domainpayment.Payment {
	out := p
	out.ClearEvents()
	if p.PaidAt != nil {
		t := *p.PaidAt
		out.PaidAt = &t
	}
	out.Refunds = append([]domainpayment.Refund(nil), p.Refunds...)
	out.ProviderPayload = append([]byte(nil), p.ProviderPayload...)
	return out
}

var _ domainpayment.Repository = (*PaymentRepository)(nil)
