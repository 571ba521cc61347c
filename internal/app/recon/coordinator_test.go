package recon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiraya/internal/app/outbox"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainpayment "kiraya/internal/domain/payment"
	"kiraya/internal/domain/shared/daterange"
	"kiraya/internal/domain/shared/money"
	"kiraya/internal/infra/storage/memory"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	result policies.VerifyResult
	err    error
}

func (g *fakeGateway) Method() domainpayment.Method { return domainpayment.MethodMobileMoney }

func (g *fakeGateway) PreRef() (string, bool) { return "", false }

func (g *fakeGateway) Initiate(ctx context.Context, p *domainpayment.Payment, payer policies.PayerInfo) (policies.InitiateResult, error) {
	return policies.InitiateResult{}, errors.New("not used")
}

func (g *fakeGateway) Verify(ctx context.Context, providerRef string) (policies.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.result, g.err
}

func (g *fakeGateway) verifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	coordinator *Coordinator
	gateway     *fakeGateway
	bookings    *memory.BookingRepository
	payments    *memory.PaymentRepository
	sink        *memory.Outbox
}

func newFixture(t *testing.T, gateway *fakeGateway) *fixture {
	t.Helper()
	bookings := memory.NewBookingRepository()
	payments := memory.NewPaymentRepository()
	sink := memory.NewOutbox()
	factory := memory.Factory{
		PropertyRepo: memory.NewPropertyRepository(),
		BookingRepo:  bookings,
		PaymentRepo:  payments,
		Sink:         sink,
	}
	resolver := policies.StaticResolver{
		Adapters: map[domainpayment.Method]policies.GatewayAdapter{
			domainpayment.MethodMobileMoney: gateway,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator(factory, resolver, policies.NopAudit{}, logger)
	c.Now = func() time.Time { return testNow }
	return &fixture{coordinator: c, gateway: gateway, bookings: bookings, payments: payments, sink: sink}
}

func (f *fixture) seed(t *testing.T, providerRef string) *domainpayment.Payment {
	t.Helper()
	ctx := context.Background()

	rng, err := daterange.New(
		time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	booking := &domainbooking.Booking{
		ID:            "bk-1",
		PropertyID:    "prop-1",
		TenantID:      "tenant-1",
		OwnerID:       "owner-1",
		Range:         rng,
		Occupants:     2,
		Total:         money.Must(94500, "ETB"),
		Status:        domainbooking.StatusApproved,
		PaymentStatus: domainbooking.PaymentProcessing,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	require.NoError(t, f.bookings.Create(ctx, booking))

	p, err := domainpayment.NewPayment(domainpayment.CreateParams{
		ID:        "pay-1",
		BookingID: "bk-1",
		PayerID:   "tenant-1",
		PayeeID:   "owner-1",
		Method:    domainpayment.MethodMobileMoney,
		Breakdown: domainpayment.Breakdown{
			Rent:       money.Must(90000, "ETB"),
			ServiceFee: money.Must(4500, "ETB"),
			Taxes:      money.Zero("ETB"),
			Deposit:    money.Zero("ETB"),
			Discount:   money.Zero("ETB"),
		},
		CreatedAt: testNow,
	})
	require.NoError(t, err)
	if providerRef != "" {
		p.AttachProviderRef(providerRef, testNow)
	}
	p.ClearEvents()
	require.NoError(t, f.payments.Create(ctx, p))
	return p
}

func TestReconcileByProviderRefAppliesSuccessOnce(t *testing.T) {
	gateway := &fakeGateway{result: policies.VerifyResult{Outcome: policies.OutcomeSucceeded}}
	f := newFixture(t, gateway)
	f.seed(t, "TX-1")
	ctx := context.Background()

	outcome, err := f.coordinator.ReconcileByProviderRef(ctx, domainpayment.MethodMobileMoney, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusSucceeded, outcome.Status)
	assert.False(t, outcome.Idempotent)

	stored, err := f.payments.ByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusSucceeded, stored.Status)
	require.NotNil(t, stored.PaidAt)

	booking, err := f.bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.PaymentPaid, booking.PaymentStatus)
	assert.Equal(t, "pay-1", booking.PaymentID)

	records := f.sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, domainpayment.EventSucceeded, records[0].Name)
	assert.Equal(t, "pay-1", records[0].Aggregate)

	// Redelivered webhook: terminal payment short-circuits before the gateway.
	outcome, err = f.coordinator.ReconcileByProviderRef(ctx, domainpayment.MethodMobileMoney, "TX-1")
	require.NoError(t, err)
	assert.True(t, outcome.Idempotent)
	assert.Equal(t, domainpayment.StatusSucceeded, outcome.Status)
	assert.Equal(t, 1, gateway.verifyCalls())
	assert.Empty(t, f.sink.Drain())
}

func TestReconcileAppliesFailure(t *testing.T) {
	gateway := &fakeGateway{result: policies.VerifyResult{Outcome: policies.OutcomeFailed, Reason: "insufficient funds"}}
	f := newFixture(t, gateway)
	f.seed(t, "TX-1")
	ctx := context.Background()

	outcome, err := f.coordinator.ReconcileByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusFailed, outcome.Status)

	stored, err := f.payments.ByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "insufficient funds", stored.FailureReason)

	booking, err := f.bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.PaymentFailed, booking.PaymentStatus)

	records := f.sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, domainpayment.EventFailed, records[0].Name)
}

func TestReconcilePendingOutcomeChangesNothing(t *testing.T) {
	gateway := &fakeGateway{result: policies.VerifyResult{Outcome: policies.OutcomePending}}
	f := newFixture(t, gateway)
	f.seed(t, "TX-1")
	ctx := context.Background()

	outcome, err := f.coordinator.ReconcileByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusPending, outcome.Status)
	assert.False(t, outcome.Idempotent)

	stored, err := f.payments.ByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusPending, stored.Status)

	booking, err := f.bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.PaymentProcessing, booking.PaymentStatus)
	assert.Empty(t, f.sink.Drain())
}

func TestReconcileVerifyErrorLeavesState(t *testing.T) {
	verifyErr := errors.New("gateway timeout")
	gateway := &fakeGateway{err: verifyErr}
	f := newFixture(t, gateway)
	f.seed(t, "TX-1")
	ctx := context.Background()

	_, err := f.coordinator.ReconcileByID(ctx, "pay-1")
	require.ErrorIs(t, err, verifyErr)

	stored, err := f.payments.ByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusPending, stored.Status)
	assert.Empty(t, f.sink.Drain())
}

func TestReconcileUnknownProviderRef(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	f.seed(t, "TX-1")

	_, err := f.coordinator.ReconcileByProviderRef(context.Background(), domainpayment.MethodMobileMoney, "TX-unknown")
	assert.ErrorIs(t, err, domainpayment.ErrNotFound)

	_, err = f.coordinator.ReconcileByProviderRef(context.Background(), domainpayment.MethodMobileMoney, "")
	assert.ErrorIs(t, err, domainpayment.ErrNotFound)
}

func TestReconcileConcurrentDeliveries(t *testing.T) {
	gateway := &fakeGateway{result: policies.VerifyResult{Outcome: policies.OutcomeSucceeded}}
	f := newFixture(t, gateway)
	f.seed(t, "TX-1")
	ctx := context.Background()

	const workers = 8
	outcomes := make([]Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.coordinator.ReconcileByID(ctx, "pay-1")
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, domainpayment.StatusSucceeded, outcomes[i].Status)
		if !outcomes[i].Idempotent {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, gateway.verifyCalls())
	assert.Len(t, f.sink.Drain(), 1)
}

func TestRepairRederivesBookingMirror(t *testing.T) {
	f := newFixture(t, &fakeGateway{})
	p := f.seed(t, "TX-1")
	ctx := context.Background()

	// Simulate a crash after the payment write but before the booking write.
	require.NoError(t, p.MarkSucceeded(nil, testNow))
	p.ClearEvents()
	require.NoError(t, f.payments.Save(ctx, p))

	require.NoError(t, f.coordinator.Repair(ctx, "pay-1"))

	booking, err := f.bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.PaymentPaid, booking.PaymentStatus)
	assert.Equal(t, "pay-1", booking.PaymentID)

	// The outcome event lost with the crash is restored alongside the mirror.
	records := f.sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, domainpayment.EventSucceeded, records[0].Name)

	// A consistent pair is a no-op.
	before := booking.UpdatedAt
	require.NoError(t, f.coordinator.Repair(ctx, "pay-1"))
	booking, err = f.bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, before, booking.UpdatedAt)
	assert.Empty(t, f.sink.Drain())
}

// flakyBookingRepo loses a configured number of Save calls to a simulated
// optimistic-version race before delegating normally.
type flakyBookingRepo struct {
	domainbooking.Repository
	mu       sync.Mutex
	failures int
}

func (r *flakyBookingRepo) Save(ctx context.Context, b *domainbooking.Booking) error {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return domainbooking.ErrConcurrentUpdate
	}
	r.mu.Unlock()
	return r.Repository.Save(ctx, b)
}

func TestReconcileRecoversFromBookingVersionRace(t *testing.T) {
	gateway := &fakeGateway{result: policies.VerifyResult{Outcome: policies.OutcomeSucceeded}}
	f := newFixture(t, gateway)
	f.seed(t, "TX-1")
	ctx := context.Background()

	// First booking save loses a version race after the payment write has
	// already landed; the retry must still set the mirror and emit the event.
	f.coordinator.UoWFactory = memory.Factory{
		PropertyRepo: memory.NewPropertyRepository(),
		BookingRepo:  &flakyBookingRepo{Repository: f.bookings, failures: 1},
		PaymentRepo:  f.payments,
		Sink:         f.sink,
	}

	outcome, err := f.coordinator.ReconcileByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusSucceeded, outcome.Status)
	assert.False(t, outcome.Idempotent)

	stored, err := f.payments.ByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusSucceeded, stored.Status)

	booking, err := f.bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.PaymentPaid, booking.PaymentStatus)
	assert.Equal(t, "pay-1", booking.PaymentID)

	records := f.sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, domainpayment.EventSucceeded, records[0].Name)
}

func TestReconcileSettlesStaleMirrorWithoutReverifying(t *testing.T) {
	gateway := &fakeGateway{}
	f := newFixture(t, gateway)
	p := f.seed(t, "TX-1")
	ctx := context.Background()

	require.NoError(t, p.MarkFailed("card declined", testNow))
	p.ClearEvents()
	require.NoError(t, f.payments.Save(ctx, p))

	outcome, err := f.coordinator.ReconcileByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusFailed, outcome.Status)
	assert.False(t, outcome.Idempotent)
	assert.Equal(t, 0, gateway.verifyCalls())

	booking, err := f.bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.PaymentFailed, booking.PaymentStatus)

	records := f.sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, domainpayment.EventFailed, records[0].Name)
}

type boundCtxKey struct{}

// bindingFactory wraps units so repository calls only carry the marker when
// the coordinator routed them through the bound context.
type bindingFactory struct{ inner uow.Factory }

func (f bindingFactory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	unit, err := f.inner.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &bindingUnit{UnitOfWork: unit}, nil
}

type bindingUnit struct{ uow.UnitOfWork }

func (u *bindingUnit) InjectContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, boundCtxKey{}, true)
}

func (u *bindingUnit) Outbox() outbox.Outbox {
	if provider, ok := u.UnitOfWork.(OutboxProvider); ok {
		return provider.Outbox()
	}
	return nil
}

type boundCheckedPayments struct {
	domainpayment.Repository
	mu      sync.Mutex
	unbound int
}

func (r *boundCheckedPayments) note(ctx context.Context) {
	if ctx.Value(boundCtxKey{}) == nil {
		r.mu.Lock()
		r.unbound++
		r.mu.Unlock()
	}
}

func (r *boundCheckedPayments) ByID(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.Payment, error) {
	r.note(ctx)
	return r.Repository.ByID(ctx, id)
}

func (r *boundCheckedPayments) Save(ctx context.Context, p *domainpayment.Payment) error {
	r.note(ctx)
	return r.Repository.Save(ctx, p)
}

func (r *boundCheckedPayments) ByProviderRef(ctx context.Context, method domainpayment.Method, providerRef string) (*domainpayment.Payment, error) {
	r.note(ctx)
	return r.Repository.ByProviderRef(ctx, method, providerRef)
}

func (r *boundCheckedPayments) unboundCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbound
}

func TestReconcileBindsUnitContextToRepositories(t *testing.T) {
	gateway := &fakeGateway{result: policies.VerifyResult{Outcome: policies.OutcomeSucceeded}}
	f := newFixture(t, gateway)
	f.seed(t, "TX-1")

	checked := &boundCheckedPayments{Repository: f.payments}
	f.coordinator.UoWFactory = bindingFactory{inner: memory.Factory{
		PropertyRepo: memory.NewPropertyRepository(),
		BookingRepo:  f.bookings,
		PaymentRepo:  checked,
		Sink:         f.sink,
	}}

	outcome, err := f.coordinator.ReconcileByProviderRef(context.Background(), domainpayment.MethodMobileMoney, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusSucceeded, outcome.Status)
	assert.Equal(t, 0, checked.unboundCalls())
	assert.Len(t, f.sink.Drain(), 1)
}
