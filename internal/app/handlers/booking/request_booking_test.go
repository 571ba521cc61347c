package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpricing "kiraya/internal/domain/pricing"
	"kiraya/internal/domain/shared/money"
	"kiraya/internal/infra/storage/memory"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newRequestHandler(t *testing.T) (*RequestBookingHandler, *memory.BookingRepository, *memory.Outbox) {
	t.Helper()
	properties := memory.NewPropertyRepository()
	bookings := memory.NewBookingRepository()
	payments := memory.NewPaymentRepository()
	sink := memory.NewOutbox()

	require.NoError(t, properties.Save(context.Background(), &domainlisting.Property{
		ID:          "prop-1",
		OwnerID:     "owner-1",
		Title:       "Bole two-bedroom",
		City:        "Addis Ababa",
		MonthlyRate: money.Must(300000, "ETB"),
	}))

	h := &RequestBookingHandler{
		UoWFactory: memory.Factory{
			PropertyRepo: properties,
			BookingRepo:  bookings,
			PaymentRepo:  payments,
			Sink:         sink,
		},
		Pricing: domainpricing.Calculator{FeeRate: 0.05},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return testNow },
	}
	return h, bookings, sink
}

func requestCommand(id string) RequestBookingCommand {
	return RequestBookingCommand{
		CommandID:  id,
		PropertyID: "prop-1",
		TenantID:   "tenant-1",
		StartDate:  time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC),
		Occupants:  2,
	}
}

func TestRequestBookingQuoteAndPersist(t *testing.T) {
	h, bookings, sink := newRequestHandler(t)
	ctx := context.Background()

	res, err := h.Handle(ctx, requestCommand("bk-1"))
	require.NoError(t, err)

	// 3000.00/month in June is 100.00/day; 9 nights plus the 5% fee.
	assert.Equal(t, int64(94500), res.TotalAmount)
	assert.Equal(t, "ETB", res.Currency)
	assert.Equal(t, 9, res.Nights)

	stored, err := bookings.ByID(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusPending, stored.Status)
	assert.Equal(t, domainbooking.PaymentUnpaid, stored.PaymentStatus)
	assert.Equal(t, "tenant-1", stored.TenantID)
	assert.Equal(t, "owner-1", stored.OwnerID)

	records := sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, domainbooking.EventCreated, records[0].Name)
	assert.Equal(t, "bk-1", records[0].Aggregate)
}

func TestRequestBookingUnknownProperty(t *testing.T) {
	h, _, sink := newRequestHandler(t)

	cmd := requestCommand("bk-1")
	cmd.PropertyID = "prop-missing"
	_, err := h.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, domainlisting.ErrPropertyNotFound)
	assert.Empty(t, sink.Drain())
}

func TestRequestBookingOwnerCannotBookOwnProperty(t *testing.T) {
	h, _, _ := newRequestHandler(t)

	cmd := requestCommand("bk-1")
	cmd.TenantID = "owner-1"
	_, err := h.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, domainbooking.ErrSelfBooking)
}

func TestRequestBookingInvalidRange(t *testing.T) {
	h, _, _ := newRequestHandler(t)

	cmd := requestCommand("bk-1")
	cmd.EndDate = cmd.StartDate
	_, err := h.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, domainbooking.ErrInvalidDateRange)
}

func TestRequestBookingRejectsOverlap(t *testing.T) {
	h, _, sink := newRequestHandler(t)
	ctx := context.Background()

	_, err := h.Handle(ctx, requestCommand("bk-1"))
	require.NoError(t, err)
	sink.Drain()

	// Same nights, different tenant.
	cmd := requestCommand("bk-2")
	cmd.TenantID = "tenant-2"
	_, err = h.Handle(ctx, cmd)
	assert.ErrorIs(t, err, domainbooking.ErrDateOverlap)
	assert.Empty(t, sink.Drain())

	// Back-to-back stay starting on the previous end date is fine.
	cmd = requestCommand("bk-3")
	cmd.TenantID = "tenant-2"
	cmd.StartDate = time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC)
	cmd.EndDate = time.Date(2026, 6, 25, 0, 0, 0, 0, time.UTC)
	_, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
}

func TestRequestBookingConcurrentOverlapSingleWinner(t *testing.T) {
	h, bookings, sink := newRequestHandler(t)
	ctx := context.Background()

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := requestCommand(fmt.Sprintf("bk-%d", i))
			cmd.TenantID = fmt.Sprintf("tenant-%d", i)
			_, errs[i] = h.Handle(ctx, cmd)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.True(t, errors.Is(err, domainbooking.ErrDateOverlap), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, won)

	list, err := bookings.ListByProperty(ctx, "prop-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, sink.Drain(), 1)
}
