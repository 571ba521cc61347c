package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiraya/internal/domain/listing"
	"kiraya/internal/domain/shared/daterange"
	"kiraya/internal/domain/shared/money"
)

var testNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

func testProperty() *listing.Property {
	return &listing.Property{
		ID:          "prop-1",
		OwnerID:     "owner-1",
		Title:       "Bole apartment",
		MonthlyRate: money.Must(300000, "ETB"),
	}
}

func testRange(t *testing.T) daterange.DateRange {
	t.Helper()
	dr, err := daterange.New(
		time.Date(2026, time.June, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.July, 15, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return dr
}

func newTestBooking(t *testing.T) *Booking {
	t.Helper()
	b, err := NewBooking(CreateParams{
		ID:        "bk-1",
		Property:  testProperty(),
		TenantID:  "tenant-1",
		Range:     testRange(t),
		Occupants: 2,
		Total:     money.Must(945, "ETB"),
		CreatedAt: testNow,
	})
	require.NoError(t, err)
	b.ClearEvents()
	return b
}

func TestNewBookingGuards(t *testing.T) {
	valid := CreateParams{
		ID:        "bk-1",
		Property:  testProperty(),
		TenantID:  "tenant-1",
		Range:     testRange(t),
		Occupants: 2,
		Total:     money.Must(945, "ETB"),
		CreatedAt: testNow,
	}

	t.Run("records creation event", func(t *testing.T) {
		b, err := NewBooking(valid)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, b.Status)
		assert.Equal(t, PaymentUnpaid, b.PaymentStatus)
		assert.Equal(t, "owner-1", b.OwnerID)
		events := b.PendingEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "booking.created", events[0].EventName())
	})

	t.Run("owner cannot book own property", func(t *testing.T) {
		p := valid
		p.TenantID = "owner-1"
		_, err := NewBooking(p)
		assert.ErrorIs(t, err, ErrSelfBooking)
	})

	t.Run("unavailable property", func(t *testing.T) {
		p := valid
		prop := testProperty()
		prop.Unavailable = true
		p.Property = prop
		_, err := NewBooking(p)
		assert.ErrorIs(t, err, ErrPropertyUnavailable)
	})

	t.Run("start in the past", func(t *testing.T) {
		p := valid
		dr, err := daterange.New(
			time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
		)
		require.NoError(t, err)
		p.Range = dr
		_, err = NewBooking(p)
		assert.ErrorIs(t, err, ErrInvalidDateRange)
	})

	t.Run("zero occupants", func(t *testing.T) {
		p := valid
		p.Occupants = 0
		_, err := NewBooking(p)
		assert.ErrorIs(t, err, ErrInvalidOccupants)
	})
}

func TestTransitions(t *testing.T) {
	owner := Actor{UserID: "owner-1", Role: RoleOwner}
	tenant := Actor{UserID: "tenant-1", Role: RoleTenant}
	admin := Actor{UserID: "admin-1", Role: RoleAdmin}

	t.Run("owner approves pending", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Approve(owner, "welcome", testNow))
		assert.Equal(t, StatusApproved, b.Status)
		assert.Equal(t, "welcome", b.OwnerResponse)
		events := b.PendingEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "booking.statusChanged", events[0].EventName())
	})

	t.Run("tenant cannot approve", func(t *testing.T) {
		b := newTestBooking(t)
		assert.ErrorIs(t, b.Approve(tenant, "", testNow), ErrForbidden)
	})

	t.Run("stranger owner cannot approve", func(t *testing.T) {
		b := newTestBooking(t)
		other := Actor{UserID: "owner-9", Role: RoleOwner}
		assert.ErrorIs(t, b.Approve(other, "", testNow), ErrForbidden)
	})

	t.Run("tenant cancels pending", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Cancel(tenant, "changed plans", testNow))
		assert.Equal(t, StatusCancelled, b.Status)
		require.NotNil(t, b.Cancellation)
		assert.Equal(t, "tenant-1", b.Cancellation.Actor)
		assert.Equal(t, "changed plans", b.Cancellation.Reason)
	})

	t.Run("tenant cancels approved", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Approve(owner, "", testNow))
		require.NoError(t, b.Cancel(tenant, "", testNow))
		assert.Equal(t, StatusCancelled, b.Status)
	})

	t.Run("approve after reject is invalid", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Reject(owner, "no", testNow))
		err := b.Approve(owner, "", testNow)
		var transition *TransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, StatusRejected, transition.From)
		assert.Equal(t, StatusApproved, transition.To)
	})

	t.Run("cancel after cancel is invalid", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Cancel(tenant, "", testNow))
		err := b.Cancel(tenant, "", testNow)
		var transition *TransitionError
		assert.ErrorAs(t, err, &transition)
	})

	t.Run("admin can walk owner edges", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Approve(admin, "", testNow))
		require.NoError(t, b.Complete(admin, testNow))
		assert.Equal(t, StatusCompleted, b.Status)
	})
}

func TestSystemCompletion(t *testing.T) {
	owner := Actor{UserID: "owner-1", Role: RoleOwner}
	system := Actor{UserID: "scheduler", Role: RoleSystem}
	afterStay := time.Date(2026, time.July, 15, 0, 0, 0, 0, time.UTC)

	t.Run("requires paid and ended", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Approve(owner, "", testNow))

		assert.ErrorIs(t, b.Complete(system, afterStay), ErrCompletionNotDue)

		b.SetPaymentStatus(PaymentPaid, "pay-1", testNow)
		assert.ErrorIs(t, b.Complete(system, testNow), ErrCompletionNotDue)

		require.NoError(t, b.Complete(system, afterStay))
		assert.Equal(t, StatusCompleted, b.Status)
	})

	t.Run("owner completes without waiting", func(t *testing.T) {
		b := newTestBooking(t)
		require.NoError(t, b.Approve(owner, "", testNow))
		require.NoError(t, b.Complete(owner, testNow))
	})
}

func TestSetPaymentStatusMirror(t *testing.T) {
	b := newTestBooking(t)
	b.SetPaymentStatus(PaymentProcessing, "pay-1", testNow)
	assert.Equal(t, PaymentProcessing, b.PaymentStatus)
	assert.Equal(t, "pay-1", b.PaymentID)
	assert.Equal(t, StatusPending, b.Status, "mirror does not move booking status")

	// Empty payment id keeps the existing link.
	b.SetPaymentStatus(PaymentPaid, "", testNow)
	assert.Equal(t, "pay-1", b.PaymentID)
}
