package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiraya/internal/domain/shared/money"
)

var testNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewPayment(CreateParams{
		ID:        "pay-1",
		BookingID: "bk-1",
		PayerID:   "tenant-1",
		PayeeID:   "owner-1",
		Method:    MethodMobileMoney,
		Breakdown: Breakdown{
			Rent:       money.Must(900, "ETB"),
			ServiceFee: money.Must(45, "ETB"),
		},
		CreatedAt: testNow,
	})
	require.NoError(t, err)
	p.ClearEvents()
	return p
}

func TestNewPayment(t *testing.T) {
	p := newTestPayment(t)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int64(945), p.Amount.Amount)
	assert.Nil(t, p.PaidAt)

	_, err := NewPayment(CreateParams{
		ID: "pay-2",
		Breakdown: Breakdown{
			Rent:       money.Zero("ETB"),
			ServiceFee: money.Zero("ETB"),
			Taxes:      money.Zero("ETB"),
			Deposit:    money.Zero("ETB"),
			Discount:   money.Zero("ETB"),
		},
		CreatedAt: testNow,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLifecycle(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkProcessing(testNow))
		require.NoError(t, p.MarkSucceeded([]byte(`{"status":"success"}`), testNow))
		assert.Equal(t, StatusSucceeded, p.Status)
		require.NotNil(t, p.PaidAt)
		events := p.PendingEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "payment.succeeded", events[0].EventName())
	})

	t.Run("success from pending passes through processing", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkSucceeded(nil, testNow))
		assert.Equal(t, StatusSucceeded, p.Status)
	})

	t.Run("paid at is set once", func(t *testing.T) {
		p := newTestPayment(t)
		first := testNow
		require.NoError(t, p.MarkSucceeded(nil, first))
		paidAt := *p.PaidAt

		// A later refund leaves the original timestamp alone.
		require.NoError(t, p.ApplyRefund("rf-1", money.Must(100, "ETB"), "", first.Add(time.Hour)))
		assert.Equal(t, paidAt, *p.PaidAt)
	})

	t.Run("succeed after failed is invalid", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkFailed("declined", testNow))
		err := p.MarkSucceeded(nil, testNow)
		var transition *TransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, StatusFailed, transition.From)
	})

	t.Run("failed records reason and event", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkProcessing(testNow))
		require.NoError(t, p.MarkFailed("insufficient funds", testNow))
		assert.Equal(t, "insufficient funds", p.FailureReason)
		events := p.PendingEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "payment.failed", events[0].EventName())
	})

	t.Run("cancel only from pending", func(t *testing.T) {
		p := newTestPayment(t)
		require.NoError(t, p.MarkCancelled(testNow))

		p2 := newTestPayment(t)
		require.NoError(t, p2.MarkProcessing(testNow))
		assert.Error(t, p2.MarkCancelled(testNow))
	})
}

func TestResetForRetry(t *testing.T) {
	p := newTestPayment(t)
	p.AttachProviderRef("KRA-abc", testNow)
	require.NoError(t, p.MarkProcessing(testNow))
	require.NoError(t, p.MarkFailed("declined", testNow))

	require.NoError(t, p.ResetForRetry(testNow))
	assert.Equal(t, StatusPending, p.Status)
	assert.Empty(t, p.ProviderRef, "retry must allocate a fresh reference")
	assert.Empty(t, p.FailureReason)

	// Only failed payments can be reopened.
	p2 := newTestPayment(t)
	require.NoError(t, p2.MarkSucceeded(nil, testNow))
	assert.Error(t, p2.ResetForRetry(testNow))
}

func TestRefunds(t *testing.T) {
	succeeded := func(t *testing.T) *Payment {
		p := newTestPayment(t)
		require.NoError(t, p.MarkSucceeded(nil, testNow))
		p.ClearEvents()
		return p
	}

	t.Run("full refund", func(t *testing.T) {
		p := succeeded(t)
		require.NoError(t, p.ApplyRefund("rf-1", money.Must(945, "ETB"), "cancelled stay", testNow))
		assert.Equal(t, StatusRefunded, p.Status)
		require.Len(t, p.Refunds, 1)
		events := p.PendingEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "payment.refunded", events[0].EventName())
	})

	t.Run("partial refunds accumulate to full", func(t *testing.T) {
		p := succeeded(t)
		require.NoError(t, p.ApplyRefund("rf-1", money.Must(500, "ETB"), "", testNow))
		assert.Equal(t, StatusPartiallyRefunded, p.Status)
		require.NoError(t, p.ApplyRefund("rf-2", money.Must(445, "ETB"), "", testNow))
		assert.Equal(t, StatusRefunded, p.Status)
		assert.Equal(t, int64(945), p.RefundedTotal().Amount)
	})

	t.Run("cumulative refunds capped at original amount", func(t *testing.T) {
		p := succeeded(t)
		require.NoError(t, p.ApplyRefund("rf-1", money.Must(900, "ETB"), "", testNow))
		err := p.ApplyRefund("rf-2", money.Must(100, "ETB"), "", testNow)
		assert.ErrorIs(t, err, ErrRefundExceedsAmount)
		assert.Equal(t, StatusPartiallyRefunded, p.Status, "rejected refund leaves state untouched")
		assert.Len(t, p.Refunds, 1)
	})

	t.Run("refund requires success", func(t *testing.T) {
		p := newTestPayment(t)
		err := p.ApplyRefund("rf-1", money.Must(100, "ETB"), "", testNow)
		assert.ErrorIs(t, err, ErrNotSucceeded)
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		p := succeeded(t)
		err := p.ApplyRefund("rf-1", money.Zero("ETB"), "", testNow)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}
