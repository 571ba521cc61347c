package ginserver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiraya/internal/app/policies"
	"kiraya/internal/app/recon"
	domainbooking "kiraya/internal/domain/booking"
	domainpayment "kiraya/internal/domain/payment"
	"kiraya/internal/domain/shared/daterange"
	"kiraya/internal/domain/shared/money"
	infragateway "kiraya/internal/infra/gateway"
	"kiraya/internal/infra/storage/memory"
)

const webhookSecret = "whsec-test"

type webhookFixture struct {
	router   *gin.Engine
	payments *memory.PaymentRepository
	bookings *memory.BookingRepository
	provider *providerStub
}

// providerStub plays the mobile money API for verify calls.
type providerStub struct {
	status     string
	httpStatus int
}

func (p *providerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.httpStatus != 0 {
		http.Error(w, "provider down", p.httpStatus)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   map[string]string{"status": p.status},
	})
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := &providerStub{status: "success"}
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	mm, err := infragateway.NewMobileMoney(infragateway.MobileMoneyConfig{
		BaseURL:       srv.URL,
		SecretKey:     "sk-test",
		WebhookSecret: webhookSecret,
	}, "test")
	require.NoError(t, err)

	bookings := memory.NewBookingRepository()
	payments := memory.NewPaymentRepository()
	factory := memory.Factory{
		PropertyRepo: memory.NewPropertyRepository(),
		BookingRepo:  bookings,
		PaymentRepo:  payments,
		Sink:         memory.NewOutbox(),
	}
	resolver := policies.StaticResolver{Adapters: map[domainpayment.Method]policies.GatewayAdapter{
		domainpayment.MethodMobileMoney: mm,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := recon.NewCoordinator(factory, resolver, policies.NopAudit{}, logger)

	router := gin.New()
	h := WebhookHandler{MobileMoney: mm, Coordinator: coordinator, Logger: logger}
	router.POST("/webhooks/mobilemoney", h.MobileMoneyWebhook)

	f := &webhookFixture{router: router, payments: payments, bookings: bookings, provider: provider}
	f.seed(t)
	return f
}

func (f *webhookFixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	rng, err := daterange.New(
		time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.NoError(t, f.bookings.Create(ctx, &domainbooking.Booking{
		ID:            "bk-1",
		PropertyID:    "prop-1",
		TenantID:      "tenant-1",
		OwnerID:       "owner-1",
		Range:         rng,
		Occupants:     1,
		Total:         money.Must(94500, "ETB"),
		Status:        domainbooking.StatusApproved,
		PaymentStatus: domainbooking.PaymentProcessing,
		CreatedAt:     now,
	}))

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
		CreatedAt: now,
	})
	require.NoError(t, err)
	p.AttachProviderRef("KRA-1", now)
	p.ClearEvents()
	require.NoError(t, f.payments.Create(ctx, p))
}

func (f *webhookFixture) post(t *testing.T, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mobilemoney", bytes.NewReader(body))
	if sign {
		mac := hmac.New(sha256.New, []byte(webhookSecret))
		mac.Write(body)
		req.Header.Set("x-webhook-signature", hex.EncodeToString(mac.Sum(nil)))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestMobileMoneyWebhookReconciles(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"tx_ref":"KRA-1","status":"success"}`)

	rec := f.post(t, body, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	p, err := f.payments.ByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusSucceeded, p.Status)

	b, err := f.bookings.ByID(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.PaymentPaid, b.PaymentStatus)

	// Redelivery is acknowledged without re-applying.
	rec = f.post(t, body, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMobileMoneyWebhookIgnoresPayloadStatus(t *testing.T) {
	f := newWebhookFixture(t)
	// Provider says pending when asked; a forged "success" in the body must
	// not move the payment.
	f.provider.status = "pending"

	rec := f.post(t, []byte(`{"tx_ref":"KRA-1","status":"success"}`), true)
	assert.Equal(t, http.StatusOK, rec.Code)

	p, err := f.payments.ByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusPending, p.Status)
}

func TestMobileMoneyWebhookBadSignature(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, []byte(`{"tx_ref":"KRA-1"}`), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	p, err := f.payments.ByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusPending, p.Status)
}

func TestMobileMoneyWebhookMalformedPayload(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, []byte(`{"status":"success"}`), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMobileMoneyWebhookUnknownRef(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, []byte(`{"tx_ref":"KRA-unknown"}`), true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestMobileMoneyWebhookProviderDown(t *testing.T) {
	f := newWebhookFixture(t)
	f.provider.httpStatus = http.StatusInternalServerError

	rec := f.post(t, []byte(`{"tx_ref":"KRA-1"}`), true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	p, err := f.payments.ByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domainpayment.StatusPending, p.Status)
}

func TestWebhookRoutesUnconfiguredGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := WebhookHandler{}
	router.POST("/webhooks/card", h.CardWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/card", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
