package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"kiraya/internal/app/policies"
	domainpayment "kiraya/internal/domain/payment"
)

// MobileMoneyConfig carries the credentials and endpoints of the hosted
// mobile-money checkout provider.
type MobileMoneyConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	ReturnURL     string
	Timeout       time.Duration
	// AllowUnsigned disables webhook signature checks when no secret is
	// configured. Refused outside dev; see NewMobileMoney.
	AllowUnsigned bool
}

// MobileMoney talks to a hosted-checkout mobile money provider. The
// transaction reference is generated locally and handed to the provider, so
// it is known (and persisted) before the first network call.
type MobileMoney struct {
	cfg    MobileMoneyConfig
	client httpDoer
}

func NewMobileMoney(cfg MobileMoneyConfig, env string) (*MobileMoney, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mobilemoney: base url is required")
	}
	if cfg.WebhookSecret == "" && !cfg.AllowUnsigned {
		return nil, fmt.Errorf("mobilemoney: webhook secret is required")
	}
	if cfg.AllowUnsigned && env != "dev" && env != "local" && env != "test" {
		return nil, fmt.Errorf("mobilemoney: unsigned webhooks are not allowed in %q", env)
	}
	return &MobileMoney{cfg: cfg, client: newClient(cfg.Timeout)}, nil
}

func (m *MobileMoney) Method() domainpayment.Method { return domainpayment.MethodMobileMoney }

// PreRef mints the tx_ref sent to the provider. Persisting it before the
// initiate call keeps the payment reachable by webhook even when the call
// itself times out.
func (m *MobileMoney) PreRef() (string, bool) {
	return "KRA-" + uuid.NewString(), true
}

type mmInitiateRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	TxRef     string `json:"tx_ref"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone_number,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	ReturnURL string `json:"return_url,omitempty"`
}

type mmInitiateResponse struct {
	Status string `json:"status"`
	Data   struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

func (m *MobileMoney) Initiate(ctx context.Context, p *domainpayment.Payment, payer policies.PayerInfo) (policies.InitiateResult, error) {
	req := mmInitiateRequest{
		Amount:    fmt.Sprintf("%d.%02d", p.Amount.Amount/100, p.Amount.Amount%100),
		Currency:  p.Amount.Currency,
		TxRef:     p.ProviderRef,
		Email:     payer.Email,
		Phone:     payer.Phone,
		FirstName: payer.Name,
		ReturnURL: m.cfg.ReturnURL,
	}
	var resp mmInitiateResponse
	endpoint := strings.TrimRight(m.cfg.BaseURL, "/") + "/v1/transaction/initialize"
	if err := doJSON(ctx, m.client, "mobilemoney", "initiate", http.MethodPost, endpoint, m.cfg.SecretKey, req, &resp); err != nil {
		return policies.InitiateResult{}, err
	}
	if !strings.EqualFold(resp.Status, "success") || resp.Data.CheckoutURL == "" {
		return policies.InitiateResult{}, &Error{Provider: "mobilemoney", Op: "initiate", Err: fmt.Errorf("provider status %q", resp.Status)}
	}
	return policies.InitiateResult{CheckoutURL: resp.Data.CheckoutURL, ProviderRef: p.ProviderRef}, nil
}

type mmVerifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		Status string `json:"status"`
		TxRef  string `json:"tx_ref"`
		Reason string `json:"message"`
	} `json:"data"`
}

// Verify asks the provider for the authoritative state of a transaction.
// Webhook bodies are never trusted; this call decides the outcome.
func (m *MobileMoney) Verify(ctx context.Context, providerRef string) (policies.VerifyResult, error) {
	endpoint := strings.TrimRight(m.cfg.BaseURL, "/") + "/v1/transaction/verify/" + url.PathEscape(providerRef)
	var resp mmVerifyResponse
	if err := doJSON(ctx, m.client, "mobilemoney", "verify", http.MethodGet, endpoint, m.cfg.SecretKey, nil, &resp); err != nil {
		return policies.VerifyResult{}, err
	}
	raw, _ := json.Marshal(resp)
	out := policies.VerifyResult{ProviderRef: providerRef, Raw: raw, Reason: resp.Data.Reason}
	switch strings.ToLower(resp.Data.Status) {
	case "success", "succeeded", "paid":
		out.Outcome = policies.OutcomeSucceeded
	case "failed", "cancelled", "expired":
		out.Outcome = policies.OutcomeFailed
		if out.Reason == "" {
			out.Reason = "provider reported " + strings.ToLower(resp.Data.Status)
		}
	default:
		out.Outcome = policies.OutcomePending
	}
	return out, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex digest of the raw body
// against the signature header. With no secret configured and unsigned
// webhooks allowed (dev only), every payload passes.
func (m *MobileMoney) VerifyWebhookSignature(body []byte, signature string) bool {
	if m.cfg.WebhookSecret == "" {
		return m.cfg.AllowUnsigned
	}
	mac := hmac.New(sha256.New, []byte(m.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// WebhookRef extracts the transaction reference from a webhook payload. Only
// the reference is taken from the body; the status inside is ignored.
func (m *MobileMoney) WebhookRef(body []byte) (string, error) {
	var payload struct {
		TxRef string `json:"tx_ref"`
		Data  struct {
			TxRef string `json:"tx_ref"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("mobilemoney: decode webhook: %w", err)
	}
	ref := payload.TxRef
	if ref == "" {
		ref = payload.Data.TxRef
	}
	if ref == "" {
		return "", fmt.Errorf("mobilemoney: webhook missing tx_ref")
	}
	return ref, nil
}

var _ policies.GatewayAdapter = (*MobileMoney)(nil)
