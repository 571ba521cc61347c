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
	"strconv"
	"strings"
	"time"

	"kiraya/internal/app/policies"
	domainpayment "kiraya/internal/domain/payment"
)

// CardConfig carries credentials for the card intent provider.
type CardConfig struct {
	BaseURL        string
	SecretKey      string
	WebhookSecret  string
	Timeout        time.Duration
	EventTolerance time.Duration
}

const defaultEventTolerance = 5 * time.Minute

// Card drives a payment-intent card provider: Initiate opens an intent and
// returns its client secret for browser-side confirmation, the provider
// mints the reference.
type Card struct {
	cfg    CardConfig
	client httpDoer
	now    func() time.Time
}

func NewCard(cfg CardConfig) (*Card, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("card: base url is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("card: webhook secret is required")
	}
	if cfg.EventTolerance <= 0 {
		cfg.EventTolerance = defaultEventTolerance
	}
	return &Card{cfg: cfg, client: newClient(cfg.Timeout), now: time.Now}, nil
}

func (c *Card) Method() domainpayment.Method { return domainpayment.MethodCard }

// PreRef is unsupported: the provider assigns the intent id, which becomes
// the reference only after Initiate returns.
func (c *Card) PreRef() (string, bool) { return "", false }

type cardIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

func (c *Card) Initiate(ctx context.Context, p *domainpayment.Payment, payer policies.PayerInfo) (policies.InitiateResult, error) {
	req := map[string]any{
		"amount":   p.Amount.Amount,
		"currency": strings.ToLower(p.Amount.Currency),
		"metadata": map[string]string{
			"payment_id": string(p.ID),
			"booking_id": p.BookingID,
		},
		"receipt_email": payer.Email,
	}
	var resp cardIntentResponse
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/payment_intents"
	if err := doJSON(ctx, c.client, "card", "initiate", http.MethodPost, endpoint, c.cfg.SecretKey, req, &resp); err != nil {
		return policies.InitiateResult{}, err
	}
	if resp.ID == "" || resp.ClientSecret == "" {
		return policies.InitiateResult{}, &Error{Provider: "card", Op: "initiate", Err: fmt.Errorf("intent response missing id or client_secret")}
	}
	return policies.InitiateResult{ClientSecret: resp.ClientSecret, ProviderRef: resp.ID}, nil
}

type cardVerifyResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	LastError     string `json:"last_payment_error"`
	CancelReason  string `json:"cancellation_reason"`
	AmountCap     int64  `json:"amount_capturable"`
	AmountReceive int64  `json:"amount_received"`
}

func (c *Card) Verify(ctx context.Context, providerRef string) (policies.VerifyResult, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/payment_intents/" + url.PathEscape(providerRef)
	var resp cardVerifyResponse
	if err := doJSON(ctx, c.client, "card", "verify", http.MethodGet, endpoint, c.cfg.SecretKey, nil, &resp); err != nil {
		return policies.VerifyResult{}, err
	}
	raw, _ := json.Marshal(resp)
	out := policies.VerifyResult{ProviderRef: providerRef, Raw: raw}
	switch strings.ToLower(resp.Status) {
	case "succeeded":
		out.Outcome = policies.OutcomeSucceeded
	case "canceled", "payment_failed", "requires_payment_method":
		out.Outcome = policies.OutcomeFailed
		out.Reason = resp.LastError
		if out.Reason == "" && resp.CancelReason != "" {
			out.Reason = resp.CancelReason
		}
		if out.Reason == "" {
			out.Reason = "intent " + strings.ToLower(resp.Status)
		}
	default:
		out.Outcome = policies.OutcomePending
	}
	return out, nil
}

// VerifyWebhookSignature validates the signed envelope header
// "t=<unix>,v1=<hex hmac>" where the digest covers "<t>.<body>". Events
// older than the tolerance window are rejected to blunt replay.
func (c *Card) VerifyWebhookSignature(body []byte, header string) bool {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := c.now().Sub(time.Unix(unix, 0))
	if age < -c.cfg.EventTolerance || age > c.cfg.EventTolerance {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

// WebhookRef pulls the intent id out of an event envelope.
func (c *Card) WebhookRef(body []byte) (string, error) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return "", fmt.Errorf("card: decode webhook: %w", err)
	}
	if event.Data.Object.ID == "" {
		return "", fmt.Errorf("card: webhook missing intent id")
	}
	return event.Data.Object.ID, nil
}

var _ policies.GatewayAdapter = (*Card)(nil)
