package policies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainpayment "kiraya/internal/domain/payment"
)

// GatewayOutcome is the gateway-neutral verification result. Adapters fold
// every provider-specific status into one of these three.
type GatewayOutcome string

const (
	OutcomeSucceeded GatewayOutcome = "succeeded"
	OutcomeFailed    GatewayOutcome = "failed"
	OutcomePending   GatewayOutcome = "pending"
)

type PayerInfo struct {
	UserID string
	Email  string
	Phone  string
	Name   string
}

type InitiateResult struct {
	// Exactly one of CheckoutURL (hosted page) or ClientSecret (client-side
	// confirmation) is set, depending on the gateway.
	CheckoutURL  string
	ClientSecret string
	ProviderRef  string
}

type VerifyResult struct {
	Outcome     GatewayOutcome
	ProviderRef string
	Reason      string
	Raw         json.RawMessage
}

// GatewayAdapter is implemented once per payment provider. Initiate wraps
// the remote call that opens a charge; Verify is read-only on the provider
// side and safe to call arbitrarily many times.
type GatewayAdapter interface {
	Method() domainpayment.Method
	// PreRef returns a locally generated provider reference when the gateway
	// supports supplying one; it must be persisted before Initiate is called.
	PreRef() (string, bool)
	Initiate(ctx context.Context, p *domainpayment.Payment, payer PayerInfo) (InitiateResult, error)
	Verify(ctx context.Context, providerRef string) (VerifyResult, error)
}

var ErrGatewayUnavailable = errors.New("policies: no gateway configured for method")

// GatewayResolver picks the adapter for a payment method. The method itself
// is resolved server-side from configuration and at most a client preference
// hint.
type GatewayResolver interface {
	ByMethod(method domainpayment.Method) (GatewayAdapter, error)
	DefaultMethod() domainpayment.Method
}

// StaticResolver is a map-backed resolver used by the wiring and tests.
type StaticResolver struct {
	Adapters map[domainpayment.Method]GatewayAdapter
	Default  domainpayment.Method
}

func (r StaticResolver) ByMethod(method domainpayment.Method) (GatewayAdapter, error) {
	adapter, ok := r.Adapters[method]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, method)
	}
	return adapter, nil
}

func (r StaticResolver) DefaultMethod() domainpayment.Method {
	if r.Default == "" {
		return domainpayment.MethodMobileMoney
	}
	return r.Default
}

// ResolveMethod turns an optional client hint into a configured method,
// falling back to the default for unknown or unconfigured hints.
func ResolveMethod(r GatewayResolver, hint string) domainpayment.Method {
	if method, ok := domainpayment.ParseMethod(hint); ok {
		if _, err := r.ByMethod(method); err == nil {
			return method
		}
	}
	return r.DefaultMethod()
}
