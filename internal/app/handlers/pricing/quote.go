package pricing

import (
	"context"
	"time"

	"kiraya/internal/app/queries"
	"kiraya/internal/app/uow"
	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpricing "kiraya/internal/domain/pricing"
	domainrange "kiraya/internal/domain/shared/daterange"
)

const quoteKey = "pricing.quote"

type QuoteQuery struct {
	PropertyID string
	StartDate  time.Time
	EndDate    time.Time
}

func (q QuoteQuery) Key() string { return quoteKey }

// QuoteResult exposes the same figures the charge step will use; any drift
// between this endpoint and the ledger is a correctness bug.
type QuoteResult struct {
	Nights     int    `json:"nights"`
	Rent       int64  `json:"rent"`
	ServiceFee int64  `json:"service_fee"`
	Total      int64  `json:"total"`
	Currency   string `json:"currency"`
}

type QuoteHandler struct {
	UoWFactory uow.Factory
	Calculator domainpricing.Calculator
}

func (h *QuoteHandler) Handle(ctx context.Context, q QuoteQuery) (QuoteResult, error) {
	dr, err := domainrange.New(q.StartDate, q.EndDate)
	if err != nil {
		return QuoteResult{}, domainbooking.ErrInvalidDateRange
	}
	unit, ok := uow.FromContext(ctx)
	var cleanup func()
	if !ok {
		if h.UoWFactory == nil {
			return QuoteResult{}, uow.ErrUnitOfWorkMissing
		}
		u, err := h.UoWFactory.Begin(ctx, uow.TxOptions{ReadOnly: true})
		if err != nil {
			return QuoteResult{}, err
		}
		unit = u
		ctx = uow.Bind(ctx, u)
		cleanup = func() { _ = u.Rollback(ctx) }
	}
	if cleanup != nil {
		defer cleanup()
	}

	property, err := unit.Properties().ByID(ctx, domainlisting.PropertyID(q.PropertyID))
	if err != nil {
		return QuoteResult{}, err
	}
	calc := h.Calculator
	if property.MinLeaseMonths > 0 {
		calc.MinLeaseMonths = property.MinLeaseMonths
	}
	quote, err := calc.Quote(property.MonthlyRate, dr)
	if err != nil {
		return QuoteResult{}, err
	}
	return QuoteResult{
		Nights:     quote.Nights,
		Rent:       quote.Rent.Amount,
		ServiceFee: quote.ServiceFee.Amount,
		Total:      quote.Total.Amount,
		Currency:   quote.Total.Currency,
	}, nil
}

var _ queries.Handler[QuoteQuery, QuoteResult] = (*QuoteHandler)(nil)
