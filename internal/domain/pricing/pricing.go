package pricing

import (
	"errors"
	"math"
	"time"

	"kiraya/internal/domain/shared/daterange"
	"kiraya/internal/domain/shared/money"
)

var (
	ErrDurationTooShort = errors.New("pricing: stay shorter than minimum lease duration")
	ErrInvalidRate      = errors.New("pricing: monthly rate must be positive")
)

// Average Gregorian month length, used only for the minimum-lease check.
const daysPerMonth = 30.44

// Quote is the deterministic price for a stay. The quote endpoint and the
// charge step both go through Calculator.Quote, so the figures can never
// diverge between what the tenant saw and what the ledger records.
type Quote struct {
	Nights     int
	Rent       money.Money
	ServiceFee money.Money
	Total      money.Money
}

// Calculator derives stay totals from a property's monthly rate.
// Rates are monthly figures; the daily rate is the monthly rate divided by
// the number of days in the month the stay starts in.
type Calculator struct {
	FeeRate        float64
	MinLeaseMonths int
}

func (c Calculator) Quote(monthlyRate money.Money, dr daterange.DateRange) (Quote, error) {
	if !monthlyRate.IsPositive() {
		return Quote{}, ErrInvalidRate
	}
	if err := dr.Validate(); err != nil {
		return Quote{}, err
	}
	nights := dr.Nights()
	if c.MinLeaseMonths > 0 && float64(nights) < float64(c.MinLeaseMonths)*daysPerMonth {
		return Quote{}, ErrDurationTooShort
	}

	days := daysInMonth(dr.Start)
	rentAmount := int64(math.Round(float64(monthlyRate.Amount) / float64(days) * float64(nights)))
	rent := money.Money{Amount: rentAmount, Currency: monthlyRate.Currency}
	fee := rent.MulRate(c.FeeRate)
	total, err := rent.Add(fee)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Nights: nights, Rent: rent, ServiceFee: fee, Total: total}, nil
}

func daysInMonth(t time.Time) int {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
