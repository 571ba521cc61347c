package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New(1500, "etb")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), m.Amount)
	assert.Equal(t, "ETB", m.Currency)

	_, err = New(100, "")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
	_, err = New(100, "ETBX")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestArithmetic(t *testing.T) {
	a := Must(900, "ETB")
	b := Must(45, "ETB")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(945), sum.Amount)

	diff, err := sum.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, a, diff)

	_, err = a.Add(Must(10, "USD"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMulRateRounds(t *testing.T) {
	assert.Equal(t, int64(45), Must(900, "ETB").MulRate(0.05).Amount)
	// 0.05 * 910 = 45.5 rounds half away from zero
	assert.Equal(t, int64(46), Must(910, "ETB").MulRate(0.05).Amount)
	assert.Equal(t, int64(0), Must(900, "ETB").MulRate(0).Amount)
}

func TestPredicates(t *testing.T) {
	assert.True(t, Zero("ETB").IsZero())
	assert.False(t, Zero("ETB").IsPositive())
	assert.True(t, Must(1, "ETB").IsPositive())
	assert.True(t, Must(1, "ETB").LessThan(Must(2, "ETB")))
	assert.False(t, Must(2, "ETB").LessThan(Must(2, "ETB")))
}
