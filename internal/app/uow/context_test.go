package uow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainbooking "kiraya/internal/domain/booking"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
)

type plainUnit struct{}

func (plainUnit) Properties() domainlisting.Repository { return nil }
func (plainUnit) Bookings() domainbooking.Repository   { return nil }
func (plainUnit) Payments() domainpayment.Repository   { return nil }
func (plainUnit) Commit(ctx context.Context) error     { return nil }
func (plainUnit) Rollback(ctx context.Context) error   { return nil }

type txCtxKey struct{}

type injectingUnit struct{ plainUnit }

func (injectingUnit) InjectContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, txCtxKey{}, true)
}

func TestBindInjectsTransactionContext(t *testing.T) {
	ctx := context.Background()

	bound := Bind(ctx, injectingUnit{})
	assert.Equal(t, true, bound.Value(txCtxKey{}))
}

func TestBindPassesThroughPlainUnits(t *testing.T) {
	ctx := context.Background()

	bound := Bind(ctx, plainUnit{})
	assert.Equal(t, ctx, bound)
	assert.Nil(t, bound.Value(txCtxKey{}))
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithUnitOfWork(context.Background(), plainUnit{})

	unit, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, plainUnit{}, unit)

	_, err := Require(context.Background())
	assert.ErrorIs(t, err, ErrUnitOfWorkMissing)
}
