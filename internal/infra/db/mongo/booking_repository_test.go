package mongo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"

	domainbooking "kiraya/internal/domain/booking"
)

func TestMapWriteConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "write conflict code",
			err:  mongo.CommandError{Code: codeWriteConflict, Message: "WriteConflict"},
			want: domainbooking.ErrConcurrentUpdate,
		},
		{
			name: "transient transaction label",
			err:  mongo.CommandError{Code: 251, Labels: []string{"TransientTransactionError"}},
			want: domainbooking.ErrConcurrentUpdate,
		},
		{
			name: "wrapped conflict",
			err:  fmt.Errorf("upsert property lock: %w", mongo.CommandError{Code: codeWriteConflict}),
			want: domainbooking.ErrConcurrentUpdate,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapWriteConflict(tc.err), tc.want)
		})
	}
}

func TestMapWriteConflictPassesThroughOtherErrors(t *testing.T) {
	server := mongo.CommandError{Code: 11000, Message: "duplicate key"}
	assert.Equal(t, error(server), mapWriteConflict(server))

	plain := errors.New("connection reset")
	assert.ErrorIs(t, mapWriteConflict(plain), plain)
}
