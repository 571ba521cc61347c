package daterange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewNormalizes(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	start := time.Date(2026, time.June, 1, 14, 30, 12, 0, loc)
	end := time.Date(2026, time.June, 10, 9, 0, 0, 0, loc)

	dr, err := New(start, end)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.June, 1), dr.Start)
	assert.Equal(t, date(2026, time.June, 10), dr.End)
	assert.Equal(t, 9, dr.Nights())
}

func TestNewRejectsEmptyAndInverted(t *testing.T) {
	_, err := New(date(2026, time.June, 10), date(2026, time.June, 1))
	assert.ErrorIs(t, err, ErrInvalidRange)

	// Same day collapses to zero nights once normalized.
	_, err = New(
		time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2026, time.June, 1, 22, 0, 0, 0, time.UTC),
	)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestOverlaps(t *testing.T) {
	base, err := New(date(2026, time.June, 10), date(2026, time.June, 20))
	require.NoError(t, err)

	cases := []struct {
		name     string
		start    time.Time
		end      time.Time
		overlaps bool
	}{
		{"identical", date(2026, time.June, 10), date(2026, time.June, 20), true},
		{"contained", date(2026, time.June, 12), date(2026, time.June, 15), true},
		{"straddles start", date(2026, time.June, 5), date(2026, time.June, 11), true},
		{"straddles end", date(2026, time.June, 19), date(2026, time.June, 25), true},
		{"checkout equals checkin", date(2026, time.June, 1), date(2026, time.June, 10), false},
		{"checkin equals checkout", date(2026, time.June, 20), date(2026, time.June, 30), false},
		{"disjoint before", date(2026, time.June, 1), date(2026, time.June, 5), false},
		{"disjoint after", date(2026, time.June, 25), date(2026, time.June, 30), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			other, err := New(tc.start, tc.end)
			require.NoError(t, err)
			assert.Equal(t, tc.overlaps, base.Overlaps(other))
			assert.Equal(t, tc.overlaps, other.Overlaps(base), "overlap must be symmetric")
		})
	}
}

func TestContainsDate(t *testing.T) {
	dr, err := New(date(2026, time.June, 10), date(2026, time.June, 20))
	require.NoError(t, err)

	assert.True(t, dr.ContainsDate(date(2026, time.June, 10)))
	assert.True(t, dr.ContainsDate(date(2026, time.June, 19)))
	assert.False(t, dr.ContainsDate(date(2026, time.June, 20)), "end is exclusive")
	assert.False(t, dr.ContainsDate(date(2026, time.June, 9)))
}

func TestEnded(t *testing.T) {
	dr, err := New(date(2026, time.June, 10), date(2026, time.June, 20))
	require.NoError(t, err)

	assert.False(t, dr.Ended(date(2026, time.June, 19)))
	assert.True(t, dr.Ended(date(2026, time.June, 20)))
	assert.True(t, dr.Ended(time.Date(2026, time.June, 20, 0, 0, 1, 0, time.UTC)))
}
