package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMarketOpen(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"monday midday", time.Date(2025, time.March, 10, 12, 0, 0, 0, et), true},
		{"open boundary", time.Date(2025, time.March, 10, 9, 30, 0, 0, et), true},
		{"just before open", time.Date(2025, time.March, 10, 9, 29, 0, 0, et), false},
		{"close boundary", time.Date(2025, time.March, 10, 16, 0, 0, 0, et), false},
		{"last open minute", time.Date(2025, time.March, 10, 15, 59, 0, 0, et), true},
		{"saturday", time.Date(2025, time.March, 8, 12, 0, 0, 0, et), false},
		{"sunday", time.Date(2025, time.March, 9, 12, 0, 0, 0, et), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.open, IsMarketOpen(tc.at))
		})
	}
}

func TestIsMarketOpenConvertsZone(t *testing.T) {
	// 17:00 UTC on a Monday is noon Eastern during DST.
	assert.True(t, IsMarketOpen(time.Date(2025, time.June, 2, 17, 0, 0, 0, time.UTC)))
	// 02:00 UTC Tuesday is still Monday evening Eastern, after close.
	assert.False(t, IsMarketOpen(time.Date(2025, time.June, 3, 2, 0, 0, 0, time.UTC)))
}
