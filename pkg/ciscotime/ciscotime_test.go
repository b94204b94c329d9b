package ciscotime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		tz      string
		weekday time.Weekday
	}{
		{
			in:      "16:04:31.458 PDT Thu Aug 6 2015",
			want:    time.Date(2015, time.August, 6, 16, 4, 31, 458*int(time.Millisecond), time.UTC),
			tz:      "PDT",
			weekday: time.Thursday,
		},
		{
			in:      "18:55:05.551 GMT/BDT Mon May 11 2015",
			want:    time.Date(2015, time.May, 11, 18, 55, 5, 551*int(time.Millisecond), time.UTC),
			tz:      "GMT/BDT",
			weekday: time.Monday,
		},
		{
			in:      "Configuration last modified by enable_1 at 16:23:03.599 EDT Fri Jul 17 2015\n",
			want:    time.Date(2015, time.July, 17, 16, 23, 3, 599*int(time.Millisecond), time.UTC),
			tz:      "EDT",
			weekday: time.Friday,
		},
		{
			in:      "Last Failover at: 21:08:43 EST Jan 3 2015\n",
			want:    time.Date(2015, time.January, 3, 21, 8, 43, 0, time.UTC),
			tz:      "EST",
			weekday: time.Saturday,
		},
		{
			in:      "12:00:00 UTC Mon Mar 2 2015",
			want:    time.Date(2015, time.March, 2, 12, 0, 0, 0, time.UTC),
			tz:      "UTC",
			weekday: time.Monday,
		},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, tz, ok := Parse(tt.in)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, tt.tz, tz)
			assert.Equal(t, tt.weekday, got.Weekday())
		})
	}
}

func TestParseOrdering(t *testing.T) {
	a, _, ok := Parse("16:04:31.458 PDT Thu Aug 6 2015")
	require.True(t, ok)
	b, _, ok := Parse("16:04:31.459 PDT Thu Aug 6 2015")
	require.True(t, ok)
	assert.True(t, a.Before(b))
}

func TestParseNoTimestamp(t *testing.T) {
	_, _, ok := Parse("Failover Off")
	assert.False(t, ok)

	_, _, ok = Parse("12:00:00 UTC Foo 3 2015")
	assert.False(t, ok)
}
