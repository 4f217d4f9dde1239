package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	wednesday := time.Date(2024, time.March, 13, 15, 4, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-13", DayKey(wednesday))
	assert.Equal(t, "2024-03-10", WeekKey(wednesday))
	assert.Equal(t, "2024-03", MonthKey(wednesday))
	assert.Equal(t, "2024-03-10", WeekKey(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-03-10", Current(Week, wednesday))
}

func TestRecent(t *testing.T) {
	now := time.Date(2024, time.January, 2, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, []string{"2024-01-02", "2024-01-01", "2023-12-31"}, Recent(Day, now, 3))
	assert.Equal(t, []string{"2023-12-31", "2023-12-24"}, Recent(Week, now, 2))
	assert.Equal(t, []string{"2024-01", "2023-12", "2023-11"}, Recent(Month, now, 3))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Day, "2024-02-29"))
	require.NoError(t, Validate(Week, "2024-03-10"))
	require.NoError(t, Validate(Month, "2024-03"))

	assert.Error(t, Validate(Day, "2023-02-29"))
	assert.Error(t, Validate(Day, "13/03/2024"))
	assert.Error(t, Validate(Week, "2024-03-13"))
	assert.Error(t, Validate(Month, "2024-3"))
	assert.Error(t, Validate(Granularity("year"), "2024"))
}

func TestKeysSortChronologically(t *testing.T) {
	assert.True(t, DayKey(time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC)) > DayKey(time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)))
	assert.True(t, Within("2024-03-12", "2024-03-10", "2024-03-16"))
	assert.False(t, Within("2024-03-17", "2024-03-10", "2024-03-16"))
}

func TestWorkingDaysSoFar(t *testing.T) {
	// March 2024 starts on a Friday; the 1st and 2nd are the weekend.
	assert.Equal(t, 0, WorkingDaysSoFar(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 5, WorkingDaysSoFar(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 5, WorkingDaysSoFar(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)))
}

func TestToHijri(t *testing.T) {
	cases := map[string]HijriDate{
		"2023-07-19": {Year: 1445, Month: 1, Day: 1},
		"2024-03-11": {Year: 1445, Month: 9, Day: 1},
		"2024-04-10": {Year: 1445, Month: 10, Day: 1},
	}
	for day, want := range cases {
		ts, err := time.Parse("2006-01-02", day)
		require.NoError(t, err)
		assert.Equal(t, want, ToHijri(ts), day)
	}

	h := ToHijri(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "رمضان", h.MonthName())
	assert.Equal(t, "1445-09-01", h.ISO())
	assert.Equal(t, "1 رمضان 1445", h.String())
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "66.7%", FormatPercent(200.0/3))
	assert.Equal(t, "0.0%", FormatPercent(0))
}
