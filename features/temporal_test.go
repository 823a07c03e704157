package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"flightdelay/flight"
	"flightdelay/logging"
)

func TestPeriodOfDay(t *testing.T) {
	cases := map[string]Period{
		"2024-06-01 05:00:00": Morning,
		"2024-06-01 06:30:00": Morning,
		"2024-06-01 11:59:00": Morning,
		"2024-06-01 11:59:59": Morning,
		"2024-06-01 12:00:00": Afternoon,
		"2024-06-01 13:30:00": Afternoon,
		"2024-06-01 18:59:00": Afternoon,
		"2024-06-01 19:00:00": Night,
		"2024-06-01 20:30:00": Night,
		"2024-06-01 23:59:00": Night,
		"2024-06-01 00:00:00": Night,
		"2024-06-01 03:30:00": Night,
		"2024-06-01 04:59:00": Night,
	}
	for ts, want := range cases {
		assert.Equal(t, want, PeriodOfDay(ts), ts)
	}
}

func TestPeriodOfDayMorningRange(t *testing.T) {
	for minute := 5 * 60; minute <= 11*60+59; minute++ {
		ts := "2024-03-10 " + clock(minute)
		require.Equal(t, Morning, PeriodOfDay(ts), ts)
	}
}

func TestPeriodOfDayMalformed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.Set(zap.New(core))
	defer logging.Set(nil)

	assert.Equal(t, Error, PeriodOfDay("invalid-date"))
	assert.Equal(t, Error, PeriodOfDay("2024-06-01"))
	assert.Equal(t, Error, PeriodOfDay(""))
	assert.Equal(t, 3, logs.Len())
}

func TestIsHighSeason(t *testing.T) {
	assert.Equal(t, 1, IsHighSeason("2024-12-20 00:00:00"))
	assert.Equal(t, 1, IsHighSeason("2024-01-15 00:00:00"))
	assert.Equal(t, 0, IsHighSeason("2024-06-15 00:00:00"))

	// window edges are whole days
	assert.Equal(t, 1, IsHighSeason("2024-12-15 00:00:00"))
	assert.Equal(t, 1, IsHighSeason("2024-12-31 23:10:00"))
	assert.Equal(t, 1, IsHighSeason("2023-03-03 18:00:00"))
	assert.Equal(t, 0, IsHighSeason("2023-03-04 00:00:00"))
	assert.Equal(t, 0, IsHighSeason("2024-07-14 23:59:00"))
	assert.Equal(t, 1, IsHighSeason("2024-07-15 00:01:00"))
	assert.Equal(t, 0, IsHighSeason("2024-09-10 12:00:00"))
	assert.Equal(t, 1, IsHighSeason("2024-09-30 12:00:00"))
	assert.Equal(t, 0, IsHighSeason("2024-10-01 00:00:00"))
}

func TestIsHighSeasonMalformed(t *testing.T) {
	assert.Equal(t, 0, IsHighSeason("invalid-date"))
	assert.Equal(t, 0, IsHighSeason("2024-06-01"))
}

func TestMinutesDifference(t *testing.T) {
	assert.Equal(t, 30.0, MinutesDifference("2024-06-01 14:00:00", "2024-06-01 14:30:00"))
	assert.Equal(t, -5.0, MinutesDifference("2024-06-01 14:00:00", "2024-06-01 13:55:00"))
	assert.Equal(t, 1440.0+60, MinutesDifference("2024-06-01 14:00:00", "2024-06-02 15:00:00"))
	assert.InDelta(t, 0.5, MinutesDifference("2024-06-01 14:00:00", "2024-06-01 14:00:30"), 1e-9)
}

func TestMinutesDifferenceFailsOpen(t *testing.T) {
	assert.Equal(t, 0.0, MinutesDifference("2024-06-01 14:00:00", "invalid-date"))
	assert.Equal(t, 0.0, MinutesDifference("", "2024-06-01 14:30:00"))
	assert.Equal(t, 0.0, MinutesDifference("2024-06-01 14:00:00", ""))
}

func TestDelayLabel(t *testing.T) {
	assert.Equal(t, 0, DelayLabel(15, 15))
	assert.Equal(t, 1, DelayLabel(15.0001, 15))
	assert.Equal(t, 0, DelayLabel(-5, 15))
	assert.Equal(t, 0, DelayLabel(0, 15))
	assert.Equal(t, 1, DelayLabel(20, 15))
	assert.Equal(t, 0, DelayLabel(10, 15))
	assert.Equal(t, 0, DelayLabel(math.NaN(), 15))
}

func TestDerive(t *testing.T) {
	rec := flight.TrainingRecord{
		Record:    flight.Record{Carrier: "Grupo LATAM", FlightType: "I", Month: 12},
		Scheduled: "2017-12-20 21:10:00",
		Actual:    "2017-12-20 21:40:00",
	}
	d := Derive(rec, DefaultDelayThreshold)
	assert.Equal(t, Derived{PeriodOfDay: Night, HighSeason: 1, MinDiff: 30, Delay: 1}, d)

	rec.Actual = ""
	d = Derive(rec, DefaultDelayThreshold)
	assert.Equal(t, 0.0, d.MinDiff)
	assert.Equal(t, 0, d.Delay)
}

func clock(minute int) string {
	h, m := minute/60, minute%60
	return string([]byte{
		byte('0' + h/10), byte('0' + h%10), ':',
		byte('0' + m/10), byte('0' + m%10), ':', '0', '0',
	})
}
