// Package features derives temporal signals from raw flight timestamps.
//
// Every extractor fails open: a malformed or missing value yields a documented default
// and a warning log entry, never an error. A single bad row must not abort a batch.
package features

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"flightdelay/flight"
	"flightdelay/logging"
)

// DefaultDelayThreshold is the minute difference above which a flight counts as delayed.
const DefaultDelayThreshold = 15.0

// Period is a time-of-day bucket.
type Period string

const (
	Morning   Period = "morning"
	Afternoon Period = "afternoon"
	Night     Period = "night"
	Unknown   Period = "unknown"
	Error     Period = "error"
)

// Derived holds the temporal signals computed for one training row.
type Derived struct {
	PeriodOfDay Period  `json:"period_day"`
	HighSeason  int     `json:"high_season"`
	MinDiff     float64 `json:"min_diff"`
	Delay       int     `json:"delay"`
}

type window struct {
	fromMonth time.Month
	fromDay   int
	toMonth   time.Month
	toDay     int
}

// highSeason windows are inclusive calendar-day ranges within the timestamp's own year.
var highSeason = []window{
	{time.December, 15, time.December, 31},
	{time.January, 1, time.March, 3},
	{time.July, 15, time.July, 31},
	{time.September, 11, time.September, 30},
}

func logger() *zap.Logger {
	return logging.Named("features")
}

func parse(ts string) (time.Time, error) {
	return time.Parse(flight.TimestampLayout, strings.TrimSpace(ts))
}

// PeriodOfDay buckets the time of day of ts at minute resolution.
func PeriodOfDay(ts string) Period {
	t, err := parse(ts)
	if err != nil {
		logger().Warn("period of day: unparseable timestamp", zap.String("value", ts), zap.Error(err))
		return Error
	}
	minute := t.Hour()*60 + t.Minute()
	switch {
	case minute >= 5*60 && minute <= 11*60+59:
		return Morning
	case minute >= 12*60 && minute <= 18*60+59:
		return Afternoon
	case minute >= 19*60 && minute <= 23*60+59, minute >= 0 && minute <= 4*60+59:
		return Night
	}
	return Unknown
}

// IsHighSeason returns 1 when the date of ts falls in a high-season window, else 0.
func IsHighSeason(ts string) int {
	t, err := parse(ts)
	if err != nil {
		logger().Warn("high season: unparseable timestamp", zap.String("value", ts), zap.Error(err))
		return 0
	}
	year := t.Year()
	day := time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for _, w := range highSeason {
		from := time.Date(year, w.fromMonth, w.fromDay, 0, 0, 0, 0, time.UTC)
		to := time.Date(year, w.toMonth, w.toDay, 0, 0, 0, 0, time.UTC)
		if !day.Before(from) && !day.After(to) {
			return 1
		}
	}
	return 0
}

// MinutesDifference returns actual minus scheduled in minutes, or 0 when either side
// is missing or malformed.
func MinutesDifference(scheduled, actual string) float64 {
	if strings.TrimSpace(scheduled) == "" || strings.TrimSpace(actual) == "" {
		logger().Warn("min diff: missing timestamp",
			zap.String("scheduled", scheduled), zap.String("actual", actual))
		return 0
	}
	s, err := parse(scheduled)
	if err != nil {
		logger().Warn("min diff: unparseable scheduled time", zap.String("value", scheduled), zap.Error(err))
		return 0
	}
	a, err := parse(actual)
	if err != nil {
		logger().Warn("min diff: unparseable actual time", zap.String("value", actual), zap.Error(err))
		return 0
	}
	return a.Sub(s).Minutes()
}

// DelayLabel returns 1 iff minDiff is strictly greater than threshold. NaN yields 0.
func DelayLabel(minDiff, threshold float64) int {
	if math.IsNaN(minDiff) || math.IsNaN(threshold) {
		logger().Warn("delay: non-numeric input", zap.Float64("min_diff", minDiff), zap.Float64("threshold", threshold))
		return 0
	}
	if minDiff > threshold {
		return 1
	}
	return 0
}

// Derive computes all temporal signals for a training row.
func Derive(rec flight.TrainingRecord, threshold float64) Derived {
	diff := MinutesDifference(rec.Scheduled, rec.Actual)
	return Derived{
		PeriodOfDay: PeriodOfDay(rec.Scheduled),
		HighSeason:  IsHighSeason(rec.Scheduled),
		MinDiff:     diff,
		Delay:       DelayLabel(diff, threshold),
	}
}
