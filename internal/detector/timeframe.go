package detector

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the lookback interval used to pick a historical reference.
type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

// Timeframes returns all evaluation timeframes in ascending lookback order.
func Timeframes() []Timeframe {
	return []Timeframe{TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeYear}
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(v string) (Timeframe, error) {
	switch Timeframe(strings.ToLower(v)) {
	case TimeframeDay:
		return TimeframeDay, nil
	case TimeframeWeek:
		return TimeframeWeek, nil
	case TimeframeMonth:
		return TimeframeMonth, nil
	case TimeframeYear:
		return TimeframeYear, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", v)
}

// Shift returns t minus the timeframe's interval. Month and year use
// calendar arithmetic, not fixed durations.
func (tf Timeframe) Shift(t time.Time) time.Time {
	switch tf {
	case TimeframeDay:
		return t.AddDate(0, 0, -1)
	case TimeframeWeek:
		return t.AddDate(0, 0, -7)
	case TimeframeMonth:
		return t.AddDate(0, -1, 0)
	case TimeframeYear:
		return t.AddDate(-1, 0, 0)
	}
	return t
}
