// Package timeref parses the time reference grammar accepted by the query
// tools: RFC3339 timestamps, "now", "today", "yesterday", "since <time>",
// and relative durations such as "5m" or "2h".
package timeref

import (
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

// DefaultLookback is the window applied when a query supplies no start time.
const DefaultLookback = 30 * time.Minute

// DefaultWindow returns the default query window ending at end.
func DefaultWindow(end time.Time) (time.Time, time.Time) {
	return end.Add(-DefaultLookback), end
}

// ParseDuration parses a relative duration of the form <N><unit> with
// unit one of ms, s, m, h, d. N must be a positive integer.
func ParseDuration(input string) (time.Duration, error) {
	value, unit, err := splitValueAndUnit(input)
	if err != nil {
		return 0, err
	}

	amount, err := parseInt(value)
	if err != nil {
		return 0, errors.Errorf("invalid duration value: %s", value)
	}
	if amount <= 0 {
		return 0, errors.New("duration must be greater than zero")
	}

	switch strings.ToLower(unit) {
	case "ms":
		return time.Duration(amount) * time.Millisecond, nil
	case "s":
		return time.Duration(amount) * time.Second, nil
	case "m":
		return time.Duration(amount) * time.Minute, nil
	case "h":
		return time.Duration(amount) * time.Hour, nil
	case "d":
		return time.Duration(amount) * 24 * time.Hour, nil
	default:
		return 0, errors.Errorf("unsupported duration unit: %s", unit)
	}
}

// ParseReference resolves a single time reference against the given zone.
// Relative references are anchored at now.
func ParseReference(input string, loc *time.Location, now time.Time) (time.Time, error) {
	normalized := strings.TrimSpace(input)
	if normalized == "" {
		return time.Time{}, errors.New("time reference must not be empty")
	}

	if parsed, err := time.Parse(time.RFC3339, normalized); err == nil {
		return parsed.UTC(), nil
	}

	lowercase := strings.ToLower(normalized)

	switch lowercase {
	case "now":
		return now, nil
	case "today":
		return startOfDay(now, loc, 0)
	case "yesterday":
		return startOfDay(now, loc, -1)
	}

	if rest, ok := strings.CutPrefix(lowercase, "since "); ok {
		hour, minute, err := parseTimeOfDay(rest)
		if err != nil {
			return time.Time{}, err
		}

		local := now.In(loc)
		parsed, err := localTime(loc, local.Year(), local.Month(), local.Day(), hour, minute)
		if err != nil {
			return time.Time{}, err
		}
		if parsed.After(now) {
			// A bare time of day that has not happened yet today refers to
			// the previous day.
			parsed, err = localTime(loc, local.Year(), local.Month(), local.Day()-1, hour, minute)
			if err != nil {
				return time.Time{}, err
			}
		}

		return parsed, nil
	}

	duration, err := ParseDuration(lowercase)
	if err != nil {
		return time.Time{}, err
	}

	return now.Add(-duration), nil
}

// ResolveRange resolves optional start and end references into a concrete
// window. An empty end defaults to now, an empty start to end minus the
// default lookback. The start reference is anchored at the resolved end.
func ResolveRange(start, end string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	endTime := now
	if end != "" {
		parsed, err := ParseReference(end, loc, now)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		endTime = parsed
	}

	var startTime time.Time
	if start != "" {
		parsed, err := ParseReference(start, loc, endTime)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		startTime = parsed
	} else {
		startTime, _ = DefaultWindow(endTime)
	}

	if startTime.After(endTime) {
		return time.Time{}, time.Time{}, errors.New("start time must be less than or equal to end time")
	}

	return startTime, endTime, nil
}

// ResolveOptionalRange parses bounds for discovery calls, which pass absent
// bounds through to the backend. Zero times mean absent.
func ResolveOptionalRange(start, end string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	var startTime, endTime time.Time

	if end != "" {
		parsed, err := ParseReference(end, loc, now)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		endTime = parsed
	}

	anchor := now
	if !endTime.IsZero() {
		anchor = endTime
	}

	if start != "" {
		parsed, err := ParseReference(start, loc, anchor)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		startTime = parsed
	}

	if !startTime.IsZero() && !endTime.IsZero() && startTime.After(endTime) {
		return time.Time{}, time.Time{}, errors.New("start time must be less than or equal to end time")
	}

	return startTime, endTime, nil
}

func startOfDay(now time.Time, loc *time.Location, dayOffset int) (time.Time, error) {
	local := now.In(loc)
	return localTime(loc, local.Year(), local.Month(), local.Day()+dayOffset, 0, 0)
}

// localTime builds a wall-clock instant in loc and converts it to UTC.
// time.Date resolves ambiguous DST times to the earlier instant; times that
// do not exist are normalized forward, which we detect and reject.
func localTime(loc *time.Location, year int, month time.Month, day, hour, minute int) (time.Time, error) {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, errors.New("time does not exist in timezone due to DST transition")
	}

	return t.UTC(), nil
}

func parseTimeOfDay(input string) (hour, minute int, err error) {
	compact := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(input), " ", ""))
	invalid := errors.Errorf("unsupported time-of-day format: %s", input)

	if meridiem, ok := trimMeridiem(compact); ok {
		timePart := compact[:len(compact)-2]
		hourText, minuteText := timePart, "0"
		if h, m, found := strings.Cut(timePart, ":"); found {
			hourText, minuteText = h, m
		}

		hour12, err := parseInt(hourText)
		if err != nil {
			return 0, 0, invalid
		}
		minute64, err := parseInt(minuteText)
		if err != nil {
			return 0, 0, invalid
		}
		if hour12 < 1 || hour12 > 12 || minute64 > 59 {
			return 0, 0, invalid
		}

		hour = int(hour12 % 12)
		if meridiem == "pm" {
			hour += 12
		}

		return hour, int(minute64), nil
	}

	hourText, minuteText := compact, "0"
	if h, m, found := strings.Cut(compact, ":"); found {
		hourText, minuteText = h, m
	}

	hour64, err := parseInt(hourText)
	if err != nil {
		return 0, 0, invalid
	}
	minute64, err := parseInt(minuteText)
	if err != nil {
		return 0, 0, invalid
	}
	if hour64 > 23 || minute64 > 59 {
		return 0, 0, invalid
	}

	return int(hour64), int(minute64), nil
}

func trimMeridiem(s string) (string, bool) {
	if strings.HasSuffix(s, "am") {
		return "am", true
	}
	if strings.HasSuffix(s, "pm") {
		return "pm", true
	}
	return "", false
}

func splitValueAndUnit(input string) (string, string, error) {
	var compact strings.Builder
	for _, r := range input {
		if !unicode.IsSpace(r) {
			compact.WriteRune(r)
		}
	}

	s := compact.String()
	if s == "" {
		return "", "", errors.New("duration must not be empty")
	}

	split := -1
	for i, r := range s {
		if r < '0' || r > '9' {
			split = i
			break
		}
	}
	if split < 0 {
		return "", "", errors.New("duration must include a unit suffix")
	}

	value, unit := s[:split], s[split:]
	if value == "" || unit == "" {
		return "", "", errors.New("duration must include a numeric value and a unit suffix")
	}

	return value, unit, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty number")
	}

	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.Errorf("invalid number: %s", s)
		}
		n = n*10 + int64(r-'0')
		if n < 0 {
			return 0, errors.New("number is too large")
		}
	}

	return n, nil
}
