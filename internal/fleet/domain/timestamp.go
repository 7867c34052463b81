package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// epochSecondsCutoff separates epoch seconds from epoch milliseconds. Values
// below it are read as seconds.
const epochSecondsCutoff = 1e11

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp decodes either epoch milliseconds or an ISO-8601 string.
// Unparseable or null values decode to the zero time.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.Time, _ = ParseTimestamp(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = FromEpoch(n)
	return nil
}

// MarshalJSON encodes RFC3339 or null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// ParseTimestamp parses an ISO string or a numeric epoch string.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		ts := FromEpoch(n)
		return ts, !ts.IsZero()
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// FromEpoch converts epoch milliseconds (or seconds, below the cutoff) to UTC.
func FromEpoch(n float64) time.Time {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}
	}
	if n < epochSecondsCutoff {
		return time.UnixMilli(int64(n * 1000)).UTC()
	}
	return time.UnixMilli(int64(n)).UTC()
}

// DateKey formats a day as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// NormalizeDate accepts a date, datetime or epoch string and returns its
// YYYY-MM-DD key.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if len(value) == 10 {
		if _, err := time.Parse("2006-01-02", value); err == nil {
			return value, true
		}
	}
	ts, ok := ParseTimestamp(value)
	if !ok {
		return "", false
	}
	return DateKey(ts), true
}
