package query

import (
	"fmt"
	"time"
)

// RangeLayout is the layout used when writing date-range bounds.
const RangeLayout = "2006-01-02T15:04:05Z"

var rangeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseRangeTime parses a startRange/endRange value. Values without a zone
// are read as UTC.
func ParseRangeTime(v string) (time.Time, error) {
	for _, layout := range rangeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", ErrInvalidDateRange, v)
}

// FormatRangeTime formats t the way rolled windows are written.
func FormatRangeTime(t time.Time) string {
	return t.UTC().Format(RangeLayout)
}

// CheckDateRange verifies startRange <= endRange. Specs with at most one
// bound are accepted; the API applies its own default for the other.
func (s Spec) CheckDateRange() error {
	start, end := s.StartRange(), s.EndRange()
	if start == "" || end == "" {
		return nil
	}

	startT, err := ParseRangeTime(start)
	if err != nil {
		return err
	}
	endT, err := ParseRangeTime(end)
	if err != nil {
		return err
	}

	if startT.After(endT) {
		return fmt.Errorf("%w: endRange %s < startRange %s", ErrInvalidDateRange, end, start)
	}
	return nil
}
