// Package chunker splits arbitrary date ranges into API-compliant
// sub-ranges bounded by each api_type's maximum request window.
package chunker

import (
	"errors"
	"fmt"
	"time"

	"github.com/sellerpulse/marketfetch/pkg/profile"
)

// ErrInvalidRange is returned when the range start is after its end.
var ErrInvalidRange = errors.New("invalid date range: from is after to")

// DateFormat is the ISO calendar date layout used on the wire.
const DateFormat = "2006-01-02"

// DateRange is an inclusive calendar date interval. Both bounds are
// normalized to UTC midnight.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange normalizes the bounds and validates ordering.
func NewDateRange(from, to time.Time) (DateRange, error) {
	from, to = Day(from), Day(to)
	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from.Format(DateFormat), to.Format(DateFormat))
	}
	return DateRange{From: from, To: to}, nil
}

// ParseDateRange builds a DateRange from two ISO calendar date strings.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(DateFormat, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse from date: %w", err)
	}
	t, err := time.Parse(DateFormat, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse to date: %w", err)
	}
	return NewDateRange(f, t)
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Days returns the inclusive length of the range in calendar days.
func (r DateRange) Days() int {
	return int(r.To.Sub(r.From)/(24*time.Hour)) + 1
}

// String renders the range as "from..to" in ISO dates.
func (r DateRange) String() string {
	return r.From.Format(DateFormat) + ".." + r.To.Format(DateFormat)
}

// Split divides the range into ordered, contiguous, non-overlapping
// sub-ranges each at most windowDays long. Every sub-range except possibly
// the last is exactly windowDays long; their union equals the input range.
// The result is deterministic for identical inputs.
func Split(r DateRange, windowDays int) []DateRange {
	if windowDays < 1 {
		windowDays = 1
	}
	if r.Days() <= windowDays {
		return []DateRange{r}
	}

	var chunks []DateRange
	cur := r.From
	for !cur.After(r.To) {
		end := cur.AddDate(0, 0, windowDays-1)
		if end.After(r.To) {
			end = r.To
		}
		chunks = append(chunks, DateRange{From: cur, To: end})
		cur = end.AddDate(0, 0, 1)
	}
	return chunks
}

// Chunker resolves api_type window limits through a profile registry.
type Chunker struct {
	profiles *profile.Registry
}

// New creates a chunker backed by the given profile registry.
func New(profiles *profile.Registry) *Chunker {
	return &Chunker{profiles: profiles}
}

// Chunk splits [from, to] into sub-ranges compliant with apiType's maximum
// request window. Returns ErrInvalidRange when from is after to.
func (c *Chunker) Chunk(from, to time.Time, apiType string) ([]DateRange, error) {
	r, err := NewDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return Split(r, c.profiles.Lookup(apiType).MaxWindowDays), nil
}
