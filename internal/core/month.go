package core

import (
	"fmt"
	"time"
)

const monthLayout = "2006-01"

// Month is a calendar month "YYYY-MM". String order is chronological.
type Month string

// ParseMonth validates s and returns it as a Month.
func ParseMonth(s string) (Month, error) {
	m := Month(s)
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// MonthOf returns the month of a YYYY-MM-DD date. Short input yields "".
func MonthOf(date string) Month {
	if len(date) < 7 {
		return ""
	}
	return Month(date[:7])
}

// MonthFromTime returns the month containing t.
func MonthFromTime(t time.Time) Month {
	return Month(t.Format(monthLayout))
}

func (m Month) Validate() error {
	if len(m) != 7 {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, string(m))
	}
	if _, err := time.Parse(monthLayout, string(m)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, string(m))
	}
	return nil
}

func (m Month) time() time.Time {
	t, _ := time.Parse(monthLayout, string(m))
	return t
}

// Next returns the following month.
func (m Month) Next() Month {
	return MonthFromTime(m.time().AddDate(0, 1, 0))
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	return MonthFromTime(m.time().AddDate(0, -1, 0))
}

// FirstDay returns the YYYY-MM-01 date of the month.
func (m Month) FirstDay() string {
	return string(m) + "-01"
}

func (m Month) String() string { return string(m) }
