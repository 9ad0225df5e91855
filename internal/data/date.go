// internal/data/date.go
// Date is a calendar day without a time-of-day component. Issue, due, and
// return dates on lendings are plain dates, so they marshal as "2006-01-02"
// rather than a full RFC 3339 timestamp.
package data

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidDateFormat is returned when a JSON value cannot be parsed as a
// "YYYY-MM-DD" date.
var ErrInvalidDateFormat = errors.New("invalid date format, expected YYYY-MM-DD")

const dateLayout = "2006-01-02"

// Date wraps time.Time with date-only JSON and SQL representations.
type Date struct {
	time.Time
}

// NewDate truncates t to midnight UTC.
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar day (caller's clock, UTC midnight).
func Today() Date {
	return NewDate(time.Now().UTC())
}

// Before reports whether d falls on an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// MarshalJSON renders the date as a quoted "YYYY-MM-DD" string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.Format(dateLayout))), nil
}

// UnmarshalJSON parses a quoted "YYYY-MM-DD" string, returning
// ErrInvalidDateFormat on any other shape.
func (d *Date) UnmarshalJSON(data []byte) error {
	unquoted, err := strconv.Unquote(string(data))
	if err != nil {
		return ErrInvalidDateFormat
	}
	t, err := time.Parse(dateLayout, unquoted)
	if err != nil {
		return ErrInvalidDateFormat
	}
	d.Time = t
	return nil
}

// Value implements driver.Valuer so a Date can be passed as a query argument.
func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v)
		return nil
	case nil:
		*d = Date{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}
