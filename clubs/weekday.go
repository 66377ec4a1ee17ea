/*
weekday.go - Calendar primitives for recurring events

PURPOSE:
  Recurring templates are described in calendar terms (a date range, a day of
  the week, a time of day) while occurrences are stored as concrete instants.
  This file holds the small value types that bridge the two.

WEEKDAY NUMBERING:
  Weekday is the ONLY day-of-week representation used by this package:
  Monday=0 ... Sunday=6. Generation, staleness filtering and ICS export all
  compare Weekday values. time.Weekday (Sunday=0) is converted exactly once,
  in WeekdayOf.

SEE ALSO:
  - sync.go: Uses Date arithmetic to generate occurrences
  - calendar/export.go: Uses Weekday.ICal for BYDAY
*/
package clubs

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// WEEKDAY - Monday-first day of week
// =============================================================================

type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
var weekdayICal = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// WeekdayOf returns the Monday-first weekday of t in t's location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// ParseWeekday accepts a full english day name ("monday") or its ICS code ("MO").
func ParseWeekday(s string) (Weekday, error) {
	s = strings.TrimSpace(s)
	for i := range weekdayNames {
		if strings.EqualFold(s, weekdayNames[i]) || strings.EqualFold(s, weekdayICal[i]) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

// ICal returns the RFC 5545 BYDAY code.
func (w Weekday) ICal() string {
	if !w.Valid() {
		return ""
	}
	return weekdayICal[w]
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// =============================================================================
// DATE - Calendar day without a time component
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day. The zero value is not a valid date.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) utc() time.Time { return d.In(time.UTC) }
func (d Date) AddDays(n int) Date { return DateOf(d.utc().AddDate(0, 0, n)) }
func (d Date) Weekday() Weekday { return WeekdayOf(d.utc()) }
func (d Date) Before(other Date) bool { return d.utc().Before(other.utc()) }
func (d Date) After(other Date) bool { return d.utc().After(other.utc()) }
func (d Date) String() string { return d.utc().Format(DateLayout) }

// DaysUntil returns the number of days from d to other (negative if other is earlier).
func (d Date) DaysUntil(other Date) int {
	return int(other.utc().Sub(d.utc()).Hours() / 24)
}

// WeekStart returns the Monday of the week containing d.
func (d Date) WeekStart() Date {
	return d.AddDays(-int(d.Weekday()))
}

// =============================================================================
// CLOCK - Time of day
// =============================================================================

const ClockLayout = "15:04:05"

type Clock struct {
	Hour   int
	Minute int
	Second int
}

func NewClock(hour, minute int) Clock { return Clock{Hour: hour, Minute: minute} }

// ParseClock accepts "15:04" or "15:04:05".
func ParseClock(s string) (Clock, error) {
	layout := ClockLayout
	if strings.Count(s, ":") == 1 {
		layout = "15:04"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Clock{}, err
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

func (c Clock) seconds() int { return c.Hour*3600 + c.Minute*60 + c.Second }
func (c Clock) Before(o Clock) bool { return c.seconds() < o.seconds() }
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second) }

// On combines the date and clock into an instant in loc.
func (c Clock) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, c.Second, 0, loc)
}
