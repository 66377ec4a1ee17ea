/*
Package calendar renders club events as iCalendar (RFC 5545) documents.

PURPOSE:
  Downloadable .ics files for one event (with its weekly rule when it was
  generated from a template) and for a club's upcoming events.

DOCUMENT:
  PRODID, VERSION:2.0, X-WR-CALNAME, X-WR-CALDESC, X-PUBLISHED-TTL:PT1H,
  one VTIMEZONE for the reference location, then the VEVENTs.

EVENTS:
  SUMMARY is "{event} | {club}". DTSTART/DTEND are wall-clock times in the
  reference location with a TZID parameter. A templated event carries
  RRULE:FREQ=WEEKLY;INTERVAL=1;BYDAY=<day> and, when the template has an end
  date, UNTIL = that date at midnight in the reference location (as UTC).

SEE ALSO:
  - clubs/service.go: EventCalendar / ClubCalendar load the records
  - api/calendar.go: HTTP download handlers
*/
package calendar

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/ufcsu/clubportal/clubs"
)

const (
	DefaultProductID = "-//Club Portal//Clubs//EN"
	DefaultTimezone  = "America/New_York"

	// PublishedTTL asks subscribers to refresh hourly.
	PublishedTTL = "PT1H"
)

var rruleWeekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// Exporter renders calendars. The zero value is not usable; use NewExporter.
type Exporter struct {
	ProductID string
	Location  *time.Location
	Now       func() time.Time
}

var _ clubs.CalendarRenderer = (*Exporter)(nil)

// NewExporter returns an exporter. Empty productID and nil loc select the
// defaults.
func NewExporter(productID string, loc *time.Location) (*Exporter, error) {
	if productID == "" {
		productID = DefaultProductID
	}
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("load default timezone: %w", err)
		}
	}
	return &Exporter{ProductID: productID, Location: loc, Now: time.Now}, nil
}

// EventCalendar renders a single event. rec is the template the event was
// generated from, or nil.
func (e *Exporter) EventCalendar(club clubs.Club, ev clubs.Event, rec *clubs.RecurringEvent) ([]byte, error) {
	if ev.ClubID != club.ID {
		return nil, &clubs.MismatchError{Kind: "event", Name: ev.Name, ClubID: club.ID}
	}
	if rec != nil && rec.ClubID != club.ID {
		return nil, &clubs.MismatchError{Kind: "recurring event", Name: rec.Name, ClubID: club.ID}
	}

	summary := eventSummary(club, ev)
	desc := ev.Description
	if desc == "" {
		desc = summary
	}
	cal := e.newCalendar(summary, desc)

	span := newSpan(ev.StartAt, ev.EndAt)
	vev := e.addEvent(cal, club, ev)
	if rec != nil {
		until := time.Time{}
		if !rec.EndDate.IsZero() {
			until = rec.EndDate.In(e.Location)
			span.include(until)
		}
		vev.AddRrule(weeklyRule(rec.Day, until))
	}

	e.addTimezone(cal, span)
	return serialize(cal)
}

// ClubCalendar renders the club's events that start after now, earliest first.
// Events of other clubs are skipped.
func (e *Exporter) ClubCalendar(club clubs.Club, events []clubs.Event) ([]byte, error) {
	cal := e.newCalendar(club.Name, fmt.Sprintf("Calendar for %s", club.Name))

	now := e.now()
	upcoming := make([]clubs.Event, 0, len(events))
	for _, ev := range events {
		if ev.ClubID == club.ID && ev.StartAt.After(now) {
			upcoming = append(upcoming, ev)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].StartAt.Before(upcoming[j].StartAt) })

	span := newSpan(now)
	for _, ev := range upcoming {
		e.addEvent(cal, club, ev)
		span.include(ev.StartAt, ev.EndAt)
	}

	e.addTimezone(cal, span)
	return serialize(cal)
}

// Filename is the download name: "{club}_{event}.ics", or "{club}.ics" for
// a whole-club export. Whitespace runs become a single underscore.
func Filename(club clubs.Club, ev *clubs.Event) string {
	name := club.Name
	if ev != nil {
		name += " " + ev.Name
	}
	return strings.Join(strings.Fields(name), "_") + ".ics"
}

// =============================================================================
// BUILDING BLOCKS
// =============================================================================

func (e *Exporter) newCalendar(name, desc string) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetProductId(e.ProductID)
	cal.SetXWRCalName(name)
	cal.SetXWRCalDesc(desc)
	cal.SetXPublishedTTL(PublishedTTL)
	return cal
}

func (e *Exporter) addEvent(cal *ics.Calendar, club clubs.Club, ev clubs.Event) *ics.VEvent {
	uid := ev.UUID
	if uid == "" {
		uid = fmt.Sprintf("event-%d@clubportal", ev.ID)
	}
	vev := cal.AddEvent(uid)
	vev.SetDtStampTime(e.now())
	vev.SetSummary(eventSummary(club, ev))
	if ev.Description != "" {
		vev.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		vev.SetLocation(ev.Location)
	}
	if !ev.StartAt.IsZero() && !ev.EndAt.IsZero() {
		tzid := ics.WithTZID(e.Location.String())
		vev.SetProperty(ics.ComponentPropertyDtStart, ev.StartAt.In(e.Location).Format(localLayout), tzid)
		vev.SetProperty(ics.ComponentPropertyDtEnd, ev.EndAt.In(e.Location).Format(localLayout), tzid)
	}
	return vev
}

func (e *Exporter) addTimezone(cal *ics.Calendar, s span) {
	from := time.Date(s.min.Year(), time.January, 1, 0, 0, 0, 0, e.Location)
	to := time.Date(s.max.Year()+1, time.January, 1, 0, 0, 0, 0, e.Location)
	cal.AddVTimezone(vtimezone(e.Location, from, to))
}

func (e *Exporter) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func eventSummary(club clubs.Club, ev clubs.Event) string {
	return fmt.Sprintf("%s | %s", ev.Name, club.Name)
}

// weeklyRule builds the RRULE value for a template day. A zero until leaves
// the rule open-ended.
func weeklyRule(day clubs.Weekday, until time.Time) string {
	opt := rrule.ROption{
		Freq:     rrule.WEEKLY,
		Interval: 1,
		Until:    until,
	}
	if day.Valid() {
		opt.Byweekday = []rrule.Weekday{rruleWeekdays[day]}
	}
	return opt.RRuleString()
}

func serialize(cal *ics.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// span tracks the instants a document refers to, for the VTIMEZONE range.
type span struct {
	min, max time.Time
}

func newSpan(ts ...time.Time) span {
	var s span
	s.include(ts...)
	if s.min.IsZero() {
		now := time.Now()
		s.min, s.max = now, now
	}
	return s
}

func (s *span) include(ts ...time.Time) {
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		if s.min.IsZero() || t.Before(s.min) {
			s.min = t
		}
		if s.max.IsZero() || t.After(s.max) {
			s.max = t
		}
	}
}
