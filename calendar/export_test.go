package calendar

import (
	"bytes"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"github.com/ufcsu/clubportal/clubs"
)

func newTestExporter(t *testing.T, now time.Time) *Exporter {
	t.Helper()
	e, err := NewExporter("", nil)
	require.NoError(t, err)
	e.Now = func() time.Time { return now }
	return e
}

func parse(t *testing.T, data []byte) *ics.Calendar {
	t.Helper()
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	require.NoError(t, err)
	return cal
}

func calendarProp(cal *ics.Calendar, name ics.Property) string {
	for _, p := range cal.CalendarProperties {
		if p.IANAToken == string(name) {
			return p.Value
		}
	}
	return ""
}

func propValue(ev *ics.VEvent, p ics.ComponentProperty) string {
	if prop := ev.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

var chess = clubs.Club{ID: 1, Name: "Chess Club"}

func TestEventCalendar_SingleEvent(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newTestExporter(t, now)

	ev := clubs.Event{
		ID:          7,
		UUID:        "3f1c9a52-6f0e-4a57-9d1e-2b9b3a0b8c11",
		ClubID:      chess.ID,
		Name:        "Open Night",
		StartAt:     time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC),
		EndAt:       time.Date(2024, 1, 11, 1, 0, 0, 0, time.UTC),
		Location:    "Room 101",
		Description: "Bring a board",
	}

	data, err := e.EventCalendar(chess, ev, nil)
	require.NoError(t, err)
	cal := parse(t, data)

	assert.Equal(t, DefaultProductID, calendarProp(cal, ics.PropertyProductId))
	assert.Equal(t, "2.0", calendarProp(cal, ics.PropertyVersion))
	assert.Equal(t, "Open Night | Chess Club", calendarProp(cal, ics.PropertyXWRCalName))
	assert.Equal(t, "Bring a board", calendarProp(cal, ics.PropertyXWRCalDesc))
	assert.Equal(t, "PT1H", calendarProp(cal, ics.PropertyXPublishedTTL))

	events := cal.Events()
	require.Len(t, events, 1)
	vev := events[0]
	assert.Equal(t, ev.UUID, vev.Id())
	assert.Equal(t, "Open Night | Chess Club", propValue(vev, ics.ComponentPropertySummary))
	assert.Equal(t, "Room 101", propValue(vev, ics.ComponentPropertyLocation))
	assert.Equal(t, "Bring a board", propValue(vev, ics.ComponentPropertyDescription))
	assert.Nil(t, vev.GetProperty(ics.ComponentPropertyRrule))

	start, err := vev.GetStartAt()
	require.NoError(t, err)
	end, err := vev.GetEndAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(ev.StartAt), "start %s", start)
	assert.True(t, end.Equal(ev.EndAt), "end %s", end)

	dtstart := vev.GetProperty(ics.ComponentPropertyDtStart)
	assert.Equal(t, "20240110T180000", dtstart.Value)
	assert.Equal(t, []string{"America/New_York"}, dtstart.ICalParameters[string(ics.ParameterTzid)])

	tzs := cal.Timezones()
	require.Len(t, tzs, 1)
	assert.Equal(t, "America/New_York", tzs[0].GetProperty(ics.ComponentPropertyTzid).Value)
}

func TestEventCalendar_RecurringEvent(t *testing.T) {
	e := newTestExporter(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC))

	recID := int64(3)
	rec := clubs.RecurringEvent{
		ID:             recID,
		ClubID:         chess.ID,
		Name:           "Weekly Meeting",
		StartDate:      clubs.NewDate(2024, time.January, 1),
		EndDate:        clubs.NewDate(2024, time.January, 29),
		Day:            clubs.Monday,
		EventStartTime: clubs.NewClock(18, 0),
		EventEndTime:   clubs.NewClock(20, 0),
	}
	ev := rec.Occurrences(e.Location)[0]
	ev.ID = 11

	data, err := e.EventCalendar(chess, ev, &rec)
	require.NoError(t, err)

	events := parse(t, data).Events()
	require.Len(t, events, 1)
	rule := propValue(events[0], ics.ComponentPropertyRrule)
	assert.Contains(t, rule, "FREQ=WEEKLY")
	assert.Contains(t, rule, "INTERVAL=1")
	assert.Contains(t, rule, "BYDAY=MO")
	// Midnight 2024-01-29 in New York is 05:00 UTC.
	assert.Contains(t, rule, "UNTIL=20240129T050000Z")

	opt, err := rrule.StrToROption(rule)
	require.NoError(t, err)
	opt.Dtstart = ev.StartAt
	r, err := rrule.NewRRule(*opt)
	require.NoError(t, err)

	until := rec.EndDate.In(e.Location)
	all := r.All()
	require.NotEmpty(t, all)
	assert.True(t, all[0].Equal(ev.StartAt))
	for _, occ := range all {
		assert.Equal(t, clubs.Monday, clubs.WeekdayOf(occ.In(e.Location)))
		assert.False(t, occ.After(until))
	}
}

func TestEventCalendar_ClubMismatch(t *testing.T) {
	e := newTestExporter(t, time.Now())

	ev := clubs.Event{ID: 1, ClubID: 99, Name: "Elsewhere"}
	_, err := e.EventCalendar(chess, ev, nil)
	require.ErrorIs(t, err, clubs.ErrClubMismatch)
	assert.True(t, clubs.IsClientError(err))

	own := clubs.Event{ID: 2, ClubID: chess.ID, Name: "Ours"}
	other := clubs.RecurringEvent{ID: 5, ClubID: 99, Name: "Theirs"}
	_, err = e.EventCalendar(chess, own, &other)
	require.ErrorIs(t, err, clubs.ErrClubMismatch)
}

func TestClubCalendar_FutureEventsOnly(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestExporter(t, now)

	at := func(day int) time.Time { return time.Date(2024, 3, day, 20, 0, 0, 0, time.UTC) }
	events := []clubs.Event{
		{ID: 1, UUID: "later", ClubID: chess.ID, Name: "Later", StartAt: at(20), EndAt: at(20).Add(time.Hour)},
		{ID: 2, UUID: "past", ClubID: chess.ID, Name: "Past", StartAt: at(1).Add(-48 * time.Hour), EndAt: at(1).Add(-47 * time.Hour)},
		{ID: 3, UUID: "sooner", ClubID: chess.ID, Name: "Sooner", StartAt: at(5), EndAt: at(5).Add(time.Hour)},
		{ID: 4, UUID: "other", ClubID: 2, Name: "Other club", StartAt: at(6), EndAt: at(6).Add(time.Hour)},
		{ID: 5, UUID: "exact", ClubID: chess.ID, Name: "Starts now", StartAt: now, EndAt: now.Add(time.Hour)},
	}

	data, err := e.ClubCalendar(chess, events)
	require.NoError(t, err)
	cal := parse(t, data)

	assert.Equal(t, "Chess Club", calendarProp(cal, ics.PropertyXWRCalName))
	assert.Equal(t, "Calendar for Chess Club", calendarProp(cal, ics.PropertyXWRCalDesc))

	var uids []string
	for _, ev := range cal.Events() {
		uids = append(uids, ev.Id())
	}
	assert.Equal(t, []string{"sooner", "later"}, uids)
}

func TestClubCalendar_Empty(t *testing.T) {
	e := newTestExporter(t, time.Now())

	data, err := e.ClubCalendar(chess, nil)
	require.NoError(t, err)
	cal := parse(t, data)
	assert.Empty(t, cal.Events())
	assert.Len(t, cal.Timezones(), 1)
}

func TestFilename(t *testing.T) {
	club := clubs.Club{Name: "Chess  Club"}
	ev := clubs.Event{Name: "Weekly \t Meeting"}

	assert.Equal(t, "Chess_Club_Weekly_Meeting.ics", Filename(club, &ev))
	assert.Equal(t, "Chess_Club.ics", Filename(club, nil))
}

func TestVTimezone_Transitions(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tz := vtimezone(ny, time.Date(2024, 1, 1, 0, 0, 0, 0, ny), time.Date(2025, 1, 1, 0, 0, 0, 0, ny))

	var daylight, standard []*ics.ComponentBase
	for _, c := range tz.Components {
		switch v := c.(type) {
		case *ics.Daylight:
			daylight = append(daylight, &v.ComponentBase)
		case *ics.Standard:
			standard = append(standard, &v.ComponentBase)
		}
	}
	require.Len(t, daylight, 1)
	require.NotEmpty(t, standard)

	d := daylight[0]
	assert.Equal(t, "20240310T020000", d.GetProperty(ics.ComponentPropertyDtStart).Value)
	assert.Equal(t, "-0500", d.GetProperty(ics.ComponentProperty(ics.PropertyTzoffsetfrom)).Value)
	assert.Equal(t, "-0400", d.GetProperty(ics.ComponentProperty(ics.PropertyTzoffsetto)).Value)
	assert.Equal(t, "EDT", d.GetProperty(ics.ComponentProperty(ics.PropertyTzname)).Value)

	last := standard[len(standard)-1]
	assert.Equal(t, "20241103T020000", last.GetProperty(ics.ComponentPropertyDtStart).Value)
	assert.Equal(t, "-0400", last.GetProperty(ics.ComponentProperty(ics.PropertyTzoffsetfrom)).Value)
	assert.Equal(t, "-0500", last.GetProperty(ics.ComponentProperty(ics.PropertyTzoffsetto)).Value)
}

func TestVTimezone_FixedZone(t *testing.T) {
	tz := vtimezone(time.UTC, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, tz.Components, 1)
	std, ok := tz.Components[0].(*ics.Standard)
	require.True(t, ok)
	assert.Equal(t, "+0000", std.GetProperty(ics.ComponentProperty(ics.PropertyTzoffsetto)).Value)
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "-0500", formatOffset(-5*3600))
	assert.Equal(t, "+0530", formatOffset(5*3600+30*60))
	assert.Equal(t, "+0000", formatOffset(0))
}
