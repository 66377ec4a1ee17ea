package calendar

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	_ "time/tzdata"
)

const localLayout = "20060102T150405"

// maxTransitions bounds the VTIMEZONE size for very long ranges.
const maxTransitions = 256

// vtimezone describes loc between from and to as explicit STANDARD/DAYLIGHT
// observances taken from the Go tz database. Zones without transitions in
// that span get a single STANDARD observance.
func vtimezone(loc *time.Location, from, to time.Time) *ics.VTimezone {
	tz := ics.NewTimezone(loc.String())

	t := from.In(loc)
	start, end := t.ZoneBounds()
	if start.IsZero() {
		_, offset := t.Zone()
		addObservance(tz, t, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), offset)
	} else {
		addTransition(tz, start.In(loc))
	}

	for i := 0; i < maxTransitions && !end.IsZero() && !end.After(to); i++ {
		next := end.In(loc)
		addTransition(tz, next)
		_, end = next.ZoneBounds()
	}
	return tz
}

// addTransition adds the observance that begins at instant t.
func addTransition(tz *ics.VTimezone, t time.Time) {
	_, prevOffset := t.Add(-time.Second).Zone()
	// DTSTART is the local time of the transition in the offset being left.
	local := t.UTC().Add(time.Duration(prevOffset) * time.Second)
	addObservance(tz, t, local, prevOffset)
}

func addObservance(tz *ics.VTimezone, t, localStart time.Time, offsetFrom int) {
	name, offsetTo := t.Zone()

	var c *ics.ComponentBase
	if t.IsDST() {
		d := &ics.Daylight{}
		tz.Components = append(tz.Components, d)
		c = &d.ComponentBase
	} else {
		c = &tz.AddStandard().ComponentBase
	}
	c.SetProperty(ics.ComponentPropertyDtStart, localStart.Format(localLayout))
	c.SetProperty(ics.ComponentProperty(ics.PropertyTzoffsetfrom), formatOffset(offsetFrom))
	c.SetProperty(ics.ComponentProperty(ics.PropertyTzoffsetto), formatOffset(offsetTo))
	c.SetProperty(ics.ComponentProperty(ics.PropertyTzname), name)
}

// formatOffset renders seconds east of UTC as RFC 5545 UTC-OFFSET (+HHMM).
func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	h, m := seconds/3600, (seconds%3600)/60
	if s := seconds % 60; s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
