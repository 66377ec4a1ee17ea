package api

import (
	"fmt"
	"net/http"

	"github.com/ufcsu/clubportal/calendar"
	"github.com/ufcsu/clubportal/clubs"
)

// =============================================================================
// CALENDAR DOWNLOADS
// =============================================================================

// ClubCalendar serves the club's upcoming events as an .ics attachment.
func (h *Handler) ClubCalendar(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	export, err := h.Clubs.ClubCalendar(r.Context(), clubID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Metrics.calendarExported("club")
	writeCalendar(w, export)
}

// EventCalendar serves a single event, with its weekly rule when recurring.
func (h *Handler) EventCalendar(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	eventID, ok := idParam(w, r, "eventID")
	if !ok {
		return
	}
	export, err := h.Clubs.EventCalendar(r.Context(), clubID, eventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Metrics.calendarExported("event")
	writeCalendar(w, export)
}

func writeCalendar(w http.ResponseWriter, export clubs.CalendarExport) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", calendar.Filename(export.Club, export.Event)))
	w.WriteHeader(http.StatusOK)
	w.Write(export.Data)
}
