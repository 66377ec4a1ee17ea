/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the clubs domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Instants are RFC3339. Template dates are "2006-01-02", clocks "15:04" or
  "15:04:05". Days are Monday-first integers (0 = Monday); requests may also
  send the english name or ICS code as a string.

VALIDATION:
  Parsing happens in the To* methods below; business rules are checked by
  clubs.Service.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ufcsu/clubportal/clubs"
	"github.com/ufcsu/clubportal/users"
)

// =============================================================================
// CLUBS
// =============================================================================

type ClubDTO struct {
	ID          int64  `json:"id"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Alias       string `json:"alias,omitempty"`
	Description string `json:"description,omitempty"`
	JoinLink    string `json:"join_link"`
	CreatedAt   string `json:"created_at"`
}

type ClubRequest struct {
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	Description string `json:"description"`
}

func (r ClubRequest) Params() clubs.ClubParams {
	return clubs.ClubParams{Name: r.Name, Alias: r.Alias, Description: r.Description}
}

type RoleDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

type CreateRoleRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// =============================================================================
// MEMBERS
// =============================================================================

type MemberDTO struct {
	ID      int64           `json:"id"`
	ClubID  int64           `json:"club_id"`
	UserID  int64           `json:"user_id"`
	Roles   []string        `json:"roles"`
	Points  decimal.Decimal `json:"points"`
	IsOwner bool            `json:"is_owner"`
}

type AddMemberRequest struct {
	UserID int64    `json:"user_id"`
	Roles  []string `json:"roles"`
}

// MemberRoleRequest adds a role, or replaces all roles when Replace is set.
type MemberRoleRequest struct {
	Role    string `json:"role"`
	Replace bool   `json:"replace"`
}

// PointsRequest changes a member's points. Operation is "increase" or
// "decrease".
type PointsRequest struct {
	Operation string          `json:"operation"`
	Amount    decimal.Decimal `json:"amount"`
}

type AttendanceDTO struct {
	ID        int64  `json:"id"`
	EventID   int64  `json:"event_id"`
	CreatedAt string `json:"created_at"`
}

type AttendanceRequest struct {
	UserID int64 `json:"user_id"`
}

type InviteRequest struct {
	Emails []string `json:"emails"`
}

type InviteResponse struct {
	Sent int `json:"sent"`
}

// =============================================================================
// EVENTS
// =============================================================================

type EventDTO struct {
	ID               int64  `json:"id"`
	UUID             string `json:"uuid"`
	ClubID           int64  `json:"club_id"`
	Name             string `json:"name"`
	StartAt          string `json:"start_at"`
	EndAt            string `json:"end_at"`
	Location         string `json:"location,omitempty"`
	Description      string `json:"description,omitempty"`
	RecurringEventID *int64 `json:"recurring_event_id,omitempty"`
	CalendarURL      string `json:"calendar_url"`
}

type EventRequest struct {
	Name        string     `json:"name"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
}

func (r EventRequest) Params() clubs.EventParams {
	p := clubs.EventParams{Name: r.Name, Location: r.Location, Description: r.Description}
	if r.StartAt != nil {
		p.StartAt = *r.StartAt
	}
	if r.EndAt != nil {
		p.EndAt = *r.EndAt
	}
	return p
}

type RecurringEventDTO struct {
	ID             int64  `json:"id"`
	ClubID         int64  `json:"club_id"`
	Name           string `json:"name"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Day            int    `json:"day"`
	DayName        string `json:"day_name"`
	EventStartTime string `json:"event_start_time"`
	EventEndTime   string `json:"event_end_time"`
	Location       string `json:"location,omitempty"`
	Description    string `json:"description,omitempty"`
	ExpectedEvents int    `json:"expected_events"`
}

type RecurringEventRequest struct {
	Name           string  `json:"name"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	Day            DayJSON `json:"day"`
	EventStartTime string  `json:"event_start_time"`
	EventEndTime   string  `json:"event_end_time"`
	Location       string  `json:"location"`
	Description    string  `json:"description"`
}

// Params parses the request. Field errors come back as clubs.ValidationError.
func (r RecurringEventRequest) Params() (clubs.RecurringEventParams, error) {
	p := clubs.RecurringEventParams{
		Name:        r.Name,
		Day:         clubs.Weekday(r.Day),
		Location:    r.Location,
		Description: r.Description,
	}
	var err error
	if p.StartDate, err = clubs.ParseDate(r.StartDate); err != nil {
		return p, &clubs.ValidationError{Field: "start_date", Message: err.Error()}
	}
	if p.EndDate, err = clubs.ParseDate(r.EndDate); err != nil {
		return p, &clubs.ValidationError{Field: "end_date", Message: err.Error()}
	}
	if p.EventStartTime, err = clubs.ParseClock(r.EventStartTime); err != nil {
		return p, &clubs.ValidationError{Field: "event_start_time", Message: err.Error()}
	}
	if p.EventEndTime, err = clubs.ParseClock(r.EventEndTime); err != nil {
		return p, &clubs.ValidationError{Field: "event_end_time", Message: err.Error()}
	}
	return p, nil
}

// DayJSON accepts 0-6 (Monday first), a day name or an ICS code.
type DayJSON int

func (d *DayJSON) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			*d = DayJSON(n)
			return nil
		}
		w, err := clubs.ParseWeekday(s)
		if err != nil {
			return err
		}
		*d = DayJSON(w)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("day must be a number or a weekday name")
	}
	*d = DayJSON(n)
	return nil
}

type SyncRequest struct {
	// IDs limits the sync to these templates; empty means all.
	IDs []int64 `json:"ids"`
}

type SyncResultDTO struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

type SyncReportDTO struct {
	RecurringEventID int64         `json:"recurring_event_id"`
	Name             string        `json:"name"`
	Result           SyncResultDTO `json:"result"`
}

// RecurringEventResponse is returned by create and update, which also sync.
type RecurringEventResponse struct {
	RecurringEvent RecurringEventDTO `json:"recurring_event"`
	Sync           SyncResultDTO     `json:"sync"`
}

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID          int64  `json:"id"`
	UUID        string `json:"uuid"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name"`
}

type CreateUserRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

type UpdateUserRequest struct {
	Username  *string `json:"username"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Password  *string `json:"password"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatInstant(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func toRoleDTO(r clubs.ClubRole) RoleDTO {
	return RoleDTO{ID: r.ID, Name: r.Name, IsDefault: r.IsDefault}
}

func toMemberDTO(m clubs.Membership) MemberDTO {
	roles := make([]string, 0, len(m.Roles))
	for _, r := range m.Roles {
		roles = append(roles, r.Name)
	}
	return MemberDTO{
		ID:      m.ID,
		ClubID:  m.ClubID,
		UserID:  m.UserID,
		Roles:   roles,
		Points:  m.Points,
		IsOwner: m.IsOwner,
	}
}

func toAttendanceDTO(a clubs.Attendance) AttendanceDTO {
	return AttendanceDTO{ID: a.ID, EventID: a.EventID, CreatedAt: formatInstant(a.CreatedAt)}
}

func toEventDTO(ev clubs.Event) EventDTO {
	return EventDTO{
		ID:               ev.ID,
		UUID:             ev.UUID,
		ClubID:           ev.ClubID,
		Name:             ev.Name,
		StartAt:          formatInstant(ev.StartAt),
		EndAt:            formatInstant(ev.EndAt),
		Location:         ev.Location,
		Description:      ev.Description,
		RecurringEventID: ev.RecurringEventID,
		CalendarURL:      fmt.Sprintf("/clubs/%d/events/%d/calendar", ev.ClubID, ev.ID),
	}
}

func toRecurringEventDTO(r clubs.RecurringEvent) RecurringEventDTO {
	return RecurringEventDTO{
		ID:             r.ID,
		ClubID:         r.ClubID,
		Name:           r.Name,
		StartDate:      r.StartDate.String(),
		EndDate:        r.EndDate.String(),
		Day:            int(r.Day),
		DayName:        r.Day.String(),
		EventStartTime: r.EventStartTime.String(),
		EventEndTime:   r.EventEndTime.String(),
		Location:       r.Location,
		Description:    r.Description,
		ExpectedEvents: r.ExpectedEventCount(),
	}
}

func toSyncResultDTO(r clubs.SyncResult) SyncResultDTO {
	return SyncResultDTO{Created: r.Created, Updated: r.Updated, Deleted: r.Deleted}
}

func toUserDTO(u users.User) UserDTO {
	return UserDTO{
		ID:          u.ID,
		UUID:        u.UUID,
		Email:       u.Email,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName(),
	}
}
