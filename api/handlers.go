/*
handlers.go - HTTP API handlers for the club portal

PURPOSE:
  Exposes clubs.Service and users.Service via a JSON REST API. Handles
  request decoding, response encoding and the error-to-status mapping; all
  business rules live in the services.

ENDPOINTS:
  Clubs:
    GET    /api/clubs                               List clubs
    POST   /api/clubs                               Create club (with default role)
    GET    /api/clubs/{clubID}                      Get club
    PUT    /api/clubs/{clubID}                      Update club
    DELETE /api/clubs/{clubID}                      Delete club

  Roles and members:
    GET    /api/clubs/{clubID}/roles                List roles
    POST   /api/clubs/{clubID}/roles                Create role
    GET    /api/clubs/{clubID}/members              List members
    POST   /api/clubs/{clubID}/members              Add member
    POST   /api/clubs/{clubID}/members/{userID}/roles       Add or replace role
    POST   /api/clubs/{clubID}/members/{userID}/points      Increase/decrease points
    GET    /api/clubs/{clubID}/members/{userID}/attendance  Attendance history
    POST   /api/clubs/{clubID}/invite               Email join links (202)

  Events:
    GET    /api/clubs/{clubID}/events               List events
    POST   /api/clubs/{clubID}/events               Create one-off event
    PUT    /api/clubs/{clubID}/events/{eventID}     Edit event
    POST   /api/clubs/{clubID}/events/{eventID}/attendance  Record attendance

  Recurring events:
    GET    /api/clubs/{clubID}/recurring-events     List templates
    POST   /api/clubs/{clubID}/recurring-events     Create template (syncs)
    PUT    /api/clubs/{clubID}/recurring-events/{id}  Update template (syncs)
    DELETE /api/clubs/{clubID}/recurring-events/{id}  Delete template
    POST   /api/admin/recurring-events/sync         Bulk sync

  Users:
    POST   /api/users, GET/PUT /api/users/{id}

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, club mismatch, not a member, not enough points
  - 404: Resource not found
  - 409: Conflict (duplicate name, email taken)
  - 500: Internal errors (logged)

SECURITY NOTE:
  No authentication. Deploy behind the portal's auth proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - calendar.go: ICS downloads
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ufcsu/clubportal/clubs"
	"github.com/ufcsu/clubportal/users"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Clubs   *clubs.Service
	Users   *users.Service
	Metrics *Metrics
	Log     logrus.FieldLogger
}

// NewHandler creates a handler. A nil metrics disables instrumentation.
func NewHandler(clubSvc *clubs.Service, userSvc *users.Service, metrics *Metrics, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{Clubs: clubSvc, Users: userSvc, Metrics: metrics, Log: log}
}

// =============================================================================
// CLUB HANDLERS
// =============================================================================

func (h *Handler) ListClubs(w http.ResponseWriter, r *http.Request) {
	list, err := h.Clubs.ListClubs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ClubDTO, len(list))
	for i, c := range list {
		dtos[i] = h.clubDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateClub(w http.ResponseWriter, r *http.Request) {
	var req ClubRequest
	if !decode(w, r, &req) {
		return
	}
	club, err := h.Clubs.CreateClub(r.Context(), req.Params())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.clubDTO(club))
}

func (h *Handler) GetClub(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	club, err := h.Clubs.GetClub(r.Context(), clubID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.clubDTO(club))
}

func (h *Handler) UpdateClub(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	var req ClubRequest
	if !decode(w, r, &req) {
		return
	}
	club, err := h.Clubs.UpdateClub(r.Context(), clubID, req.Params())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.clubDTO(club))
}

func (h *Handler) DeleteClub(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	if err := h.Clubs.DeleteClub(r.Context(), clubID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clubDTO(c clubs.Club) ClubDTO {
	return ClubDTO{
		ID:          c.ID,
		UUID:        c.UUID,
		Name:        c.Name,
		Alias:       c.Alias,
		Description: c.Description,
		JoinLink:    h.Clubs.JoinLink(c),
		CreatedAt:   formatInstant(c.CreatedAt),
	}
}

// =============================================================================
// ROLE & MEMBER HANDLERS
// =============================================================================

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	roles, err := h.Clubs.ListRoles(r.Context(), clubID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RoleDTO, len(roles))
	for i, role := range roles {
		dtos[i] = toRoleDTO(role)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	var req CreateRoleRequest
	if !decode(w, r, &req) {
		return
	}
	role, err := h.Clubs.CreateRole(r.Context(), clubID, req.Name, req.IsDefault)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoleDTO(role))
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	members, err := h.Clubs.ListMembers(r.Context(), clubID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	var req AddMemberRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.Clubs.AddMember(r.Context(), clubID, req.UserID, req.Roles...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

func (h *Handler) SetMemberRole(w http.ResponseWriter, r *http.Request) {
	clubID, userID, ok := memberParams(w, r)
	if !ok {
		return
	}
	var req MemberRoleRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		m   clubs.Membership
		err error
	)
	if req.Replace {
		m, err = h.Clubs.SetMemberRole(r.Context(), clubID, userID, req.Role)
	} else {
		m, err = h.Clubs.AddMemberRole(r.Context(), clubID, userID, req.Role)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

func (h *Handler) ChangePoints(w http.ResponseWriter, r *http.Request) {
	clubID, userID, ok := memberParams(w, r)
	if !ok {
		return
	}
	var req PointsRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		m   clubs.Membership
		err error
	)
	switch req.Operation {
	case "increase":
		m, err = h.Clubs.IncreaseMemberPoints(r.Context(), clubID, userID, req.Amount)
	case "decrease":
		m, err = h.Clubs.DecreaseMemberPoints(r.Context(), clubID, userID, req.Amount)
	default:
		writeError(w, http.StatusBadRequest, "operation must be increase or decrease", nil)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

func (h *Handler) MemberAttendance(w http.ResponseWriter, r *http.Request) {
	clubID, userID, ok := memberParams(w, r)
	if !ok {
		return
	}
	list, err := h.Clubs.MemberAttendance(r.Context(), clubID, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AttendanceDTO, len(list))
	for i, a := range list {
		dtos[i] = toAttendanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) InviteMembers(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	var req InviteRequest
	if !decode(w, r, &req) {
		return
	}
	sent, err := h.Clubs.InviteMembers(r.Context(), clubID, req.Emails)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, InviteResponse{Sent: sent})
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	events, err := h.Clubs.ListEvents(r.Context(), clubID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StartAt == nil || req.EndAt == nil {
		writeError(w, http.StatusBadRequest, "start_at and end_at are required", nil)
		return
	}
	ev, err := h.Clubs.CreateEvent(r.Context(), clubID, req.Params())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	eventID, ok := idParam(w, r, "eventID")
	if !ok {
		return
	}
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := h.Clubs.UpdateEvent(r.Context(), clubID, eventID, req.Params())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	eventID, ok := idParam(w, r, "eventID")
	if !ok {
		return
	}
	var req AttendanceRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Clubs.RecordAttendance(r.Context(), clubID, req.UserID, eventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(a))
}

// =============================================================================
// RECURRING EVENT HANDLERS
// =============================================================================

func (h *Handler) ListRecurringEvents(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	list, err := h.Clubs.ListRecurringEvents(r.Context(), clubID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RecurringEventDTO, len(list))
	for i, rec := range list {
		dtos[i] = toRecurringEventDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRecurringEvent(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	var req RecurringEventRequest
	if !decode(w, r, &req) {
		return
	}
	params, err := req.Params()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, res, err := h.Clubs.CreateRecurringEvent(r.Context(), clubID, params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RecurringEventResponse{
		RecurringEvent: toRecurringEventDTO(rec),
		Sync:           toSyncResultDTO(res),
	})
}

func (h *Handler) UpdateRecurringEvent(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req RecurringEventRequest
	if !decode(w, r, &req) {
		return
	}
	params, err := req.Params()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, res, err := h.Clubs.UpdateRecurringEvent(r.Context(), clubID, id, params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecurringEventResponse{
		RecurringEvent: toRecurringEventDTO(rec),
		Sync:           toSyncResultDTO(res),
	})
}

func (h *Handler) DeleteRecurringEvent(w http.ResponseWriter, r *http.Request) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Clubs.DeleteRecurringEvent(r.Context(), clubID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncRecurringEvents is the admin bulk action. An empty or missing body
// syncs every template.
func (h *Handler) SyncRecurringEvents(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start := time.Now()
	reports, err := h.Clubs.SyncRecurringEvents(r.Context(), req.IDs)
	h.Metrics.observeRun("api", time.Since(start), err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SyncReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = SyncReportDTO{
			RecurringEventID: rep.RecurringEventID,
			Name:             rep.Name,
			Result:           toSyncResultDTO(rep.Result),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.Users.CreateUser(r.Context(), users.CreateParams{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	u, err := h.Users.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.Users.UpdateUser(r.Context(), id, users.UpdateParams{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// =============================================================================
// HELPERS
// =============================================================================

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case clubs.IsNotFound(err), errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound
	case clubs.IsConflict(err), errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict
	case clubs.IsClientError(err), errors.Is(err, users.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error reply. Internal errors are logged and their details
// are not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeError(w, status, "internal error", nil)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name), nil)
		return 0, false
	}
	return id, true
}

func memberParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	clubID, ok := idParam(w, r, "clubID")
	if !ok {
		return 0, 0, false
	}
	userID, ok := idParam(w, r, "userID")
	if !ok {
		return 0, 0, false
	}
	return clubID, userID, true
}
