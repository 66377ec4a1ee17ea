/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For behind the proxy
  3. Logger:     Request logging via logrus, plus latency metrics
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the portal frontend

ROUTE GROUPS:
  /api/clubs/*          Clubs, roles, members, events, recurring events
  /api/admin/*          Admin operations (bulk sync)
  /api/users/*          User accounts
  /clubs/*              ICS calendar downloads (linked from emails)
  /metrics              Prometheus
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// CORSOrigins lists allowed browser origins. Empty allows none.
	CORSOrigins []string
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log, h.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/clubs", func(r chi.Router) {
			r.Get("/", h.ListClubs)
			r.Post("/", h.CreateClub)

			r.Route("/{clubID}", func(r chi.Router) {
				r.Get("/", h.GetClub)
				r.Put("/", h.UpdateClub)
				r.Delete("/", h.DeleteClub)

				r.Get("/roles", h.ListRoles)
				r.Post("/roles", h.CreateRole)

				r.Get("/members", h.ListMembers)
				r.Post("/members", h.AddMember)
				r.Post("/members/{userID}/roles", h.SetMemberRole)
				r.Post("/members/{userID}/points", h.ChangePoints)
				r.Get("/members/{userID}/attendance", h.MemberAttendance)
				r.Post("/invite", h.InviteMembers)

				r.Get("/events", h.ListEvents)
				r.Post("/events", h.CreateEvent)
				r.Put("/events/{eventID}", h.UpdateEvent)
				r.Post("/events/{eventID}/attendance", h.RecordAttendance)

				r.Get("/recurring-events", h.ListRecurringEvents)
				r.Post("/recurring-events", h.CreateRecurringEvent)
				r.Put("/recurring-events/{id}", h.UpdateRecurringEvent)
				r.Delete("/recurring-events/{id}", h.DeleteRecurringEvent)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/recurring-events/sync", h.SyncRecurringEvents)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
		})
	})

	// Calendar downloads
	r.Get("/clubs/{clubID}/calendar", h.ClubCalendar)
	r.Get("/clubs/{clubID}/events/{eventID}/calendar", h.EventCalendar)

	return r
}

// requestLogger logs one line per request and records its latency under the
// matched route pattern.
func requestLogger(log logrus.FieldLogger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			took := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			metrics.observeRequest(r.Method, route, strconv.Itoa(status), took)

			entry := log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"took":       took,
				"remote":     r.RemoteAddr,
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("request")
				return
			}
			entry.Info("request")
		})
	}
}
