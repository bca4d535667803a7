/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap), level by status
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Heartbeat:  /healthz liveness probe
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/policy/*         Resolved weekly policy and offsets
  /api/locations/*      Location profiles and program weeks
  /api/staff/*          Staff, scores, submissions, backlog
  /api/assignments      Required items
  /api/backlog/*        Backlog resolution
  /api/rollover/*       Runs and batch processing
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/policy", func(r chi.Router) {
			r.Get("/", h.GetPolicy)
			r.Get("/offsets", h.GetOffsets)
		})

		r.Route("/locations", func(r chi.Router) {
			r.Put("/{id}", h.PutLocation)
			r.Get("/{id}", h.GetLocation)
			r.Get("/{id}/week", h.GetLocationWeek)
		})

		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Put("/{id}", h.PutStaff)
			r.Get("/{id}", h.GetStaff)
			r.Post("/{id}/scores", h.SubmitScore)
			r.Get("/{id}/submissions", h.GetSubmissions)
			r.Post("/{id}/rollover", h.TriggerRollover)
			r.Get("/{id}/backlog", h.GetBacklog)
		})

		r.Post("/assignments", h.CreateAssignment)
		r.Post("/backlog/{id}/resolve", h.ResolveBacklog)

		r.Route("/rollover", func(r chi.Router) {
			r.Get("/runs", h.ListRolloverRuns)
			r.Post("/process", h.ProcessRollover)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// RequestLogger logs one structured line per request. 5xx logs at error,
// 4xx at warn, everything else at info.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
			}

			switch {
			case status >= 500:
				logger.Error("request failed", fields...)
			case status >= 400:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
