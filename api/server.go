/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request logging (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a browser frontend

  Routes under /{id} also check the path param is a well-formed ID of the
  right kind (acct_..., je_...) and answer 400 otherwise.

ROUTE GROUPS:
  /api/accounts/*      Chart of accounts
  /api/entries/*       Journal entries
  /api/reports/*       Trial balance
  /api/admin/*         Recalculation and fiscal-year closing
  /api/budgets/*       Monthly budgets and variance
  /api/documents/*     Sales documents feeding budget actuals
  /api/scenarios/*     Demo scenarios
  /health              Liveness probe

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
	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/id"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/structure", h.GetStructure)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(requireID(id.PrefixAccount))
				r.Get("/", h.GetAccount)
				r.Delete("/", h.TrashAccount)
				r.Get("/balance", h.GetAccountBalance)
				r.Post("/reparent", h.ReparentAccount)
				r.Post("/rename", h.RenameAccount)
				r.Post("/activate", h.ActivateAccount)
				r.Post("/deactivate", h.DeactivateAccount)
				r.Post("/restore", h.RestoreAccount)
			})
		})

		// Journal entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Post("/validate", h.ValidateEntry)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(requireID(id.PrefixEntry))
				r.Get("/", h.GetEntry)
				r.Put("/", h.EditDraft)
				r.Delete("/", h.DeleteDraft)
				r.Post("/post", h.PostEntry)
				r.Post("/reverse", h.ReverseEntry)
			})
		})

		r.Get("/reports/trial-balance", h.GetTrialBalance)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/recalculate", h.Recalculate)
			r.Post("/close-year", h.CloseYear)
			r.Get("/closing", h.GetClosingState)
		})

		// Budget routes
		r.Route("/budgets/{year}/{month}", func(r chi.Router) {
			r.Get("/", h.GetBudget)
			r.Put("/", h.SaveBudget)
			r.Get("/variance", h.GetVariance)
		})
		r.Post("/documents/sales", h.RecordSale)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requireID answers 400 when the {id} path param is not an ID of the
// given kind, before any store lookup.
func requireID(prefix id.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := id.ParseWithPrefix(chi.URLParam(r, "id"), prefix); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid id", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				ev := log.Info()
				if ww.Status() >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
