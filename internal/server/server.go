// Package server exposes the punch clock over HTTP: auth, punch operations,
// aggregation queries, the offline replay endpoint, and the SSE feeds.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"punchclock/internal/config"
	"punchclock/internal/db/models"
	"punchclock/internal/identity"
	"punchclock/internal/offline"
	"punchclock/internal/punch"
)

// Accounts is the profile-store contract the auth endpoints need. *db.DB
// implements it.
type Accounts interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetUserProfileByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	GetUserProfileByStaffID(ctx context.Context, staffID string) (*models.UserProfile, error)
	CreateUserProfile(ctx context.Context, u *models.UserProfile) error
}

type Server struct {
	svc      *punch.Service
	accounts Accounts
	queue    *offline.Queue
	issuer   *identity.TokenIssuer
	validate *validator.Validate
	router   chi.Router
}

func New(cfg config.ServerConfig, svc *punch.Service, accounts Accounts, queue *offline.Queue, issuer *identity.TokenIssuer) *Server {
	s := &Server{
		svc:      svc,
		accounts: accounts,
		queue:    queue,
		issuer:   issuer,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/session/open", s.handleGetOpenSession)
			r.Post("/punches/in", s.handlePunchIn)
			r.Post("/punches/{id}/out", s.handlePunchOut)
			r.Post("/punches/checkpoints", s.handleAddCheckpoint)

			r.Get("/punches/today", s.handleTodaySessions)
			r.Get("/punches/today/total", s.handleTodayTotal)
			r.Get("/punches/month", s.handleMonthSessions)
			r.Get("/punches/history", s.handleHistory)
			r.Get("/punches/all", s.handleAllSessions)
			r.Get("/punches/recent-closed", s.handleRecentClosed)
			r.Get("/punches/last-closed", s.handleLastClosed)
			r.Get("/company/today", s.handleCompanyToday)
			r.Get("/company/{code}", s.handleCompanyLookup)

			r.Get("/reports/daily", s.handleDailyTotals)
			r.Get("/reports/grouped", s.handleGroupedByDay)

			r.Post("/migration/images", s.handleMigrateImages)
			r.Get("/migration/pending", s.handleMigrationPending)

			r.Get("/offline/tasks", s.handleOfflineTasks)
			r.Post("/offline/replay", s.handleOfflineReplay)
			r.Delete("/offline/tasks", s.handleOfflineClear)

			r.Get("/stream/today", s.handleStreamToday)
			r.Get("/stream/company", s.handleStreamCompany)
			r.Get("/stream/recent", s.handleStreamRecent)
		})
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger attaches a per-request logger to the context and emits one
// line per request on completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := log.With().
			Str("req_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ctx := l.WithContext(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		var ev *zerolog.Event
		if ww.Status() >= 500 {
			ev = l.Error()
		} else {
			ev = l.Info()
		}
		ev.Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// authMiddleware verifies the bearer token and places the caller on the
// context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, punch.ErrNotAuthenticated)
			return
		}
		user, err := s.issuer.Verify(token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
