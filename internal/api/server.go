// Package api is the client-facing HTTP surface: campaign discovery
// runs, review-task decisions, scheduler admin, and the notification
// websocket. Handlers run on the foreground pool; anything long-lived
// is handed to the controller, which owns the background pool.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	errs "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/notify"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/scheduler"
	db "github.com/podscout/podscout/internal/storage"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	corsMaxAge        = 300
)

// Repository is the slice of the store the API reads and writes.
type Repository interface {
	PersonIDByToken(ctx context.Context, token string) (int64, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	SetAutoDiscoveryEnabled(ctx context.Context, id string, enabled bool) error
	GetDiscoveryStatusCounts(ctx context.Context, campaignID string) (*db.DiscoveryStatusCounts, error)
	ResetRejectedForCampaign(ctx context.Context, campaignID string) (int64, error)
	GetReviewTask(ctx context.Context, id string) (*domain.ReviewTask, error)
	ListReviewTasks(ctx context.Context, personID int64, status string, limit, offset int) ([]domain.ReviewTask, error)
	CountReviewTasks(ctx context.Context, personID int64, status string) (int, error)
	UpdateReviewTaskStatus(ctx context.Context, id, status, notes string) (bool, error)
	HydrateReviewTasks(ctx context.Context, tasks []domain.ReviewTask) ([]db.HydratedReviewTask, error)
	SetMatchDecision(ctx context.Context, matchID string, personID int64, approved bool) (bool, error)
	GetLLMUsageSince(ctx context.Context, since time.Time) (*db.LLMUsageSummary, error)
}

// Launcher starts a manual discovery run. The controller runs it on
// the background pool; the handler only fires and returns 202.
type Launcher interface {
	RunManual(ctx context.Context, campaignID string, maxMatches int) error
}

// SchedulerControl is the admin surface over the task scheduler.
type SchedulerControl interface {
	Status() scheduler.Snapshot
	Pause()
	Resume()
	SetTaskEnabled(name string, enabled bool) error
}

// Server is the API HTTP server.
type Server struct {
	cfg      *config.Config
	db       Repository
	launcher Launcher
	sched    SchedulerControl
	hub      *notify.Hub
	bus      *events.Bus
	logger   *zerolog.Logger
}

func NewServer(cfg *config.Config, database Repository, launcher Launcher, sched SchedulerControl,
	hub *notify.Hub, bus *events.Bus, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "api").Logger()

	return &Server{
		cfg:      cfg,
		db:       database,
		launcher: launcher,
		sched:    sched,
		hub:      hub,
		bus:      bus,
		logger:   &l,
	}
}

// Router assembles the route tree. Everything except the websocket
// authenticates with a bearer token; the websocket takes its token as
// a query parameter because browsers cannot set headers on upgrades.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(withCorrelationID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerCorrelationID},
		ExposedHeaders:   []string{headerCorrelationID},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}))

	r.Get("/notifications/ws", s.handleNotificationsWS)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Post("/discover", s.handleDiscover)
			r.Get("/discovery-status", s.handleDiscoveryStatus)
			r.Patch("/auto-discovery", s.handleAutoDiscoveryToggle)
			r.Post("/revet", s.handleRevet)
		})

		r.Route("/review-tasks", func(r chi.Router) {
			r.Get("/", s.handleListReviewTasks)
			r.Post("/{taskID}/approve", s.handleApproveReviewTask)
			r.Post("/{taskID}/reject", s.handleRejectReviewTask)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", s.handleSchedulerStatus)
			r.Post("/start", s.handleSchedulerStart)
			r.Post("/stop", s.handleSchedulerStop)
			r.Post("/control", s.handleSchedulerControl)
		})

		r.Get("/ops/llm-usage", s.handleLLMUsage)
	})

	return r
}

// Start serves until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.APIPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		//nolint:errcheck,contextcheck // shutdown in signal handler is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.cfg.APIPort).Msg("API server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server error: %w", err)
	}

	return nil
}

// loadOwnedCampaign resolves a campaign and enforces that the
// authenticated person owns it.
func (s *Server) loadOwnedCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	campaign, err := s.db.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	if campaign == nil {
		return nil, errs.ErrCampaignNotFound
	}

	if campaign.PersonID != personID(ctx) {
		return nil, errs.ErrNotOwner
	}

	return campaign, nil
}
