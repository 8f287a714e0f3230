// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/controller"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/logger"
)

type routes struct {
	Jobs      *handler.JobHandler
	Campaigns *handler.CampaignHandler
	Staff     *controller.CampaignController

	JobToken    string
	StaffAPIKey string
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", controller.ActorHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes: open pixel and shared report
	r.Get("/track/open/{trackingID}", rt.Campaigns.TrackOpen)
	r.Get("/public/campaigns/{token}", rt.Campaigns.PublicReport)

	// Scheduler triggers
	r.Group(func(r chi.Router) {
		r.Use(handler.RequireBearer(rt.JobToken))
		r.Post("/jobs/dispatch", rt.Jobs.Dispatch)
		r.Post("/jobs/reconcile", rt.Jobs.Reconcile)
	})

	// Staff API
	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAPIKey(rt.StaffAPIKey))
		rt.Staff.Routes(r)
	})
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	zl, err := logger.New(cfg.LogJSON, cfg.LogDebug)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	router := newRouter(routes{
		Jobs: &handler.JobHandler{
			Dispatcher: a.Dispatcher,
			Reconciler: a.Reconciler,
			Log:        zl.Named("jobs"),
		},
		Campaigns: &handler.CampaignHandler{
			Opens:   a.Tracking,
			Reports: a.Reports,
			Log:     zl.Named("public"),
		},
		Staff: &controller.CampaignController{
			CampaignService: a.Campaigns,
			MatchService:    a.Matches,
			Log:             zl.Named("staff"),
		},
		JobToken:    cfg.JobTriggerToken,
		StaffAPIKey: cfg.StaffAPIKey,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// dispatch and reconcile triggers run synchronously
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server running", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}
}
