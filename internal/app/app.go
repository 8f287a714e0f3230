// Package app builds the services shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/outreach-engine/internal/cache"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/inbox"
	"github.com/unclebandit/outreach-engine/internal/mailer"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/secrets"
	"github.com/unclebandit/outreach-engine/internal/service"
	"github.com/unclebandit/outreach-engine/migrations"
)

type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *sql.DB
	Queue  queue.Queue

	Campaigns  *service.CampaignService
	Matches    *service.MatchService
	Reports    *service.ReportService
	Tracking   *service.TrackingService
	Dispatcher *service.DispatchWorker
	Reconciler *service.ReplyReconciler

	closers []func() error
}

// New connects to every backing store named in cfg, applies migrations and
// wires the services. Redis and RabbitMQ are optional.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	conn, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	if err := db.RunMigrations(migrations.FS, cfg.DatabaseURL, log); err != nil {
		a.Close()
		return nil, err
	}

	cipher, err := secrets.LoadCipher(secrets.Source{
		Name:  "CREDENTIALS_KEY",
		Value: cfg.CredentialsKey,
		File:  cfg.CredentialsKeyFile,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var reportCache cache.ReportCache = cache.NopReportCache{}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisReportCache(cfg.RedisURL, cfg.ReportCacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		reportCache = rc
		a.closers = append(a.closers, rc.Close)
	}

	if cfg.AMQPURL != "" {
		q, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	} else {
		q := queue.NewInMemoryQueue(log)
		if err := queue.StartReplyLogger(q, log.Named("replies")); err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = q
	}

	clientRepo := &repository.ClientRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	errorRepo := &repository.ErrorLogRepository{DB: conn}
	replyRepo := &repository.ReplyRepository{DB: conn}
	auditRepo := &repository.AuditRepository{DB: conn}
	state := service.NewRecipientStateStore(recipientRepo)

	a.Campaigns = &service.CampaignService{
		CampaignRepo:  campaignRepo,
		ClientRepo:    clientRepo,
		RecipientRepo: recipientRepo,
		ErrorRepo:     errorRepo,
		AuditRepo:     auditRepo,
		State:         state,
		Reports:       reportCache,
		Log:           log.Named("campaigns"),
	}
	a.Matches = &service.MatchService{Clients: clientRepo, Contacts: contactRepo}
	a.Reports = &service.ReportService{
		Campaigns: campaignRepo,
		Clients:   clientRepo,
		Cache:     reportCache,
		Log:       log.Named("reports"),
	}
	a.Tracking = &service.TrackingService{
		Recipients: recipientRepo,
		Campaigns:  campaignRepo,
		State:      state,
		Log:        log.Named("tracking"),
	}
	a.Dispatcher = &service.DispatchWorker{
		Recipients:      recipientRepo,
		Campaigns:       campaignRepo,
		Clients:         clientRepo,
		Errors:          errorRepo,
		State:           state,
		Templates:       service.NewTemplateService(),
		Dialer:          &mailer.SMTPDialer{},
		Cipher:          cipher,
		Log:             log.Named("dispatch"),
		TrackingBaseURL: cfg.TrackingBaseURL,
		BatchSize:       cfg.DispatchBatchSize,
		MaxSessions:     cfg.MaxConcurrentSessions,
		SendRate:        rate.Limit(cfg.SendRatePerSecond),
		StaleAfter:      service.DefaultStaleAfter,
	}
	a.Reconciler = &service.ReplyReconciler{
		Clients:     clientRepo,
		Recipients:  recipientRepo,
		Campaigns:   campaignRepo,
		Replies:     replyRepo,
		State:       state,
		Fetcher:     &inbox.IMAPFetcher{Timeout: cfg.IMAPTimeout},
		Cipher:      cipher,
		Queue:       a.Queue,
		Log:         log.Named("reconcile"),
		Lookback:    cfg.ReplyLookback,
		Timeout:     cfg.IMAPTimeout,
		MaxSessions: cfg.MaxConcurrentSessions,
	}
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = fmt.Errorf("closing: %w", err)
		}
	}
	a.closers = nil
	return first
}
