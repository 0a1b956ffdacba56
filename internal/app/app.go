// Package app assembles the CDP from configuration. Both the HTTP server
// and the CLI build their dependencies here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/recruit-cdp/internal/archive"
	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/docstore"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
	"github.com/ignite/recruit-cdp/internal/repository/documents"
	"github.com/ignite/recruit-cdp/internal/repository/memory"
	"github.com/ignite/recruit-cdp/internal/repository/postgres"
	"github.com/ignite/recruit-cdp/internal/repository/sanity"
	"github.com/ignite/recruit-cdp/internal/resend"
	"github.com/ignite/recruit-cdp/internal/ses"
	"github.com/ignite/recruit-cdp/internal/sharepoint"
	"github.com/ignite/recruit-cdp/internal/templates"
	"github.com/ignite/recruit-cdp/internal/typeform"
	"github.com/ignite/recruit-cdp/internal/worker"
)

// App holds the wired components. Optional ones are nil when unconfigured.
type App struct {
	Config   *config.Config
	Repo     *documents.Repository
	Renderer *templates.Renderer
	Service  *cdp.Service
	Sweeps   *worker.SweepRunner

	DB      *sql.DB
	Redis   *redis.Client
	Archive *archive.Archive
	Resend  *resend.Client

	Typeform   *typeform.Decoder
	ResendHook *resend.WebhookVerifier
}

// Build connects to every configured backend and assembles the service.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetService(cfg.Logging.Service)

	a := &App{Config: cfg, Renderer: templates.New()}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Repo = documents.NewRepository(store)

	deps := cdp.Deps{
		Store:    a.Repo,
		Renderer: a.Renderer,
		Executor: cdp.ExecutorConfig{
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			MaxSteps:    cfg.Email.MaxFlowSteps,
		},
	}

	if cfg.Resend.APIKey != "" {
		a.Resend, err = resend.NewClient(cfg.Resend)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Audience = a.Resend
	} else {
		logger.Warn("resend api key not set; audience sync disabled")
	}

	switch cfg.Email.Provider {
	case config.ProviderSES:
		mailer, err := ses.NewClient(ctx, cfg.SES)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ses mailer: %w", err)
		}
		deps.Mailer = mailer
	default:
		if a.Resend != nil {
			deps.Mailer = a.Resend
		}
	}
	if deps.Mailer == nil {
		logger.Warn("no email provider configured; flow emails will fail and retry")
	}

	a.Service = cdp.New(deps)

	a.connectRedis(ctx)
	if cfg.Archive.Enabled() {
		a.Archive, err = archive.New(ctx, cfg.Archive)
		if err != nil {
			logger.Warn("report archive disabled", "bucket", cfg.Archive.S3Bucket, "error", err)
		}
	}

	a.Sweeps = worker.NewSweepRunner(a.Service, cfg.Worker)
	if a.Redis != nil {
		a.Sweeps.SetRedisClient(a.Redis)
	}
	if a.DB != nil {
		a.Sweeps.SetDB(a.DB)
	}
	if a.Archive != nil {
		a.Sweeps.SetArchive(a.Archive)
	}

	if cfg.SharePoint.Enabled() {
		sp, err := sharepoint.NewClient(ctx, cfg.SharePoint)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("sharepoint: %w", err)
		}
		a.Sweeps.RegisterSharePoint(a.Service.Intake, sp, cfg.Worker.SharePointInterval())
	}

	a.Typeform = typeform.NewDecoder(cfg.Typeform)
	if cfg.Typeform.Secret == "" {
		logger.Warn("typeform secret not set; webhook signatures are not checked")
	}
	if cfg.Resend.WebhookSecret != "" {
		a.ResendHook, err = resend.NewWebhookVerifier(cfg.Resend.WebhookSecret)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Info("cdp assembled",
		"backend", cfg.Store.Backend,
		"email_provider", cfg.Email.Provider,
		"audience_sync", a.Service.Audience != nil,
		"sweeps", strings.Join(a.Sweeps.Names(), ","))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (docstore.Store, error) {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.BackendMemory, "":
		logger.Warn("using in-memory document store; data is lost on exit")
		return memory.New(), nil

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("store.database_url is required for the postgres backend")
		}
		db, err := sql.Open("postgres", withTimeouts(cfg.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(3)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(30 * time.Second)
		a.DB = db

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		repo := postgres.NewDocumentRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate documents: %w", err)
		}
		return repo, nil

	case config.BackendSanity:
		if cfg.Sanity.ProjectID == "" || cfg.Sanity.Token == "" {
			return nil, errors.New("store.sanity.project_id and token are required for the sanity backend")
		}
		return sanity.NewClient(sanity.Config{
			ProjectID:  cfg.Sanity.ProjectID,
			Dataset:    cfg.Sanity.Dataset,
			Token:      cfg.Sanity.Token,
			APIVersion: cfg.Sanity.APIVersion,
		}, nil), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// connectRedis leaves a.Redis nil when Redis is unset or unreachable, in
// which case sweeps lock through Postgres or in-process.
func (a *App) connectRedis(ctx context.Context) {
	url := a.Config.Redis.URL
	if url == "" {
		logger.Info("redis not configured; sweeps use advisory or local locks")
		return
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(url); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis connection failed; falling back to other locks", "error", err)
		client.Close()
		return
	}
	a.Redis = client
}

// withTimeouts bounds connect and statement time on the DSN.
func withTimeouts(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "connect_timeout") {
		dsn += sep + "connect_timeout=5"
		sep = "&"
	}
	if !strings.Contains(dsn, "statement_timeout") {
		dsn += sep + "options=-c%20statement_timeout%3D30000"
	}
	return dsn
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
