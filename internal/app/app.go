// Package app assembles the campaign pipeline from configuration. Both the
// API and the campaign worker build their dependency graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"bulletin/internal/campaign"
	"bulletin/internal/config"
	"bulletin/internal/content"
	"bulletin/internal/core"
	"bulletin/internal/db"
	"bulletin/internal/delivery"
	"bulletin/internal/external"
	"bulletin/internal/lock"
	"bulletin/internal/queue"
	"bulletin/internal/resilience"
	"bulletin/internal/tracking"
	"bulletin/internal/types"
)

// identityRetryDelay is the first backoff step for token verification.
const identityRetryDelay = 200 * time.Millisecond

// App is the assembled pipeline.
type App struct {
	Orchestrator *campaign.Orchestrator
	Identity     types.IdentityProvider
	Publisher    *queue.CampaignPublisher
	HealthProbes []core.HealthProbe
	Closers      []func() error
}

// Close releases every resource in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.Closers) - 1; i >= 0; i-- {
		if err := a.Closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewLogger creates the process-wide JSON logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Build connects every backing service named in cfg and wires the
// orchestrator. On error, resources acquired so far are released.
func Build(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (app *App, err error) {
	logger := types.NewSlogLogger(slogger).With("service", cfg.Service, "env", cfg.Environment)
	app = &App{}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	pool, err := db.Connect(ctx, poolConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	app.Closers = append(app.Closers, func() error { pool.Close(); return nil })
	app.HealthProbes = append(app.HealthProbes, core.HealthProbeFunc{ProbeName: "database", Fn: pool.Ping})

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			return nil, err
		}
	}

	var locker lock.Locker = lock.NopLocker{}
	var cache content.Cache = content.NewMemoryCache()
	if url := cfg.Redis.URL.Unmask(); url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		app.Closers = append(app.Closers, rdb.Close)
		app.HealthProbes = append(app.HealthProbes, core.HealthProbeFunc{
			ProbeName: "redis",
			Fn:        func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		locker = lock.NewRedisLocker(rdb, cfg.Redis.KeyPrefix+"lock:")
		cache = content.NewRedisCache(rdb, cfg.Redis.KeyPrefix+"body:")
	}

	var metrics campaign.Metrics = campaign.NopMetrics{}
	provider, err := NewEmailProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Observability.EnableMetrics && !cfg.IsLocal() {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			setEndpoint(&o.BaseEndpoint, cfg.AWS.EndpointURL)
		})
		metrics = campaign.NewCloudWatchMetrics(cw, provider.Name(), logger)
	}

	var bodies campaign.BodyResolver
	if cfg.AWS.BodiesBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			setEndpoint(&o.BaseEndpoint, cfg.AWS.EndpointURL)
			o.UsePathStyle = cfg.AWS.EndpointURL != ""
		})
		bodies = content.NewResolver(
			content.NewS3BodyStore(s3Client, cfg.AWS.BodiesBucket),
			logger,
			content.WithCache(cache, cfg.AWS.BodyCacheTTL),
			content.WithBreakerSettings(BreakerSettings(cfg.Breaker, "body-store")),
		)
	}

	if cfg.AWS.CampaignQueue != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			setEndpoint(&o.BaseEndpoint, cfg.AWS.EndpointURL)
		})
		app.Publisher = queue.NewCampaignPublisher(sqsClient, cfg.AWS.CampaignQueue, logger)
	}

	app.Identity = NewIdentityProvider(cfg, logger)

	from := types.SenderIdentity{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName}
	app.Orchestrator = campaign.NewOrchestrator(campaign.Deps{
		Content:           db.NewContentRepository(pool),
		Tracker:           tracking.NewTracker(db.NewTrackingRepository(pool), logger),
		Sender:            delivery.NewDispatcher(provider, from, logger),
		Bodies:            bodies,
		Locker:            locker,
		Metrics:           metrics,
		Logger:            logger,
		Breaker:           BreakerSettings(cfg.Breaker, "content-store"),
		Dispatch:          DispatchOptions(cfg.Dispatch),
		CreateConcurrency: cfg.Dispatch.CreateConcurrency,
		LockTTL:           cfg.Redis.LockTTL,
	})

	logger.Info("pipeline assembled",
		"email_provider", provider.Name(),
		"redis", cfg.Redis.URL != "",
		"bodies_bucket", cfg.AWS.BodiesBucket,
		"metrics", cfg.Observability.EnableMetrics,
	)
	return app, nil
}

// NewEmailProvider returns the breaker-guarded Resend client, or the logging
// stub when EMAIL_PROVIDER=stub.
func NewEmailProvider(cfg *config.Config, logger types.Logger) (types.EmailProvider, error) {
	switch cfg.Email.Provider {
	case "stub":
		return external.NewStubEmailProvider(logger), nil
	case "resend":
		key := cfg.Email.ResendAPIKey.Unmask()
		if key == "" {
			if !cfg.IsLocal() {
				return nil, fmt.Errorf("RESEND_API_KEY is required for the resend provider")
			}
			logger.Warn("RESEND_API_KEY unset, using stub email provider")
			return external.NewStubEmailProvider(logger), nil
		}
		return external.NewGuardedProvider(external.NewResendClient(key), BreakerSettings(cfg.Breaker, "")), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

// NewIdentityProvider returns the HTTP identity client, or the static-token
// stub when running locally without IDENTITY_BASE_URL.
func NewIdentityProvider(cfg *config.Config, logger types.Logger) types.IdentityProvider {
	if cfg.Identity.BaseURL == "" {
		logger.Warn("IDENTITY_BASE_URL unset, accepting the local admin token")
		return external.NewStubIdentityProvider(cfg.Identity.LocalToken.Unmask(), types.RoleAdmin)
	}
	policy := resilience.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  identityRetryDelay,
		MaxDelay:   cfg.Identity.Timeout,
	}
	base := external.NewBaseClient(
		&http.Client{Timeout: cfg.Identity.Timeout},
		"identity",
		policy,
		"Bulletin/"+cfg.Build.Version,
		external.WithUpstreamCode(types.ErrCodeUpstreamIdentity),
	)
	return external.NewIdentityClient(base, cfg.Identity.BaseURL)
}

// DispatchOptions converts the dispatch section into dispatcher options.
func DispatchOptions(c config.DispatchConfig) delivery.Options {
	return delivery.Options{
		BatchSize:           c.BatchSize,
		DelayBetweenBatches: c.DelayBetweenBatches,
		MaxRetries:          c.MaxRetries,
		RetryDelay:          c.RetryDelay,
		AttemptTimeout:      c.AttemptTimeout,
		Jitter:              c.Jitter,
	}
}

// BreakerSettings converts the breaker section into settings for the named
// dependency. An empty name lets the wrapped component choose.
func BreakerSettings(c config.BreakerConfig, name string) resilience.BreakerSettings {
	return resilience.BreakerSettings{
		Name:      name,
		Threshold: c.Threshold,
		Timeout:   c.Timeout,
	}
}

func poolConfig(c config.DatabaseConfig) db.PoolConfig {
	return db.PoolConfig{
		URL:             c.URL.Unmask(),
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
		ConnectAttempts: c.ConnectAttempts,
		RetryInterval:   c.RetryInterval,
	}
}

// setEndpoint points an AWS client at LocalStack when url is set.
func setEndpoint(dst **string, url string) {
	if url != "" {
		*dst = aws.String(url)
	}
}
