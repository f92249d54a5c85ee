package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"eduvia/portal/internal/appstate"
	"eduvia/portal/internal/asset"
	"eduvia/portal/internal/clients"
	"eduvia/portal/internal/config"
	"eduvia/portal/internal/db"
	"eduvia/portal/internal/exam"
	portalgrpc "eduvia/portal/internal/grpc"
	internalhttp "eduvia/portal/internal/http"
	"eduvia/portal/internal/jobs"
	"eduvia/portal/internal/marker"
	"eduvia/portal/internal/outbox"
	"eduvia/portal/internal/payment"
	"eduvia/portal/internal/session"
	"eduvia/portal/internal/tenant"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			fatal(logger, "redis ping failed", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", "error", err)
			}
		}()
	}

	var pool *pgxpool.Pool
	if cfg.OutboxBackend == "postgres" {
		var err error
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal(logger, "db connection failed", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			fatal(logger, "db migration failed", err)
		}
	}

	schoolClient := clients.NewSchoolClient(cfg.SchoolAPIURL, cfg.UpstreamTimeout)
	courseClient := clients.NewCourseClient(cfg.CourseAPIURL, cfg.UpstreamTimeout)
	examClient := clients.NewExamClient(cfg.ExamAPIURL, cfg.UpstreamTimeout)

	pending, err := pendingStore(cfg, redisClient, pool)
	if err != nil {
		fatal(logger, "pending store init failed", err)
	}
	submitter := outbox.NewSubmitter(examClient, pending, outbox.Config{
		MaxAttempts: cfg.SubmitMaxAttempts,
		BaseDelay:   cfg.SubmitBaseDelay,
		Timeout:     cfg.SubmitTimeout,
		Logger:      logger,
	})

	var (
		markers marker.Store   = marker.NewMemoryStore()
		state   appstate.Store = appstate.NewMemoryStore()
	)
	if redisClient != nil {
		markers = marker.NewRedisStore(redisClient, cfg.PassedMarkerTTL)
		state = appstate.NewRedisStore(redisClient, cfg.StateTTL)
	}

	var webhooks internalhttp.WebhookParser
	var provider payment.Provider = courseClient
	if cfg.PaymentProvider == "stripe" {
		if cfg.StripeSecretKey == "" {
			fatal(logger, "payment init failed", errors.New("STRIPE_SECRET_KEY is required for the stripe provider"))
		}
		stripeCheckout := payment.NewStripeCheckout(cfg.StripeSecretKey, cfg.StripeCurrency, cfg.StripeWebhookSecret)
		provider = stripeCheckout
		if cfg.StripeWebhookSecret != "" {
			webhooks = stripeCheckout
		}
	}
	payments, err := payment.NewService(provider, courseClient, cfg.PublicBaseURL)
	if err != nil {
		fatal(logger, "payment init failed", err)
	}

	uploads, err := uploader(ctx, cfg)
	if err != nil {
		fatal(logger, "asset uploader init failed", err)
	}

	registry := exam.NewRegistry(exam.Deps{
		Questions:     examClient,
		Reporter:      submitter,
		Marker:        markers,
		Checkout:      payment.NewExamLinker(payments, courseClient),
		Duration:      cfg.ExamDuration,
		PassThreshold: cfg.PassThresholdPercent,
		Logger:        logger,
	}, submitter)
	defer registry.Close()

	jar := session.NewJar(session.JarConfig{
		Domain:        cfg.CookieDomain,
		Secure:        cfg.CookieSecure,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		ProfileTTL:    cfg.ProfileTTL,
		ProfileSecret: cfg.ProfileSecret,
		Issuer:        cfg.JWTIssuer,
	})
	directory := tenant.NewDirectory(schoolClient, redisClient, cfg.SchoolCacheTTL, logger)

	server := internalhttp.NewServer(cfg, internalhttp.Deps{
		Resolver:  tenant.NewResolver(cfg.RootDomain),
		Schools:   directory,
		Registrar: schoolClient,
		Jar:       jar,
		Auth: map[session.Role]internalhttp.Authenticator{
			session.RoleAdmin:   clients.NewAuthClient(cfg.AdminAPIURL, "/auth", cfg.UpstreamTimeout),
			session.RoleSchool:  clients.NewAuthClient(cfg.SchoolAPIURL, "/auth", cfg.UpstreamTimeout),
			session.RoleStudent: clients.NewAuthClient(cfg.SchoolAPIURL, "/students/auth", cfg.UpstreamTimeout),
		},
		Courses:  courseClient,
		Exams:    examClient,
		Markers:  markers,
		Payments: payments,
		Webhooks: webhooks,
		Attempts: registry,
		State:    state,
		Uploads:  uploads,
		Logger:   logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer interface {
		Serve(net.Listener) error
		GracefulStop()
	}
	if cfg.ServiceAuthToken != "" {
		srv, healthServer, err := portalgrpc.NewServer(cfg.ServiceAuthToken)
		if err != nil {
			fatal(logger, "grpc init failed", err)
		}
		portalgrpc.RegisterOutboxServer(srv, submitter, logger)
		grpcServer = srv
		probes := map[string]jobs.Probe{
			portalgrpc.ServiceOutbox: func(ctx context.Context) error {
				_, err := pending.List(ctx)
				return err
			},
			portalgrpc.ServiceSchool: schoolClient.Ping,
			portalgrpc.ServiceCourse: courseClient.Ping,
			portalgrpc.ServiceExam:   examClient.Ping,
		}
		if redisClient != nil {
			probes[portalgrpc.ServiceCache] = func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}
		}
		jobs.StartHealthJob(ctx, cfg, healthServer, probes, logger)
	} else {
		logger.Warn("SERVICE_AUTH_TOKEN not set, grpc health endpoint disabled")
	}

	jobs.DrainPendingSubmissions(ctx, cfg, submitter, logger)
	jobs.StartAttemptReapJob(ctx, cfg, registry, logger)

	go func() {
		logger.Info("portal http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "http server error", err)
		}
	}()

	if grpcServer != nil {
		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				fatal(logger, "grpc listen error", err)
			}
			logger.Info("portal grpc listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(listener); err != nil {
				fatal(logger, "grpc server error", err)
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}

func pendingStore(cfg config.Config, redisClient *redis.Client, pool *pgxpool.Pool) (outbox.Store, error) {
	switch cfg.OutboxBackend {
	case "postgres":
		return outbox.NewPostgresStore(pool), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("OUTBOX_BACKEND=redis needs REDIS_ADDR")
		}
		return outbox.NewRedisStore(redisClient), nil
	case "memory":
		return outbox.NewMemoryStore(), nil
	default:
		return nil, errors.New("unknown OUTBOX_BACKEND " + cfg.OutboxBackend)
	}
}

func uploader(ctx context.Context, cfg config.Config) (asset.Uploader, error) {
	switch cfg.AssetBackend {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("S3_BUCKET is required for the s3 backend")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, err
		}
		return asset.NewS3Uploader(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Region, cfg.S3PublicURL), nil
	case "rest":
		if cfg.UploadAPIURL == "" {
			return nil, nil
		}
		return asset.NewPresetUploader(cfg.UploadAPIURL, cfg.UploadPreset, cfg.UpstreamTimeout), nil
	default:
		return nil, errors.New("unknown ASSET_BACKEND " + cfg.AssetBackend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
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

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
