package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/credential-service/internal/cache"
	"github.com/iliyamo/credential-service/internal/config"
	"github.com/iliyamo/credential-service/internal/database"
	"github.com/iliyamo/credential-service/internal/handler"
	"github.com/iliyamo/credential-service/internal/logging"
	"github.com/iliyamo/credential-service/internal/mailer"
	"github.com/iliyamo/credential-service/internal/middleware"
	"github.com/iliyamo/credential-service/internal/queue"
	"github.com/iliyamo/credential-service/internal/realtime"
	"github.com/iliyamo/credential-service/internal/repository"
	"github.com/iliyamo/credential-service/internal/router"
	"github.com/iliyamo/credential-service/internal/service"
	"github.com/iliyamo/credential-service/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logging.New(logging.Options{Env: cfg.Env, Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	// Redis is optional. Without it the blacklist answers from MySQL alone
	// and the rate limiter lets requests through.
	rdb := config.NewRedisClient(cfg.Redis)
	var revocations service.RevocationCache
	if rdb != nil {
		defer rdb.Close()
		revocations = cache.NewRevocations(rdb, cfg.Redis.Prefix)
	} else {
		log.Warn("redis unavailable, revocation cache and rate limiting disabled")
	}

	access := utils.NewSigner(cfg.JWTSecret, cfg.JWTIssuer)
	renewal := utils.NewSigner(cfg.JWTRefreshSecret, cfg.JWTIssuer)

	blacklist := service.NewTokenBlacklist(repository.NewBlacklistRepo(db), revocations, log)
	sessions := service.NewSessionStore(repository.NewSessionRepo(db), time.Duration(cfg.SessionDurationHours)*time.Hour)
	tokens := service.NewSecurityTokenManager(repository.NewSecurityTokenRepo(db), access, cfg.ResetTokenTTL, cfg.VerifyTokenTTL)
	conns := realtime.NewMemoryRegistry()
	publisher := queue.NewPublisher(cfg.RabbitURL, cfg.Mail.Queue, log)

	issuer := service.NewIssuer(service.IssuerDeps{
		Users:     repository.NewUserRepo(db),
		Sessions:  sessions,
		Blacklist: blacklist,
		Tokens:    tokens,
		Resets:    repository.NewPasswordResetRepo(db),
		Access:    access,
		Renewal:   renewal,
		Emails:    publisher,
		Conns:     conns,
		Log:       log,
	}, service.IssuerConfig{
		AccessTTL:          cfg.AccessTTL,
		RefreshTTL:         cfg.RefreshTTL,
		BcryptCost:         cfg.BcryptCost,
		SessionExtendHours: cfg.SessionDurationHours,
	})

	scheduler := service.NewCleanupScheduler(service.SchedulerOptions{
		MaxAttempts:  cfg.Cleanup.MaxAttempts,
		RetryBackoff: cfg.Cleanup.RetryBackoff,
		SweepTimeout: cfg.Cleanup.SweepTimeout,
		RunOnStart:   cfg.Cleanup.RunOnStart,
	}, log, service.StandardSweeps(service.SweepIntervals{
		Blacklist:         cfg.Cleanup.BlacklistInterval,
		PasswordReset:     cfg.Cleanup.ResetTokenInterval,
		EmailVerification: cfg.Cleanup.VerifyTokenInterval,
		Sessions:          cfg.Cleanup.SessionInterval,
	}, blacklist, tokens, sessions)...)

	var sender mailer.Sender = mailer.LogSender{Log: log.Named("mail")}
	if cfg.Mail.ResendAPIKey != "" {
		sender = mailer.NewResendSender(cfg.Mail.ResendAPIKey, cfg.Mail.FromEmail)
	}
	consumer := queue.NewConsumer(cfg.RabbitURL, cfg.Mail.Queue, &mailer.Dispatcher{Sender: sender, AppURL: cfg.Mail.AppURL}, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if e.IPExtractor, err = middleware.IPExtractor(cfg.TrustProxy, cfg.TrustedProxies); err != nil {
		return err
	}
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	guard := middleware.RequestGuard(access, blacklist, cfg.RequestTimeout)
	router.RegisterRoutes(e, db)
	router.RegisterAuth(e,
		handler.NewAuthHandler(cfg, issuer, log),
		handler.NewSessionHandler(cfg, sessions, log),
		guard,
		middleware.RateLimit(cfg.RateLimit, rdb, log),
	)
	router.RegisterAdmin(e, handler.NewAdminHandler(scheduler, log), guard)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Cleanup.Enabled {
		scheduler.Start(gctx)
	} else {
		log.Info("cleanup scheduler disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
