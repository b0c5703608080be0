package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"vod-validator/config"
	"vod-validator/constant"
	jobHandler "vod-validator/handler"
	"vod-validator/pkg/rabbitmq"
	"vod-validator/pkg/ratelimit"
	"vod-validator/pkg/token"
	"vod-validator/repository"
	"vod-validator/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	production := cfg.App.Environment == constant.EnvironmentProduction.String()
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", production).Send()
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	}

	repo := repository.NewRepo(cfg.DB)
	limiter := ratelimit.New(ratelimit.Config{
		Window:      cfg.Pipeline.HostWindow,
		MaxRequests: cfg.Pipeline.HostWindowMax,
	})
	mirror := service.NewMirrorStore(cfg.Storage, cfg.MinIOBucket)
	validator := service.NewValidator(cfg.Pipeline, limiter, mirror)
	publisher := rabbitmq.NewPublisher(ctx, conn)
	notifier := service.NewNotifier(repo, publisher)
	registry := service.NewRegistry()
	engine := service.NewJobEngine(ctx, repo, validator, notifier, registry, cfg.Pipeline)

	signer := token.NewSigner(cfg.Pipeline.TokenSecret, cfg.Pipeline.TokenTTL)
	playlist := service.NewPlaylistService(signer, cfg.App, cfg.Pipeline)
	proxy := service.NewProxyService(repo, signer, mirror, limiter, validator.HTTPClient(), cfg.Pipeline)

	serviceDeps := jobHandler.ServiceDependencies{
		Engine:     engine,
		Playlist:   playlist,
		Proxy:      proxy,
		Repo:       repo,
		Production: production,
	}

	// Resume a job interrupted by the previous process, if any.
	engine.Recover(ctx)

	// Revalidation requests arrive over the queue as well as HTTP.
	if conn != nil {
		revalidateConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, jobHandler.RevalidateHandler)
		go func() {
			err := revalidateConsumer.Consume(ctx, serviceDeps)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("revalidate consumer error")
			}
		}()
	}

	startPeriodicScan(ctx, engine, cfg.Pipeline.ScanInterval)

	r := gin.Default()
	baseLogger := zerolog.Ctx(ctx)
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(baseLogger.WithContext(c.Request.Context()))
		c.Next()
	})
	addHealth(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	jobHandler.RegisterRoutes(r, serviceDeps)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := handler.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// startPeriodicScan kicks off a full-catalog validation run on a fixed
// interval. Runs already in progress win: the engine rejects the start and
// the tick is skipped.
func startPeriodicScan(ctx context.Context, engine *service.JobEngine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				jobId, err := engine.Start(ctx, false)
				if errors.Is(err, service.ErrJobAlreadyRunning) {
					zerolog.Ctx(ctx).Debug().Msg("periodic scan skipped, job already running")
					continue
				}
				if err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Msg("periodic scan failed to start")
					continue
				}
				zerolog.Ctx(ctx).Info().Str("job_id", jobId).Msg("periodic scan started")
			case <-ctx.Done():
				return
			}
		}
	}()
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
