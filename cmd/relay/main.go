package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/takoyadon/loyalty-ledger/internal/config"
	gateway "github.com/takoyadon/loyalty-ledger/internal/gateways"
	"github.com/takoyadon/loyalty-ledger/internal/processor"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	xhttp "github.com/takoyadon/loyalty-ledger/pkg/http"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
	"github.com/takoyadon/loyalty-ledger/pkg/redis"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	if err := logger.Setup("ledger-relay", version); err != nil {
		logger.Error("failed to set up logger", "error", err)
		return
	}
	logger.Info("starting notification relay", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.Redis("ledger-relay"))
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	// without a mail provider the relay only fills the inbox
	var mailer processor.Mailer
	if cfg.MailBaseUrl != "" {
		client, err := gateway.NewClient(&gateway.Config{
			BaseURLs:                gateway.SplitURLs(cfg.MailBaseUrl),
			APIKey:                  cfg.MailApiKey,
			Sender:                  cfg.MailSender,
			Timeout:                 cfg.MailTimeout,
			MaxRetries:              3,
			RetryDelay:              time.Millisecond * 200,
			MaxConns:                256,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   60 * time.Second,
			EvaluateInterval:        30 * time.Second,
		})
		if err != nil {
			logger.Error("failed to create mail gateway", "error", err)
			return
		}
		defer client.Close()
		mailer = client
	} else {
		logger.Warn("MAIL_BASE_URL is empty, emails are disabled")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())
	notificationProcessor := processor.NewNotificationProcessor(repository.NewNotificationRepository(db), mailer, idempotencyService)

	service := processor.NewRelayService(redisAdap, notificationProcessor, processor.RelayConfig{
		Queue:     cfg.Queue(),
		Consumers: cfg.QueueConsumers,
		Workers:   cfg.RelayWorkers,
	})
	if err = service.Start(ctx); err != nil {
		logger.Error("failed to start relay", "error", err)
		return
	}

	metrics := xhttp.CreateServer()
	metrics.GET("/metrics", prom.Handler())

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return metrics.ListenAndServe(cfg.RelayMetricsAddr)
	})
	eg.Go(func() error {
		<-ctx.Done()
		service.Stop()
		metrics.Shutdown()
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Error("relay stopped with error", "error", err)
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
