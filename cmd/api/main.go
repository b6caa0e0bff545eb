package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/takoyadon/loyalty-ledger/internal/config"
	"github.com/takoyadon/loyalty-ledger/internal/events"
	"github.com/takoyadon/loyalty-ledger/internal/handlers"
	"github.com/takoyadon/loyalty-ledger/internal/ledger"
	"github.com/takoyadon/loyalty-ledger/internal/notifier"
	"github.com/takoyadon/loyalty-ledger/internal/queue"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	"github.com/takoyadon/loyalty-ledger/internal/services"
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

type natsPinger struct{ nc *nats.Conn }

func (p natsPinger) Ping(context.Context) error {
	if !p.nc.IsConnected() {
		return errors.New("nats status " + p.nc.Status().String())
	}
	return nil
}

func main() {
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	if err := logger.Setup("ledger-api", version); err != nil {
		logger.Error("failed to set up logger", "error", err)
		return
	}
	logger.Info("starting ledger api", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	checks := map[string]services.Pinger{"postgres": db}

	// redis is optional: without it the guard reads the store and
	// notifications go straight to the inbox
	var (
		cache  redis.RedisAdapter
		outbox *queue.Queue
	)
	if cfg.RedisAddr != "" {
		adapter, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.Redis("ledger-api"))
		if err != nil {
			logger.Error("failed connecting to redis", "error", err)
			return
		}
		defer adapter.Close()
		cache = adapter
		checks["redis"] = adapter

		outbox, err = queue.NewQueue(ctx, adapter, cfg.Queue())
		if err != nil {
			logger.Error("failed creating notification queue", "error", err)
			return
		}
	}

	var opts []ledger.Option
	nc, err := events.Connect(cfg.NatsURL, cfg.AppName)
	if err != nil {
		logger.Error("failed connecting to nats", "error", err)
		return
	}
	if nc != nil {
		defer nc.Drain()
		opts = append(opts, ledger.WithPublisher(events.NewPublisher(nc, cfg.NatsSubject)))
		checks["nats"] = natsPinger{nc: nc}
	}

	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db, repository.RetryPolicy{
		MaxRetries: cfg.LedgerMaxRetries,
		BaseDelay:  cfg.LedgerRetryBaseDelay,
	})
	notificationRepo := repository.NewNotificationRepository(db)

	executor := ledger.NewExecutor(ledgerRepo, ledger.NewGuard(ledgerRepo, cache, cfg.LedgerGuardCacheTTL), opts...)

	var dispatcher *notifier.Dispatcher
	if outbox != nil {
		dispatcher = notifier.NewDispatcher(notifier.NewOutboxSink(outbox))
	} else {
		dispatcher = notifier.NewDispatcher(notifier.NewInboxSink(notificationRepo))
	}
	dispatcher.StartAsync(ctx, 1024, 4)
	defer dispatcher.Close()

	// services
	loyaltyService := services.NewLoyaltyService(services.LoyaltyDeps{
		Executor:      executor,
		Notifier:      dispatcher,
		Accounts:      accountRepo,
		Ledger:        ledgerRepo,
		Rewards:       repository.NewRewardRepository(db),
		Activities:    repository.NewActivityRepository(db),
		Rules:         repository.NewActivityRuleRepository(db),
		Referrals:     repository.NewReferralRepository(db),
		Notifications: notificationRepo,
	}, cfg.ReferralPoints)
	accountService := services.NewAccountService(accountRepo)
	healthService := services.NewHealthService(checks)

	// transport
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = cfg.HttpServerReadBufferSize
	s.Server.WriteBufferSize = cfg.HttpServerWriteBufferSize
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RateLimitMiddleware(cfg.HttpRateLimitRPS, cfg.HttpRateLimitBurst))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(xhttp.CompressMiddleware(6))
	s.Router = xhttp.CreateDefaultRouter()

	handlers.RegisterHealthRoutes(s.Router, handlers.NewHealthHandler(healthService))
	g := s.Router.Group("/api/v1")
	handlers.RegisterAccountRoutes(g, handlers.NewAccountHandler(accountService))
	handlers.RegisterLoyaltyRoutes(g, handlers.NewLoyaltyHandler(loyaltyService))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.ListenAndServe(cfg.HttpListenAddr)
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.Shutdown()
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Error("error in running http-server", "error", err)
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
