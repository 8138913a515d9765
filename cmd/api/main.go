package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/remitops/internal/api"
	"github.com/punchamoorthee/remitops/internal/config"
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/logging"
	"github.com/punchamoorthee/remitops/internal/notify"
	"github.com/punchamoorthee/remitops/internal/payout"
	"github.com/punchamoorthee/remitops/internal/ratelimit"
	"github.com/punchamoorthee/remitops/internal/rates"
	"github.com/punchamoorthee/remitops/internal/service"
	"github.com/punchamoorthee/remitops/internal/store"
	"github.com/punchamoorthee/remitops/internal/store/postgres"
	"github.com/punchamoorthee/remitops/internal/store/sqlite"
	"github.com/punchamoorthee/remitops/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == "sqlite" {
		return sqlite.Open(cfg.DBSource)
	}
	pg, err := postgres.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	return pg, nil
}

func rateProvider(cfg *config.Config) (rates.Provider, error) {
	if cfg.RateUpstreamURL == "" {
		return rates.ParseStaticRates(cfg.StaticRates)
	}
	upstream := rates.NewHTTPProvider(cfg.RateUpstreamURL, cfg.RateUpstreamTimeout)
	return rates.NewBreakerProvider("rate-upstream", upstream, cfg.BreakerFailures, cfg.BreakerOpenTimeout), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// 1. Storage
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("unable to open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close()
	if cfg.SeedCatalog {
		if err := st.SeedCatalog(ctx, store.DefaultAssets(), store.DefaultRoutes()); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	// 2. Rate limiting
	var limiter ratelimit.Limiter = ratelimit.NewStoreLimiter(st, time.Now)
	if cfg.RateLimitBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		limiter = ratelimit.NewRedisLimiter(rdb, time.Now)
	}

	// 3. Rates
	provider, err := rateProvider(cfg)
	if err != nil {
		return fmt.Errorf("rate provider: %w", err)
	}

	// 4. Notifications
	deps := service.Deps{
		Store:   st,
		Rates:   rates.NewOracle(provider, cfg.RateCacheTTL),
		Limiter: limiter,
		Payouts: payout.SimulatedRegistry(cfg.PayoutSuccessPct),
		Logger:  logger,
	}
	if cfg.AMQPURL != "" {
		conn, ch, err := notify.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		defer conn.Close()
		defer ch.Close()
		publisher := notify.NewAMQPPublisher(ch, cfg.AMQPExchange)
		deps.Notifier, deps.Alerter = publisher, publisher
	}

	svc := service.New(service.Config{
		QuoteTTL:      cfg.QuoteTTL,
		MinSendAmount: cfg.MinSendAmount,
		DefaultMargin: domain.MarginModel{
			FXMarginPct: cfg.DefaultFXMarginPct,
			FeeFixed:    cfg.DefaultFeeFixed,
			FeePct:      cfg.DefaultFeePct,
		},
		Limits: map[string]service.Rule{
			service.ActionQuote:      {Limit: cfg.QuoteLimit, Window: cfg.RateLimitWindow},
			service.ActionRecommend:  {Limit: cfg.RecommendLimit, Window: cfg.RateLimitWindow},
			service.ActionTransfer:   {Limit: cfg.TransferLimit, Window: cfg.RateLimitWindow},
			service.ActionTransition: {Limit: cfg.TransitionLimit, Window: cfg.RateLimitWindow},
		},
		ReferenceAttempts: cfg.ReferenceAttempts,
		AutoExecute:       cfg.AutoExecute,
		SideEffectTimeout: cfg.SideEffectTimeout,
	}, deps)

	// 5. HTTP
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewHandler(svc, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	svc.Wait()
	return nil
}
