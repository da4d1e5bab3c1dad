// README: Entry point; loads config, wires services, starts HTTP server and background loops.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"movebid/internal/config"
	httptransport "movebid/internal/http"
	"movebid/internal/infra"
	"movebid/internal/modules/bid"
	"movebid/internal/modules/binding"
	"movebid/internal/modules/events"
	"movebid/internal/modules/negotiation"
	"movebid/internal/modules/pricing"
	"movebid/internal/modules/quotation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("movebid-api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	var dbPool *pgxpool.Pool
	if cfg.Storage.Driver == "postgres" {
		if dbPool, err = infra.NewDB(ctx, cfg.DB.DSN); err != nil {
			return err
		}
		defer dbPool.Close()
	}
	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	var store bid.Store
	var rates pricing.RateSource
	switch cfg.Storage.Driver {
	case "postgres":
		store = bid.NewSQLStore(dbPool)
		ttl := time.Duration(cfg.Pricing.RateCacheTTLSeconds) * time.Second
		rates = pricing.NewCachedSource(redisClient, pricing.NewStore(dbPool), ttl, logger.Named("rates"))
	default:
		store = bid.NewMemoryStore()
		mem := pricing.NewMemorySource()
		if cfg.Storage.SeedFile != "" {
			if err := pricing.LoadSeedFile(cfg.Storage.SeedFile, mem); err != nil {
				return err
			}
		}
		rates = mem
	}

	calendar, err := pricing.NewCalendar(cfg.Pricing.PeakWindows, cfg.Pricing.Holidays, cfg.Pricing.TimeZone)
	if err != nil {
		return err
	}
	pricingSvc := pricing.NewService(rates, calendar)
	bindingSvc := binding.NewService(store, logger.Named("binding"))
	quotationSvc := quotation.NewService(store, bindingSvc, pricingSvc, quotation.Config{
		TTL:      cfg.Negotiation.QuotationTTL(),
		Currency: cfg.Pricing.Currency,
	}, logger.Named("quotation"))
	negotiationSvc := negotiation.NewService(store, bindingSvc, negotiation.Config{
		CounterOfferTTL: cfg.Negotiation.CounterOfferTTL(),
		SweepBatchSize:  cfg.Negotiation.SweepBatchSize,
	}, logger.Named("negotiation"))

	publisher, closePublisher := newPublisher(ctx, cfg, redisClient, logger)
	defer closePublisher()
	relay := events.NewRelay(store, publisher,
		time.Duration(cfg.Events.RelayIntervalMs)*time.Millisecond, cfg.Events.RelayBatchSize, logger.Named("relay"))
	sweeper := negotiation.NewSweeper(negotiationSvc, cfg.Negotiation.SweepInterval(), logger.Named("sweeper"))

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Pricing:     pricingSvc,
		Quotations:  quotationSvc,
		Negotiation: negotiationSvc,
		Binding:     bindingSvc,
		Verifier:    verifier,
		Log:         logger.Named("http"),
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes(), ReadHeaderTimeout: 10 * time.Second}

	go relay.Run(ctx)
	go sweeper.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("movebid-api listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Sink),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == "jwt" {
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	}
	if cfg.Firebase.ProjectID == "" {
		return nil, errors.New("MOVEBID_FIREBASE_PROJECT_ID is required when auth.mode=firebase")
	}
	return infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
}

// newPublisher builds the configured event sink. The in-process channel sink logs what it
// receives so local runs can watch status changes.
func newPublisher(ctx context.Context, cfg config.Config, rdb *redis.Client, logger *zap.Logger) (events.Publisher, func()) {
	switch cfg.Events.Sink {
	case "kafka":
		w := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		return events.NewKafkaPublisher(w), func() { _ = w.Close() }
	case "redis":
		return events.NewRedisPublisher(rdb, cfg.Redis.EventsChannel), func() {}
	}

	broker := events.NewBroker()
	ch, unsubscribe := broker.Subscribe(64)
	sinkLog := logger.Named("events")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				sinkLog.Info("status changed",
					zap.String("event_id", string(ev.ID)),
					zap.String("type", string(ev.Type)),
					zap.String("quotation_id", string(ev.QuotationID)),
					zap.String("status", ev.Status),
				)
			}
		}
	}()
	return broker, unsubscribe
}
