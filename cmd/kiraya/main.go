package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"kiraya/internal/app/commands"
	bookingapp "kiraya/internal/app/handlers/booking"
	paymentapp "kiraya/internal/app/handlers/payment"
	pricingapp "kiraya/internal/app/handlers/pricing"
	"kiraya/internal/app/middleware"
	appoutbox "kiraya/internal/app/outbox"
	"kiraya/internal/app/policies"
	"kiraya/internal/app/queries"
	"kiraya/internal/app/recon"
	"kiraya/internal/app/uow"
	domainlisting "kiraya/internal/domain/listing"
	domainpayment "kiraya/internal/domain/payment"
	domainpricing "kiraya/internal/domain/pricing"
	"kiraya/internal/domain/shared/money"
	"kiraya/internal/infra/broker/kafka"
	"kiraya/internal/infra/config"
	infradb "kiraya/internal/infra/db/mongo"
	infragateway "kiraya/internal/infra/gateway"
	ginserver "kiraya/internal/infra/http/gin"
	"kiraya/internal/infra/obs"
	infraoutbox "kiraya/internal/infra/outbox"
	"kiraya/internal/infra/storage/memory"
	infraredis "kiraya/internal/infra/storage/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	app, err := buildApplication(cfg, logger)
	if err != nil {
		logger.Error("wiring failed", "error", err)
		os.Exit(1)
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.metrics, app.handlers)

	if app.properties != nil {
		path := getenv("PROPERTY_FIXTURES", filepath.Join("data", "properties.json"))
		if err := loadPropertyFixtures(ctx, app.properties, path, logger); err != nil {
			logger.Warn("property fixtures load failed", "error", err, "path", path)
		}
	}

	for _, bg := range app.background {
		go bg(ctx)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		app.close(logger)
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers   ginserver.Handlers
	metrics    *obs.Metrics
	properties domainlisting.Repository
	background []func(context.Context)
	closers    []func() error
	ready      func() error
}

func buildApplication(cfg config.Config, logger *slog.Logger) (application, error) {
	app := application{
		metrics: obs.NewMetrics(),
		ready:   func() error { return nil },
	}

	mobileMoney, err := infragateway.NewMobileMoney(infragateway.MobileMoneyConfig{
		BaseURL:       cfg.MobileMoneyBaseURL,
		SecretKey:     cfg.MobileMoneySecretKey,
		WebhookSecret: cfg.MobileMoneyWebhookSecret,
		ReturnURL:     cfg.MobileMoneyReturnURL,
		Timeout:       cfg.GatewayTimeout,
		AllowUnsigned: cfg.MobileMoneyWebhookSecret == "" && !cfg.IsProd(),
	}, cfg.Env)
	if err != nil {
		return application{}, fmt.Errorf("mobile money gateway: %w", err)
	}
	adapters := map[domainpayment.Method]policies.GatewayAdapter{
		domainpayment.MethodMobileMoney: mobileMoney,
	}

	var card *infragateway.Card
	if cfg.CardSecretKey != "" {
		card, err = infragateway.NewCard(infragateway.CardConfig{
			BaseURL:        cfg.CardBaseURL,
			SecretKey:      cfg.CardSecretKey,
			WebhookSecret:  cfg.CardWebhookSecret,
			Timeout:        cfg.GatewayTimeout,
			EventTolerance: cfg.CardEventTolerance,
		})
		if err != nil {
			return application{}, fmt.Errorf("card gateway: %w", err)
		}
		adapters[domainpayment.MethodCard] = card
	}

	defaultMethod := domainpayment.MethodMobileMoney
	if m, ok := domainpayment.ParseMethod(cfg.DefaultGateway); ok {
		defaultMethod = m
	}
	resolver := policies.StaticResolver{Adapters: adapters, Default: defaultMethod}

	calculator := domainpricing.Calculator{
		FeeRate:        cfg.ServiceFeeRate,
		MinLeaseMonths: cfg.MinLeaseMonths,
	}

	var (
		factory     uow.Factory
		handlerBox  appoutbox.Outbox
		idempotency middleware.IdempotencyStore
	)

	switch cfg.StorageMode {
	case "mongo":
		client, err := infradb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return application{}, fmt.Errorf("mongo connect: %w", err)
		}
		store := infraoutbox.NewStore(client.DB)
		propertyRepo := infradb.NewPropertyRepository(client.DB)
		factory = infradb.Factory{
			DB:           client.DB,
			PropertyRepo: propertyRepo,
			BookingRepo:  infradb.NewBookingRepository(client.DB),
			PaymentRepo:  infradb.NewPaymentRepository(client.DB),
			OutboxStore:  store,
		}
		handlerBox = store
		idempotency = infradb.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL)
		app.properties = propertyRepo
		app.ready = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(ctx)
		}

		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return application{}, fmt.Errorf("kafka producer: %w", err)
		}
		app.closers = append(app.closers, producer.Close)
		worker := &infraoutbox.Worker{
			Store:       store,
			Producer:    countingProducer{next: producer, metrics: app.metrics},
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
		}
		app.background = append(app.background, func(ctx context.Context) {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		})
	case "memory":
		propertyRepo := memory.NewPropertyRepository()
		sink := memory.NewOutbox()
		factory = memory.Factory{
			PropertyRepo: propertyRepo,
			BookingRepo:  memory.NewBookingRepository(),
			PaymentRepo:  memory.NewPaymentRepository(),
			Sink:         sink,
		}
		handlerBox = sink
		idempotency = memory.NewIdempotencyStore()
		app.properties = propertyRepo
		app.background = append(app.background, drainLoop(sink, cfg.OutboxPollInterval, app.metrics, logger))
	default:
		return application{}, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}

	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		idempotency = infraredis.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
		app.closers = append(app.closers, redisClient.Close)
	}

	audit := policies.NopAudit{}
	coordinator := recon.NewCoordinator(factory, resolver, audit, logger)

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler(commandBus, bookingapp.RequestBookingCommand{}.Key(), &bookingapp.RequestBookingHandler{
		UoWFactory: factory,
		Pricing:    calculator,
		Outbox:     handlerBox,
		Audit:      audit,
		Logger:     logger,
	})
	transitions := &bookingapp.TransitionHandler{
		Outbox: handlerBox,
		Audit:  audit,
		Logger: logger,
	}
	commands.RegisterHandler(commandBus, bookingapp.ApproveBookingCommand{}.Key(), bookingapp.ApproveBookingHandler{TransitionHandler: transitions})
	commands.RegisterHandler(commandBus, bookingapp.RejectBookingCommand{}.Key(), bookingapp.RejectBookingHandler{TransitionHandler: transitions})
	commands.RegisterHandler(commandBus, bookingapp.CancelBookingCommand{}.Key(), bookingapp.CancelBookingHandler{TransitionHandler: transitions})
	commands.RegisterHandler(commandBus, bookingapp.CompleteBookingCommand{}.Key(), bookingapp.CompleteBookingHandler{TransitionHandler: transitions})
	commands.RegisterHandler(commandBus, paymentapp.InitiatePaymentCommand{}.Key(), &paymentapp.InitiatePaymentHandler{
		UoWFactory: factory,
		Gateways:   resolver,
		Pricing:    calculator,
		Audit:      audit,
		Logger:     logger,
	})
	commands.RegisterHandler(commandBus, paymentapp.RefundPaymentCommand{}.Key(), &paymentapp.RefundPaymentHandler{
		Outbox: handlerBox,
		Audit:  audit,
		Logger: logger,
	})
	commands.RegisterHandler(commandBus, paymentapp.RetryPaymentCommand{}.Key(), &paymentapp.RetryPaymentHandler{
		Audit:  audit,
		Logger: logger,
	})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler(queryBus, bookingapp.GetBookingQuery{}.Key(), &bookingapp.GetBookingHandler{UoWFactory: factory})
	queries.RegisterHandler(queryBus, bookingapp.ListTenantBookingsQuery{}.Key(), &bookingapp.ListTenantBookingsHandler{UoWFactory: factory})
	queries.RegisterHandler(queryBus, bookingapp.ListOwnerBookingsQuery{}.Key(), &bookingapp.ListOwnerBookingsHandler{UoWFactory: factory})
	queries.RegisterHandler(queryBus, pricingapp.QuoteQuery{}.Key(), &pricingapp.QuoteHandler{UoWFactory: factory, Calculator: calculator})
	queries.RegisterHandler(queryBus, paymentapp.StatusQuery{}.Key(), &paymentapp.StatusHandler{
		UoWFactory:  factory,
		Coordinator: coordinator,
		Logger:      logger,
	})

	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Idempotency(idempotency, nil),
		middleware.Transaction(factory, nil),
		middleware.OutboxFlush(handlerBox),
	)
	queryBusWithMiddleware := middleware.ChainQueries(queryBus)

	app.handlers = ginserver.Handlers{
		Booking: ginserver.BookingHandler{
			Commands: commandBusWithMiddleware,
			Queries:  queryBusWithMiddleware,
			Logger:   logger,
		},
		Payment: ginserver.PaymentHandler{
			Commands: commandBusWithMiddleware,
			Queries:  queryBusWithMiddleware,
			Logger:   logger,
		},
		Pricing: ginserver.PricingHandler{
			Queries: queryBusWithMiddleware,
			Logger:  logger,
		},
		Webhook: ginserver.WebhookHandler{
			MobileMoney: mobileMoney,
			Card:        card,
			Coordinator: coordinator,
			Metrics:     app.metrics,
			Logger:      logger,
		},
	}
	return app, nil
}

func (a application) close(logger *slog.Logger) {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

// countingProducer bumps the published-events counter around the real
// producer.
type countingProducer struct {
	next    infraoutbox.Producer
	metrics *obs.Metrics
}

func (p countingProducer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if err := p.next.Publish(ctx, topic, key, payload, headers); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.Inc()
	}
	return nil
}

// drainLoop empties the in-memory outbox in dev mode, logging each event
// instead of publishing to a broker.
func drainLoop(sink *memory.Outbox, interval time.Duration, metrics *obs.Metrics, logger *slog.Logger) func(context.Context) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, rec := range sink.Drain() {
					logger.Info("domain event", "name", rec.Name, "aggregate", rec.Aggregate)
					if metrics != nil {
						metrics.EventsPublished.Inc()
					}
				}
			}
		}
	}
}

func loadPropertyFixtures(ctx context.Context, repo domainlisting.Repository, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("property fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures []propertyFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	now := time.Now().UTC()
	for _, fx := range fixtures {
		rate, err := money.New(fx.MonthlyRate, fx.Currency)
		if err != nil {
			logger.Error("fixture invalid", "property_id", fx.ID, "error", err)
			continue
		}
		p := &domainlisting.Property{
			ID:             domainlisting.PropertyID(fx.ID),
			OwnerID:        fx.OwnerID,
			Title:          fx.Title,
			City:           fx.City,
			MonthlyRate:    rate,
			MinLeaseMonths: fx.MinLeaseMonths,
			Unavailable:    fx.Unavailable,
			UpdatedAt:      now,
		}
		if err := repo.Save(ctx, p); err != nil {
			logger.Error("cannot store fixture property", "property_id", fx.ID, "error", err)
			continue
		}
		logger.Info("property fixture imported", "property_id", fx.ID)
	}
	return nil
}

type propertyFixture struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	Title          string `json:"title"`
	City           string `json:"city"`
	MonthlyRate    int64  `json:"monthly_rate"`
	Currency       string `json:"currency"`
	MinLeaseMonths int    `json:"min_lease_months"`
	Unavailable    bool   `json:"unavailable"`
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
