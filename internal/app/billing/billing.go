// Package billing собирает приложение биллинга: HTTP API, gRPC-проверку здоровья
// и потребителя подтверждений платежей из RabbitMQ.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/coin-billing/internal/config"
	"github.com/magabrotheeeer/coin-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/coin-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/coin-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coin-billing/internal/migrations"
	"github.com/magabrotheeeer/coin-billing/internal/pricing"
	"github.com/magabrotheeeer/coin-billing/internal/rabbitmq"
	"github.com/magabrotheeeer/coin-billing/internal/services/credit"
	"github.com/magabrotheeeer/coin-billing/internal/services/idempotency"
	"github.com/magabrotheeeer/coin-billing/internal/services/ledger"
	"github.com/magabrotheeeer/coin-billing/internal/services/spend"
	"github.com/magabrotheeeer/coin-billing/internal/services/subscription"
	"github.com/magabrotheeeer/coin-billing/internal/services/wallet"
	"github.com/magabrotheeeer/coin-billing/internal/storage/repository"
)

const (
	shutdownTimeout     = 15 * time.Second
	healthCheckInterval = 10 * time.Second
)

// App — приложение биллинга.
type App struct {
	server     *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	db         *repository.Storage
	conn       *amqp.Connection
	ch         *amqp.Channel
	credit     *credit.Service
	cfg        *config.Config
	logger     *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		if err := db.CheckDatabaseReady(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New создаёт приложение: подключается к базе, применяет миграции,
// загружает прайс и собирает сервисы.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("invalid config: %w", jwt.ErrEmptySecret)
	}
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err = waitForDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	prices, err := pricing.Load(cfg.PricingPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load price table: %w", err)
	}
	logger.Info("price table loaded", slog.String("version", prices.Version()))

	recorder := ledger.NewRecorder(db, logger)
	wallets := wallet.NewService(db, recorder, logger).WithOperators(cfg.OperatorIDs()...)
	plans := subscription.NewManager(db, wallets, prices, logger)
	creditService := credit.NewService(db, idempotency.New(db, logger), prices, wallets, plans, logger)
	spendService := spend.NewService(prices, wallets, logger)
	tokens := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL).WithServiceTTL(cfg.ServiceTokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Handlers{
		Spend:         spendService,
		Wallets:       wallets,
		Ledger:        recorder,
		Credit:        creditService,
		Prices:        prices,
		Health:        db,
		Operators:     cfg,
		Tokens:        tokens,
		ChargeLimiter: middlewarectx.NewKeyedLimiter(cfg.ChargesPerSecond, cfg.ChargesBurst),
		WebhookSecret: cfg.WebhookSecret,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	lis, err := net.Listen("tcp", cfg.AddressGRPC)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to listen grpc: %w", err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	app := &App{
		server:     srv,
		grpcServer: grpcServer,
		health:     healthServer,
		listener:   lis,
		db:         db,
		credit:     creditService,
		cfg:        cfg,
		logger:     logger,
	}

	if cfg.RabbitMQURL == "" {
		logger.Warn("rabbitmq url is empty, payment queue consumer disabled")
		return app, nil
	}
	app.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	app.ch, err = rabbitmq.SetupChannel(app.conn, cfg.ConsumerWorkers,
		rabbitmq.BillingQueues(cfg.PaymentsQueue, cfg.NotificationsExchange))
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	return app, nil
}

// Run запускает HTTP-сервер, gRPC-сервер и потребителя платежей и ждёт отмены ctx.
// Ошибка любого из них останавливает остальные.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})

	g.Go(func() error {
		a.logger.Info("gRPC health server listening on", slog.String("address", a.listener.Addr().String()))
		if err := a.grpcServer.Serve(a.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.watchHealth(gctx)
		a.health.Shutdown()
		a.grpcServer.GracefulStop()
		return nil
	})

	if a.ch != nil {
		g.Go(func() error {
			return rabbitmq.ConsumerMessage(gctx, a.ch, a.cfg.PaymentsQueue, a.cfg.ConsumerWorkers,
				a.logger, rabbitmq.PaymentHandler(a.credit, a.logger))
		})
	}

	return g.Wait()
}

// watchHealth выставляет статус gRPC health по доступности базы до отмены ctx.
func (a *App) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if err := a.db.CheckDatabaseReady(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("database health check failed", sl.Err(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		a.health.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.listener != nil {
		_ = a.listener.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
