package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	appInventory "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/inventory"
	appOrder "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/relay"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/config"
	dominv "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-fulfillment/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-fulfillment/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type stores struct {
	orders    domorder.Repository
	inventory dominv.Repository
	pinger    httppresentation.Pinger
	close     func()
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		zap.NewExample().Fatal("config_load_failed", zap.Error(err))
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.Service.Name,
		Env:     cfg.Service.Env,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters, histograms := infraobs.Instruments(prometrics.New("", "", reg))
	logger := zaplogger.New(baseLogger)
	tel := infraobs.New(oteltrace.New("minishop"), logger, counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		systemLogger.Fatal("store_open_failed", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer st.close()
	systemLogger.Info("store_ready", zap.String("driver", cfg.Store.Driver))

	inventoryService := appInventory.NewService(st.inventory, cfg.Store.Timeout)
	// Seeding only fills products with no stock row; restarts keep live stock.
	created := 0
	for productID, available := range cfg.Inventory.Seed {
		ok, err := inventoryService.Seed(ctx, productID, available)
		if err != nil {
			systemLogger.Fatal("inventory_seed_failed", zap.String("product_id", productID), zap.Error(err))
		}
		if ok {
			created++
		}
	}
	if n := len(cfg.Inventory.Seed); n > 0 {
		systemLogger.Info("inventory_seeded",
			zap.Int("created", created),
			zap.Int("kept", n-created),
		)
	}

	// In-process event bus; the relay forwards selected events to Kafka.
	bus := outbox.NewBus(logger)
	bus.Start(context.Background())

	var kafkaPublisher *kafka.Publisher
	if client := kafka.NewClient(cfg.Kafka.Brokers); client.Enabled() {
		kafkaPublisher = kafka.NewPublisher(client.NewWriter(cfg.Kafka.Topic))
		relay.New(kafkaPublisher, cfg.Store.Timeout, tel).
			Start(bus, workerpresentation.EventMiddleware(logger, "relay"))
		systemLogger.Info("kafka_relay_enabled",
			zap.Strings("brokers", client.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	ledger := appOrder.NewConfirmPaymentUseCase(st.orders, appOrder.LedgerOptions{
		MaxAttempts:  cfg.Ledger.MaxAttempts,
		StoreTimeout: cfg.Store.Timeout,
	}, tel)
	adjuster := appInventory.NewDecrementStockUseCase(st.inventory, bus, cfg.Store.Timeout, tel)
	callbacks := fulfillment.NewConfirmCallbackUseCase(
		payment.NewVerifier(cfg.Payment.Secret),
		ledger,
		adjuster,
		st.orders,
		bus,
		cfg.Store.Timeout,
		tel,
	)

	handler := httppresentation.NewHandler(httppresentation.Services{
		Callbacks:   callbacks,
		CreateOrder: appOrder.NewCreateOrderUseCase(st.orders, id.NewUUIDGenerator(), cfg.Store.Timeout, tel),
		Orders:      appOrder.NewService(st.orders, cfg.Store.Timeout),
		Inventory:   inventoryService,
		Store:       st.pinger,
	}, tel).WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}

	// Drain queued events before the relay's writer goes away.
	bus.Stop(shutdownCtx)
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			systemLogger.Warn("kafka_close_error", zap.Error(err))
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.Timeout)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return &stores{orders: pg.Orders(), inventory: pg.Inventory(), pinger: pg, close: pg.Close}, nil
	default:
		orders := memory.NewOrderRepository()
		return &stores{
			orders:    orders,
			inventory: memory.NewInventoryRepository(),
			pinger:    orders,
			close:     func() {},
		}, nil
	}
}
