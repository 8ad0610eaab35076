package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/order-dispatch/internal/assignment"
	"github.com/example/order-dispatch/internal/auth"
	"github.com/example/order-dispatch/internal/bus"
	"github.com/example/order-dispatch/internal/config"
	"github.com/example/order-dispatch/internal/finance"
	"github.com/example/order-dispatch/internal/gateway"
	"github.com/example/order-dispatch/internal/ingest"
	"github.com/example/order-dispatch/internal/lifecycle"
	"github.com/example/order-dispatch/internal/lock"
	"github.com/example/order-dispatch/internal/logging"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/payments"
	"github.com/example/order-dispatch/internal/presence"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/rooms"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting order-dispatch server", "node", cfg.NodeID, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	var locks lock.Lock
	if redisClient != nil {
		locks = lock.NewRedisLock(redisClient)
	} else {
		logger.Warn("REDIS_ADDR unset, using in-process locks; multi-node invariants are not enforced")
		locks = lock.NewMemoryLock()
	}

	roomHub := rooms.New(cfg.NodeID, redisClient, logging.Component(logger, "rooms"))
	go roomHub.Run(ctx)

	reg := registry.New(cfg.NodeID, locks, roomHub, redisClient, logging.Component(logger, "registry"))
	reg.SetRetryPolicy(cfg.AdmitAttempts, cfg.AdmitRetryDelay)

	var (
		orders   storage.OrderRepository
		profiles storage.ProfileStore
	)
	if cfg.PGDSN != "" {
		store, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		if cfg.RunMigrations {
			runMigrations(logger, cfg.PGDSN)
		}
		orders, profiles = store, store
	} else {
		logger.Warn("PG_DSN unset, using in-memory order store")
		mem := storage.NewMemoryStore()
		orders, profiles = mem, mem
	}

	var rules assignment.FinanceRuleProvider
	if cfg.PGDSN != "" {
		pgRules, err := finance.NewPostgresRules(cfg.PGDSN)
		if err != nil {
			logger.Error("wage rule store open failed", "error", err)
			os.Exit(1)
		}
		defer pgRules.Close()
		rules = pgRules
	} else {
		rules = finance.DefaultStaticRules()
	}

	eventBus := bus.New(logging.Component(logger, "bus"))
	assigner := assignment.NewService(rules, logging.Component(logger, "assignment"))
	machine := lifecycle.NewMachine(orders)

	wf := workflow.NewService(orders, machine, assigner, eventBus, logging.Component(logger, "workflow"))
	var presenceStore *presence.Store
	if redisClient != nil {
		presenceStore = presence.NewStore(redisClient)
		wf.Presence = presenceMetaAdapter{store: presenceStore}
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewOrderEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		wf.Events = producer
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		wf.Payouts = payments.NewWagePayouts(cfg.StripeCurrency)
	}

	dispatcher := notify.NewDispatcher(locks, roomHub, profiles, logging.Component(logger, "notify"))

	srv := gateway.NewServer(reg, roomHub, wf, dispatcher, eventBus, auth.NewJWTVerifier(cfg.JWTSecret), logging.Component(logger, "gateway"))
	if presenceStore != nil {
		srv.Presence = presenceStore
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	srv.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// presenceMetaAdapter narrows the redis presence store to the candidate
// enrichment reads the workflow performs.
type presenceMetaAdapter struct {
	store *presence.Store
}

func (a presenceMetaAdapter) DriverMeta(ctx context.Context, driverID string) (int, int, error) {
	meta, err := a.store.DriverMeta(ctx, driverID)
	if err != nil {
		return 0, 0, err
	}
	return meta.ActivePoints, meta.CurrentOrderCount, nil
}

func runMigrations(logger *slog.Logger, dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_orders.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_orders.sql")
}
