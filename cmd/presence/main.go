package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/order-dispatch/internal/config"
	"github.com/example/order-dispatch/internal/logging"
	"github.com/example/order-dispatch/internal/presence"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_messages_consumed_total",
		Help: "Total driver presence messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_messages_invalid_total",
		Help: "Total invalid presence messages received",
	})
	metaUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_meta_updates_total",
		Help: "Total successful driver meta updates",
	})
	metaErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_meta_errors_total",
		Help: "Total driver meta update failures",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, metaUpdates, metaErrors)
}

// presenceMessage is the wire form published by the driver mobile backend.
type presenceMessage struct {
	DriverID          string `json:"driverId"`
	ActivePoints      int    `json:"activePoints"`
	CurrentOrderCount int    `json:"currentOrderCount"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadPresenceConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	store := presence.NewStore(rc)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("presence consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down presence consumer")
				return
			}
			logger.Error("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var msg presenceMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil || msg.DriverID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid presence message", "error", err)
			continue
		}

		if err := updateMetaWithRetry(ctx, store, msg, cfg.RetryAttempts, cfg.RetryDelay); err != nil {
			metaErrors.Inc()
			logger.Error("driver meta update failed", "driver", msg.DriverID, "error", err)
			continue
		}
		metaUpdates.Inc()
	}
}

// MetaUpdater is the subset of the presence store the consumer writes through.
type MetaUpdater interface {
	SetDriverMeta(ctx context.Context, driverID string, meta presence.Meta) error
}

// updateMetaWithRetry writes driver metadata with bounded retry and
// exponential backoff between attempts.
func updateMetaWithRetry(ctx context.Context, store MetaUpdater, msg presenceMessage, attempts int, delay time.Duration) error {
	meta := presence.Meta{ActivePoints: msg.ActivePoints, CurrentOrderCount: msg.CurrentOrderCount}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.SetDriverMeta(ctx, msg.DriverID, meta); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
