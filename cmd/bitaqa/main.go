package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bitaqa/internal/api"
	"bitaqa/internal/apikey"
	"bitaqa/internal/audit"
	"bitaqa/internal/config"
	"bitaqa/internal/limiter"
	"bitaqa/internal/metrics"
	"bitaqa/internal/nid"
	"bitaqa/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	setupLogging(cfg.LogLevel)
	slog.Info("bitaqa starting", "addr", cfg.ListenAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Addr = cfg.RedisAddr
	redisCfg.Password = cfg.RedisPassword

	store, err := storage.NewRedisStore(ctx, redisCfg)
	if err != nil {
		log.Fatalf("failed to initialize redis store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close counter store", "error", closeErr)
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("database not reachable: %v", err)
	}

	lim, err := limiter.New(store, limiter.Config{
		Limit:        cfg.RateLimitRequests,
		Window:       cfg.RateLimitWindow,
		StoreTimeout: cfg.RateLimitStoreTimeout,
		FailClosed:   cfg.RateLimitFailClosed,
	})
	if err != nil {
		log.Fatalf("failed to initialize limiter: %v", err)
	}

	keyStore, err := apikey.NewPostgresStore(db)
	if err != nil {
		log.Fatalf("failed to initialize key store: %v", err)
	}
	authenticator := apikey.NewAuthenticator(keyStore)

	auditLogger, err := audit.New(audit.Config{DB: db})
	if err != nil {
		log.Fatalf("failed to initialize audit logger: %v", err)
	}

	queries, err := audit.NewQueryService(db)
	if err != nil {
		log.Fatalf("failed to initialize audit queries: %v", err)
	}

	broker := api.NewStreamBroker(64)
	m := metrics.New()

	policy := nid.Strict
	if cfg.GovernorateLenient {
		policy = nid.Lenient
	}

	validateHandler := api.NewValidateHandler(
		nid.NewParser(policy),
		authenticator,
		lim,
		api.WithMetrics(m),
		api.WithTrustProxy(cfg.TrustProxy),
		api.WithAuditSink(func(e audit.Event) {
			auditLogger.Log(e)
			broker.Publish(api.StreamEvent{
				Timestamp:  e.Timestamp,
				Service:    e.Service,
				Outcome:    e.Outcome,
				ClientIP:   e.ClientIP,
				DurationMS: e.DurationMS,
			})
		}),
	)

	keysHandler := api.RequireAdminToken(cfg.AdminAPIToken, api.NewKeysHandler(keyStore))
	statsHandler := api.RequireAdminToken(cfg.AdminAPIToken, api.NewStatsHandler(queries))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", newHealthHandler(store, db))
	mux.Handle("/api/v1/validate-id", validateHandler)
	mux.Handle("/api/keys", keysHandler)
	mux.Handle("/api/keys/", keysHandler)
	mux.Handle("/api/stats/", statsHandler)
	mux.Handle("/api/stream", api.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("bitaqa listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := auditLogger.Close(shutdownCtx); err != nil {
		slog.Error("audit logger shutdown error", "error", err)
	}
}

// healthPinger covers the backends the health endpoint probes.
type healthPinger interface {
	Ping(ctx context.Context) error
}

type dbPinger interface {
	PingContext(ctx context.Context) error
}

func newHealthHandler(store healthPinger, db dbPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := `{"status":"ok","service":"bitaqa"}`

		if err := store.Ping(ctx); err != nil {
			slog.Warn("health: redis unreachable", "error", err)
			status = http.StatusServiceUnavailable
			body = `{"status":"degraded","service":"bitaqa","detail":"counter store unreachable"}`
		} else if err := db.PingContext(ctx); err != nil {
			slog.Warn("health: database unreachable", "error", err)
			status = http.StatusServiceUnavailable
			body = `{"status":"degraded","service":"bitaqa","detail":"database unreachable"}`
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err := w.Write([]byte(body)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
