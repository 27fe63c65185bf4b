package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"bitaqa/internal/apikey"
)

// seedkeys provisions API keys for the named services. Each service
// receives a freshly generated UUID key unless -key pins an explicit
// value for a single service.
func main() {
	var (
		databaseURL       string
		explicitKey       string
		rateLimit         int64
		rateWindowSeconds int64
	)

	flag.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.StringVar(&explicitKey, "key", "", "Explicit key value (only valid with a single service name)")
	flag.Int64Var(&rateLimit, "rate-limit", 0, "Per-key rate limit override (requires -rate-window-seconds)")
	flag.Int64Var(&rateWindowSeconds, "rate-window-seconds", 0, "Per-key window override in seconds (requires -rate-limit)")
	flag.Parse()

	services := flag.Args()
	if len(services) == 0 {
		fmt.Fprintln(os.Stderr, "usage: seedkeys [flags] SERVICE_NAME [SERVICE_NAME...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if databaseURL == "" {
		slog.Error("DATABASE_URL is required (set env var or use -database-url)")
		os.Exit(1)
	}
	if explicitKey != "" && len(services) != 1 {
		slog.Error("-key requires exactly one service name")
		os.Exit(1)
	}
	if (rateLimit > 0) != (rateWindowSeconds > 0) {
		slog.Error("-rate-limit and -rate-window-seconds must be set together")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		slog.Error("database not reachable", "error", err)
		os.Exit(1)
	}

	store, err := apikey.NewPostgresStore(db)
	if err != nil {
		slog.Error("failed to initialize key store", "error", err)
		os.Exit(1)
	}

	for _, service := range services {
		key := explicitKey
		if key == "" {
			key = uuid.NewString()
		}

		created, err := store.Create(ctx, apikey.Key{
			Key:               key,
			ServiceName:       service,
			IsActive:          true,
			RateLimit:         rateLimit,
			RateWindowSeconds: rateWindowSeconds,
		})
		if err != nil {
			slog.Error("failed to create key", "service", service, "error", err)
			os.Exit(1)
		}

		fmt.Printf("%s\t%s\t%s\n", created.ID, created.ServiceName, created.Key)
	}
}
