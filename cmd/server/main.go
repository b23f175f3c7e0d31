package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"orderflow/cmd/server/config"
	"orderflow/internal/adapters/httpapi"
	"orderflow/internal/app"
	"orderflow/internal/observability"
	"orderflow/internal/saga"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	serverCfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	sagaCfg, err := config.LoadSaga()
	if err != nil {
		return err
	}
	redisCfg, err := config.LoadRedis()
	if err != nil {
		return err
	}

	redisClient, err := buildRedisClient(ctx, redisCfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("close redis: %v", err)
			}
		}()
	}

	appCfg := app.Config{
		DSN:         os.Getenv("DATABASE_URL"),
		IdemTTL:     sagaCfg.IdemTTL,
		Workers:     sagaCfg.Workers,
		QueueDepth:  sagaCfg.QueueDepth,
		StepTimeout: sagaCfg.StepTimeout,
		StepRetries: sagaCfg.StepRetries,
		Backoff: saga.Backoff{
			BaseDelay: sagaCfg.BackoffBase,
			MaxDelay:  sagaCfg.BackoffMax,
		},
		Stock: parseStock(os.Getenv("INVENTORY_STOCK")),
		Logf:  log.Printf,
	}
	if redisClient != nil {
		appCfg.Redis = redisClient
	}

	application, err := app.Build(ctx, appCfg)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Service.Resume(ctx); err != nil {
		return err
	}

	handler := httpapi.NewHandler(application.Service, application.Hub, application.Metrics)
	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: handler.Routes(),
	}

	obsSrv := startObservabilityServer(application.Metrics)

	log.Printf("server running on %s", serverCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func startObservabilityServer(metrics *observability.Metrics) *http.Server {
	cfg := config.LoadObservability()
	if cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()
	return srv
}

// parseStock reads "SKU:QTY,SKU:QTY" pairs for the in-memory inventory
// fallback. Malformed entries are skipped.
func parseStock(raw string) map[string]int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	stock := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		sku, qtyStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
		if err != nil || qty < 0 {
			continue
		}
		stock[strings.TrimSpace(sku)] = qty
	}
	return stock
}
