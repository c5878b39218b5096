// Command api serves the ledger's HTTP surface: the framework-agnostic
// dispatch.Dispatcher adapted onto net/http for the core accounting API,
// plus the dashboard/admin plane under /api/ (user registration, login and
// profile, ledgers, API keys). The dashboard's webhook-endpoint handlers
// are not mounted.
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/tishiu/summa/internal/account"
	"github.com/tishiu/summa/internal/api"
	"github.com/tishiu/summa/internal/auth"
	"github.com/tishiu/summa/internal/config"
	"github.com/tishiu/summa/internal/dashboard"
	"github.com/tishiu/summa/internal/dispatch"
	"github.com/tishiu/summa/internal/outbox"
	"github.com/tishiu/summa/internal/storage"
	"github.com/tishiu/summa/internal/txn"
	"github.com/tishiu/summa/internal/webhook"
)

func main() {
	ctx := context.Background()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "summa-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := storage.NewStore(pool, cfg.Schema)

	acctMgr := account.NewManager(cfg.Schema, []byte(cfg.Advanced.HMACSecret), cfg.Advanced.UseDenormalizedBalance, account.LockMode(cfg.Advanced.LockMode))
	pipeline := txn.NewPipeline(store, acctMgr, account.LockMode(cfg.Advanced.LockMode), outbox.Insert, cfg.SystemAccounts)

	webhookPublisher := &outbox.WebhookPublisher{Schema: cfg.Schema, Store: store, Send: webhook.HTTPPublisher()}
	drainer := outbox.NewDrainer(store, webhookPublisher, 100)

	workers := river.NewWorkers()
	river.AddWorker(workers, webhook.NewDrainWorker(drainer, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		log.Fatalf("failed to create river client: %v", err)
	}
	if err := riverClient.Start(ctx); err != nil {
		log.Fatalf("failed to start river: %v", err)
	}
	defer riverClient.Stop(ctx)

	go scheduleDrains(ctx, riverClient, logger)

	server := &api.Server{Store: store, Account: acctMgr, Pipeline: pipeline}
	d := dispatch.New()

	authMiddleware := &auth.Middleware{DB: pool, Schema: cfg.Schema, APIKeySecret: cfg.APIKeySecret}
	if len(cfg.TrustedOrigins) > 0 {
		d.PreHook(dispatch.CheckOrigin(cfg.TrustedOrigins))
	}
	d.PreHook(authMiddleware.AuthHook())
	server.Register(d)

	dashMux := http.NewServeMux()
	authHandler := &dashboard.AuthHandler{DB: pool, Schema: cfg.Schema, Config: cfg}
	ledgerHandler := &dashboard.LedgerHandler{DB: pool, Schema: cfg.Schema, JWTSecret: cfg.JWTSecret}
	apiKeyHandler := &dashboard.APIKeyHandler{DB: pool, Schema: cfg.Schema, JWTSecret: cfg.JWTSecret, APIKeySecret: cfg.APIKeySecret}

	dashMux.HandleFunc("/api/auth/register", authHandler.Register)
	dashMux.HandleFunc("/api/auth/login", authHandler.Login)
	dashMux.HandleFunc("/api/auth/me", authHandler.GetCurrentUser)

	dashMux.HandleFunc("/api/ledgers", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("id") != "" {
				ledgerHandler.GetLedger(w, r)
			} else {
				ledgerHandler.ListLedgers(w, r)
			}
		case http.MethodPost:
			ledgerHandler.CreateLedger(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	dashMux.HandleFunc("/api/ledgers/api-keys", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiKeyHandler.ListAPIKeys(w, r)
		case http.MethodPost:
			apiKeyHandler.CreateAPIKey(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	dashMux.HandleFunc("/api/api-keys/revoke", apiKeyHandler.RevokeAPIKey)

	mux := http.NewServeMux()
	mux.Handle("/api/", dashMux)
	mux.Handle("/", dispatchAdapter(d))

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown error: %v", err)
	}
	logger.Info().Msg("server stopped")
}

// dispatchAdapter bridges dispatch.Dispatcher (framework-agnostic, no
// net/http dependency) onto an http.Handler for the process's actual
// listener, translating to/from dispatch.Request/Response.
func dispatchAdapter(d *dispatch.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := map[string][]string(r.URL.Query())
		headers := map[string]string{}
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		resp := d.HandleRequest(r.Context(), &dispatch.Request{
			Method:  r.Method,
			Path:    r.URL.Path,
			Body:    body,
			Query:   query,
			Headers: headers,
		})

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		if resp.Body != nil {
			_, _ = w.Write(resp.Body)
		}
	})
}

// scheduleDrains enqueues an outbox_drain job every few seconds; river's
// own scheduler governs actual execution concurrency and retry.
func scheduleDrains(ctx context.Context, client *river.Client[pgx.Tx], logger zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := client.Insert(ctx, webhook.DrainArgs{}, nil); err != nil {
				logger.Error().Err(err).Msg("failed to enqueue outbox drain")
			}
		}
	}
}
