// Copyright 2025-2026 Rasmus Ahtava

// Command lightfriend-bridge runs the bridge message-routing and
// notification-triage service: it restores a Matrix session per user,
// feeds inbound bridged messages through the triage chain, and serves a
// small HTTP API for interactive room search, history fetch and sending.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
	"github.com/ahtavarasmus/lightfriend-sub000/pkg/importance"
	"github.com/ahtavarasmus/lightfriend-sub000/pkg/matrix"
	"github.com/ahtavarasmus/lightfriend-sub000/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}).
		With().Timestamp().Logger()
	exzerolog.SetupDefaults(&log)

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log.Info().
		Str("tag", Tag).
		Str("commit", Commit).
		Str("built", BuildTime).
		Str("environment", cfg.Environment).
		Msg("Starting lightfriend-bridge")

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := matrix.NewRegistry(log)
	scorer := importance.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	notifier := newWebhookNotifier(cfg.NotifyURL, log)
	credits := newWebhookCreditChecker(cfg.CreditsURL)

	lifecycle := bridge.NewLifecycle(st, registry, cfg, log)
	triage := bridge.NewTriage(st, registry, notifier, credits, scorer, bridge.DetachedDispatcher, lifecycle, cfg, log)
	catalog := bridge.NewCatalog(st, registry, log)
	fetcher := bridge.NewFetcher(catalog, st, log)
	sender := bridge.NewSender(catalog, log)

	restoreSessions(ctx, cfg, st, registry, triage, log)

	api := newAPI(catalog, fetcher, sender, log)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting bridge API")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Bridge API error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// restoreSessions dials a Matrix session for every stored login and routes
// its inbound messages to triage. A failed account is logged and skipped so
// one bad token never blocks the rest.
func restoreSessions(ctx context.Context, cfg *bridge.Config, st *store.Store, registry *matrix.Registry, triage *bridge.Triage, log zerolog.Logger) {
	accounts, err := st.MatrixAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list matrix accounts")
		return
	}
	for _, acct := range accounts {
		client, err := matrix.Dial(cfg.HomeserverURL, id.UserID(acct.MXID), acct.AccessToken, log)
		if err != nil {
			log.Error().Err(err).Int64("user_id", acct.UserID).Msg("Failed to dial matrix")
			continue
		}
		syncCtx, cancel := context.WithCancel(ctx)
		registry.Add(acct.UserID, client, cancel)
		userID := acct.UserID
		client.StartSync(syncCtx, func(ctx context.Context, evt *event.Event) {
			triage.HandleEvent(ctx, userID, evt)
		})
	}
	log.Info().Int("count", registry.Count()).Msg("Restored matrix sessions")
}
