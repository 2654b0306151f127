package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/whisper/pairbot/internal/bot"
	"github.com/whisper/pairbot/internal/config"
	"github.com/whisper/pairbot/internal/conversation"
	"github.com/whisper/pairbot/internal/matching"
	"github.com/whisper/pairbot/internal/membership"
	"github.com/whisper/pairbot/internal/messaging"
	"github.com/whisper/pairbot/internal/metrics"
	"github.com/whisper/pairbot/internal/moderation"
	"github.com/whisper/pairbot/internal/protocol"
	"github.com/whisper/pairbot/internal/ratelimit"
	"github.com/whisper/pairbot/internal/registration"
	"github.com/whisper/pairbot/internal/session"
	"github.com/whisper/pairbot/internal/store"
)

func main() {
	configPath := pflag.String("config", "", "path to the deployment YAML (default $"+config.EnvConfigPath+")")
	queueDepth := pflag.Int("queue-depth", 256, "per-worker event queue depth")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Println("Starting pairbot...")

	// --- Persistence ---
	var persistence moderation.Persistence = &store.Nop{}
	if cfg.DatabaseURL != "" {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err := store.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer db.Close()
		persistence = db
	}

	// --- Redis ---
	sessions, err := session.NewStore(cfg.RedisAddr, "bot")
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer sessions.Close()
	limiter := ratelimit.NewLimiter(sessions.Client())

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "pairbot-bot"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	tr := messaging.NewTransport(natsClient.Conn(), messaging.DefaultDeliveryTimeout)

	// --- Core ---
	predicate, err := matching.PredicateFromConfig(cfg.Matching)
	if err != nil {
		log.Fatalf("%v", err)
	}
	svc := matching.NewService(predicate, matching.NewAnnouncer(tr, cfg.Messages, cfg.Controls))

	pipeline := moderation.NewPipeline(cfg, persistence, svc, tr, nil)
	relay := conversation.NewRelay(cfg, svc, pipeline, tr)

	deps := registration.Deps{
		Store:     sessions,
		Blocks:    persistence,
		Registrar: svc,
		Transport: tr,
	}
	if cfg.Channel != "" {
		deps.Members = membership.NewChecker(sessions.Client(), cfg.Channel)
	}
	machine := registration.NewMachine(cfg, deps)

	b := bot.New(cfg, bot.Deps{
		Matching:     svc,
		Registration: machine,
		Relay:        relay,
		Moderation:   pipeline,
		Transport:    tr,
		Limiter:      limiter,
		Online:       sessions,
	})
	pipeline.SetEvictor(b)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	workers := bot.NewWorkers(cfg.Workers, *queueDepth, b.Handle)
	workers.Start(ctx)
	if err := natsClient.SubscribeInbound(func(ev protocol.InboundEvent) {
		workers.Submit(ev)
	}); err != nil {
		log.Fatalf("failed to subscribe to inbound events: %v", err)
	}

	go matching.StartJanitor(ctx, svc, matching.DefaultJanitorInterval)

	// --- Metrics / health ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("pairbot running")
	log.Printf("  predicate:    %s", cfg.Matching.Predicate)
	log.Printf("  attributes:   %d", len(cfg.Registration.Attributes))
	log.Printf("  channel:      %q", cfg.Channel)
	log.Printf("  workers:      %d", cfg.Workers)
	log.Printf("  redis_addr:   %s", cfg.RedisAddr)
	log.Printf("  nats_url:     %s", cfg.NATSURL)
	log.Printf("  metrics_addr: %s", cfg.MetricsAddr)
	log.Printf("  database:     %v", cfg.DatabaseURL != "")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	workers.Stop()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
