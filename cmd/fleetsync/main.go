package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/auth"
	"github.com/shorelink/fleetsync/internal/boot"
	"github.com/shorelink/fleetsync/internal/bus"
	"github.com/shorelink/fleetsync/internal/cms"
	"github.com/shorelink/fleetsync/internal/config"
	"github.com/shorelink/fleetsync/internal/db"
	"github.com/shorelink/fleetsync/internal/engine"
	"github.com/shorelink/fleetsync/internal/hooks"
	"github.com/shorelink/fleetsync/internal/httpapi"
	"github.com/shorelink/fleetsync/internal/media"
	"github.com/shorelink/fleetsync/internal/monitor"
	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (or FLEETSYNC_CONFIG)")
	flag.Parse()

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "fleetsync").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// Stores
	meta := store.NewMetadataStore(pool)
	conflicts := store.NewConflictStore(pool)
	dedup := store.NewDedupStore(pool)
	deadLetters := store.NewDeadLetterStore(pool)

	queueName := store.QueueOutbound
	if cfg.Mode == config.ModeMaster {
		queueName = store.QueueBroadcast
	}
	queue := store.NewQueueStore(pool, queueName)

	var peers *store.PeerStore
	if cfg.Mode == config.ModeMaster {
		peers = store.NewPeerStore(pool, cfg.PeerOnlineThreshold())
	}

	cmsClient := cms.NewPGClient(pool, cfg.ContentTypes)

	// Media mirror, when both object stores are configured
	var mirror *media.Mirror
	if cfg.Media.Enabled {
		master, err := media.NewS3Store(cfg.Media.MasterStore)
		if err != nil {
			log.Fatal().Err(err).Msg("master object store setup failed")
		}
		local, err := media.NewS3Store(cfg.Media.LocalStore)
		if err != nil {
			log.Fatal().Err(err).Msg("local object store setup failed")
		}
		mirror = &media.Mirror{
			Master: master,
			Local:  local,
			Paths: media.NewPathMapper(
				cfg.Media.MasterStore.BaseURL,
				cfg.Media.LocalStore.BaseURL,
				cfg.Media.MasterStore.UploadPath,
			),
			TransformURLs:   *cfg.Media.TransformURLs,
			MaxFilesPerSync: cfg.Media.MaxFilesPerSync,
		}
	}

	eng := &engine.Engine{
		CMS:           cmsClient,
		Meta:          meta,
		Conflicts:     conflicts,
		MergeStrategy: cfg.Sync.MergeStrategy,
		PeerID:        cfg.PeerID(),
	}
	if mirror != nil {
		eng.Media = mirror
	}

	// Bus endpoints: the master consumes ship-updates, replicas consume
	// master-updates.
	producer := bus.NewProducer(cfg.Bus, cfg.PeerID())
	var consumer *bus.Consumer
	if cfg.Mode == config.ModeMaster {
		consumer = bus.NewConsumer(cfg.Bus, cfg.Bus.Topics.ShipUpdates, "fleetsync-master", syncx.OriginShip, cfg.RetryDelay())
		consumer.Peers = peers
	} else {
		consumer = bus.NewConsumer(cfg.Bus, cfg.Bus.Topics.MasterUpdates, "fleetsync-"+cfg.ShipID, syncx.OriginMaster, cfg.RetryDelay())
	}
	consumer.Applier = eng
	consumer.Dedup = dedup
	consumer.DeadLetters = deadLetters

	mon := monitor.New(producer, cfg.Bus.HealthURL, cfg.ConnectivityCheckInterval())

	send := producer.SendToMaster
	if cfg.Mode == config.ModeMaster {
		send = producer.SendToShips
	}
	pusher := &boot.Pusher{
		Queue:      queue,
		Send:       send,
		PeerID:     cfg.PeerID(),
		BatchSize:  cfg.Sync.BatchSize,
		MaxRetries: cfg.Sync.RetryAttempts,
	}
	if mirror != nil && cfg.Mode == config.ModeReplica {
		pusher.Media = mirror
	}

	runtime := &boot.Runtime{
		Cfg:         cfg,
		Producer:    producer,
		Consumer:    consumer,
		Monitor:     mon,
		Pusher:      pusher,
		Queue:       queue,
		Peers:       peers,
		Dedup:       dedup,
		DeadLetters: deadLetters,
		Media:       mirror,
	}

	interceptor := &hooks.Interceptor{
		Cfg:      cfg,
		Versions: meta,
		Queue:    queue,
		Notify:   runtime.Notify,
	}
	if cfg.Mode == config.ModeMaster {
		interceptor.Bus = producer
	}

	srv := &httpapi.Server{
		Cfg:         cfg,
		Engine:      eng,
		Changes:     cmsClient,
		Versions:    meta,
		Dedup:       dedup,
		Queue:       queue,
		Conflicts:   conflicts,
		DeadLetters: deadLetters,
		Monitor:     mon,
		Hooks:       interceptor,
	}
	if peers != nil {
		srv.Peers = peers
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.Auth.HS256Secret,
		DevMode:     cfg.Auth.DevMode,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Sync workers
	runtimeDone := make(chan error, 1)
	go func() {
		runtimeDone <- runtime.Run(ctx)
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	select {
	case err := <-runtimeDone:
		if err != nil {
			log.Error().Err(err).Msg("sync runtime stopped with error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("sync runtime did not stop in time")
	}

	producer.Close()
	log.Info().Msg("fleetsync stopped")
}
