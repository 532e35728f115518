package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/config"
	"github.com/wsn-portal/provisioning-server/internal/models"
	"github.com/wsn-portal/provisioning-server/internal/provisioner"
	"github.com/wsn-portal/provisioning-server/internal/queue"
	"github.com/wsn-portal/provisioning-server/internal/routeros"
	"github.com/wsn-portal/provisioning-server/internal/routerrpc"
	"github.com/wsn-portal/provisioning-server/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/provisioner.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device connection, command serializer and the typed operation
	// client on top of them
	session := routeros.NewSession(
		routeros.NewDialer(cfg.Router),
		cfg.Router.ReconnectMin,
		cfg.Router.ReconnectMax,
	)
	session.OnStateChange(func(connected bool) {
		event := &models.EventLog{
			Type:        models.EventTypeRouterUp,
			Level:       models.EventLevelInfo,
			Description: "Router connection established",
		}
		if !connected {
			event.Type = models.EventTypeRouterDown
			event.Level = models.EventLevelWarning
			event.Description = "Router connection lost"
		}
		if err := store.CreateEventLog(context.Background(), event); err != nil {
			log.Error().Err(err).Msg("Failed to record router state event")
		}
	})
	serializer := routeros.NewSerializer(session, cfg.Router.CommandTimeout, cfg.Router.QueueSize)
	device := routeros.NewClient(serializer)

	worker := provisioner.NewWorker(
		store, device,
		cfg.Queue.BackoffBase, cfg.Queue.PollInterval,
		cfg.Sync.SessionHistoryLimit,
	)

	// WaitGroup for services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		session.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serializer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Optional: NATS gives instant job pickup and serves device RPCs.
	// Without it the worker still drains the queue on its poll ticker.
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("wsn-provisioner"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, falling back to polling only")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")

			if _, err := nc.Subscribe(queue.SubjectJobWake, func(msg *nats.Msg) {
				worker.Notify()
			}); err != nil {
				log.Error().Err(err).Msg("Failed to subscribe to job wake signals")
			}

			responder := routerrpc.NewResponder(nc, device, cfg.NATS.RequestTimeout)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := responder.Start(ctx); err != nil {
					log.Error().Err(err).Msg("Device RPC responder stopped")
				}
			}()
		}
	} else {
		log.Info().Msg("NATS not configured, running in polling mode")
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Provisioner stopped")
}
