package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tqwops/vigia/admin"
	"github.com/tqwops/vigia/cfg"
	"github.com/tqwops/vigia/db"
	"github.com/tqwops/vigia/notify"
	"github.com/tqwops/vigia/publisher"
	_ "github.com/tqwops/vigia/publisher/sink"
	"github.com/tqwops/vigia/telemetry"
	"github.com/tqwops/vigia/watcher"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Str("environment", cfg.Config.Environment).Msg("Vigia - real-time dashboard refresh service")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Vigia stopped with error")
	}

	log.Info().Msg("Vigia stopped")
}

// run wires every component and blocks until a termination signal arrives
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Data store
	log.Info().Str("driver", cfg.Config.Database.Driver).Msg("Opening data store")
	conn, err := db.Open(cfg.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to open data store: %w", err)
	}
	defer conn.Close()

	// Connection registry and broadcaster
	history, err := notify.NewHistory(cfg.Config.History.Size)
	if err != nil {
		return fmt.Errorf("failed to create history: %w", err)
	}
	hub := notify.NewHub(history)

	// Bus mirroring
	sinks, err := publisher.NewRegistry(cfg.Config.Sinks)
	if err != nil {
		return fmt.Errorf("failed to initialize sinks: %w", err)
	}
	if err := sinks.Start(); err != nil {
		return err
	}
	defer sinks.Stop()
	hub.SetMirror(sinks)

	// Bus ingress
	if cfg.Config.Ingress.Enabled {
		ingress, err := publisher.NewIngress(publisher.IngressConfig{
			URL:        cfg.Config.Ingress.NatsURL,
			Subject:    cfg.Config.Ingress.Subject,
			Format:     cfg.Config.Ingress.Format,
			InstanceID: cfg.Config.InstanceID,
		}, hub)
		if err != nil {
			return fmt.Errorf("failed to create ingress: %w", err)
		}
		if err := ingress.Start(); err != nil {
			return fmt.Errorf("failed to start ingress: %w", err)
		}
		defer ingress.Stop()
	}

	// Watchers
	watchers, err := watcher.NewRegistryFromConfig(conn, cfg.Config, hub)
	if err != nil {
		return fmt.Errorf("failed to configure watchers: %w", err)
	}
	watchers.StartAll()
	defer watchers.StopAll()

	// Gauges
	collector := telemetry.NewMetricsCollector(
		hub,
		watchers,
		time.Duration(cfg.Config.Prometheus.CollectIntervalMS)*time.Millisecond,
	)
	collector.Start()
	defer collector.Stop()

	// HTTP surface
	router := admin.NewRouter(
		admin.NewAdminHandlers(hub, watchers, sinks),
		notify.NewHandler(hub, notify.HandlerConfigFrom(cfg.Config)),
		telemetry.GetMetricsHandler(),
	)
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Config.HTTP.BindAddress, strconv.Itoa(cfg.Config.HTTP.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("address", server.Addr).
			Str("ws_path", cfg.Config.HTTP.WSPath).
			Int("watchers", watchers.Len()).
			Msg("Vigia started successfully")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		// Stop polling first so no refresh races the closing connections.
		// Shutdown does not track hijacked /ws sessions; the closed hub refuses
		// any upgrade that completes while it drains.
		watchers.StopAll()
		hub.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Config.HTTP.ShutdownMS)*time.Millisecond)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		hub.CloseAll()
		return err
	})

	return g.Wait()
}
