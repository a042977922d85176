package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zachmartin/pixelsteg/internal/config"
	"github.com/zachmartin/pixelsteg/internal/events"
	"github.com/zachmartin/pixelsteg/internal/httpapi"
	"github.com/zachmartin/pixelsteg/internal/ipc"
	"github.com/zachmartin/pixelsteg/internal/logging"
	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/service"
	"github.com/zachmartin/pixelsteg/internal/steg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stegd: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log.Info().Str("config", cfg.String()).Msg("stegd starting")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("stegd failed")
	}
	log.Info().Msg("stegd stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	codec, err := steg.New(
		steg.WithInsertionThreshold(cfg.InsertionThreshold),
		steg.WithChunkSymbols(cfg.ChunkSymbols),
	)
	if err != nil {
		return err
	}

	pngLevel, err := raster.ParsePNGCompression(cfg.PNGCompression)
	if err != nil {
		return err
	}
	format, err := raster.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}

	publisher := newPublisher(ctx, cfg, log)
	defer publisher.Close()

	svc := service.New(service.Options{
		Codec:     codec,
		Publisher: publisher,
		Logger:    log,
		Limits: service.Limits{
			MaxImageBytes: cfg.MaxImageBytes,
			MaxPixels:     cfg.MaxPixels,
		},
		OutputFormat:  format,
		EncodeOptions: raster.EncodeOptions{PNGCompression: pngLevel},
	})

	// Start IPC server
	if cfg.EnableIPC {
		srv, err := ipc.NewServer(cfg.IPCSocketPath, svc, cfg.MaxImageBytes, log)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start IPC server: %w", err)
		}
		defer srv.Stop()
	}

	server := &http.Server{
		Addr: cfg.HTTPListenAddr,
		Handler: httpapi.New(svc, httpapi.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutS)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	return nil
}

// newPublisher connects to the MQTT broker when one is configured. A broker
// that cannot be reached disables events instead of failing startup.
func newPublisher(ctx context.Context, cfg *config.Config, log zerolog.Logger) events.Publisher {
	if !cfg.EventsEnabled() {
		return events.Nop{}
	}

	p := events.NewMQTTPublisher(events.MQTTConfig{
		Broker:   cfg.MQTTBroker,
		Topic:    cfg.MQTTTopic,
		ClientID: cfg.MQTTClientID,
		QoS:      1,
	}, log)
	if err := p.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("job events disabled")
		p.Close()
		return events.Nop{}
	}
	return p
}
