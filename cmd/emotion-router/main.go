// main package for the emotion-router service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/tts-emotion-router/internal/config"
	"github.com/book-expert/tts-emotion-router/internal/core"
	"github.com/book-expert/tts-emotion-router/internal/emotion"
	"github.com/book-expert/tts-emotion-router/internal/gate"
	"github.com/book-expert/tts-emotion-router/internal/lifecycle"
	"github.com/book-expert/tts-emotion-router/internal/marker"
	"github.com/book-expert/tts-emotion-router/internal/objectstore"
	"github.com/book-expert/tts-emotion-router/internal/router"
	"github.com/book-expert/tts-emotion-router/internal/session"
	"github.com/book-expert/tts-emotion-router/internal/synth"
	"github.com/book-expert/tts-emotion-router/internal/voice"
	"github.com/book-expert/tts-emotion-router/internal/worker"
)

const logFileName = "emotion-router.log"

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// A temporary logger carries the bootstrap until the configured log
	// directory is known.
	bootstrapLog, err := setupLogger(os.TempDir(), "emotion-router-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, finalLog)
}

// runService wires the pipeline together and serves until interrupted.
func runService(cfg *config.Config, log *logger.Logger) error {
	provider, err := synth.NewProvider(synth.Options{
		BaseURL:    cfg.Provider.URL,
		APIKey:     cfg.Provider.Key,
		Model:      cfg.Provider.Model,
		Format:     cfg.Provider.Format,
		Gain:       cfg.Provider.Gain,
		SampleRate: cfg.Provider.SampleRate,
		CacheDir:   cfg.Cache.Dir,
		Timeout:    cfg.ProviderTimeout(),
		MaxRetries: cfg.Provider.MaxRetries,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create synthesis provider: %w", err)
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	synthesizer, err := buildSynthesizer(cfg, provider, natsConnection, log)
	if err != nil {
		return err
	}

	sessions := session.NewStore()

	orchestrator := router.New(router.Deps{
		Marker:     marker.NewProcessor(cfg.Marker.Tag),
		Classifier: emotion.NewClassifier(cfg.ExtraKeywords()),
		Sessions:   sessions,
		Inflight:   session.NewInflightSet(),
		Gate:       gate.New(gate.Settings{}),
		Voices:     voice.NewRouter(nil, nil),
		Synth:      synthesizer,
		History:    nil,
		Log:        log,
	}, cfg)

	manager := lifecycle.NewManager(lifecycle.Settings{
		AudioDir:             cfg.Cache.Dir,
		AudioTTL:             cfg.AudioTTL(),
		SessionIdleTTL:       cfg.SessionIdleTTL(),
		SessionSweepInterval: cfg.SessionSweepInterval(),
		MaxSessions:          cfg.Sessions.MaxSessions,
	}, sessions, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)
	defer manager.Stop()

	admin := router.NewAdmin(cfg, orchestrator, sessions, provider)

	natsWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.DecorateSubject, orchestrator, admin, log)
	if err != nil {
		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	log.System(
		"Emotion router initialized. Listening for replies on subject: %s",
		cfg.NATS.DecorateSubject,
	)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	return nil
}

// buildSynthesizer wraps the provider with object-store mirroring when an
// audio bucket is configured.
func buildSynthesizer(
	cfg *config.Config,
	provider *synth.Provider,
	natsConnection *nats.Conn,
	log *logger.Logger,
) (core.Synthesizer, error) {
	if cfg.NATS.AudioBucket == "" {
		return provider, nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio bucket: %w", err)
	}

	log.System("Mirroring synthesized audio to bucket: %s", cfg.NATS.AudioBucket)

	return objectstore.NewMirror(provider, store, log), nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
