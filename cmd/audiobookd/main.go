// main package for the audiobook conversion daemon. It serves conversion
// requests over NATS and HTTP, streams progress per job, and records
// finished audiobooks in the JetStream-backed library.
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

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audiobook-creator/internal/arbiter"
	"github.com/book-expert/audiobook-creator/internal/audio"
	"github.com/book-expert/audiobook-creator/internal/config"
	"github.com/book-expert/audiobook-creator/internal/core"
	"github.com/book-expert/audiobook-creator/internal/httpapi"
	"github.com/book-expert/audiobook-creator/internal/ingest"
	"github.com/book-expert/audiobook-creator/internal/jobs"
	"github.com/book-expert/audiobook-creator/internal/library"
	"github.com/book-expert/audiobook-creator/internal/normalize"
	"github.com/book-expert/audiobook-creator/internal/observability"
	"github.com/book-expert/audiobook-creator/internal/packager"
	"github.com/book-expert/audiobook-creator/internal/pipeline"
	"github.com/book-expert/audiobook-creator/internal/speech"
	"github.com/book-expert/audiobook-creator/internal/voices"
	"github.com/book-expert/audiobook-creator/internal/worker"
)

const (
	logFileName           = "audiobookd.log"
	httpShutdownTimeout   = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
)

// Default NATS subjects, overridable through the [nats] config section.
const (
	defaultConvertSubject = "audiobook.convert"
	defaultCancelSubject  = "audiobook.cancel"
	defaultStatusSubject  = "audiobook.status"
	defaultProgressPrefix = "audiobook.progress"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bootstrapLog, err := logger.New(os.TempDir(), "audiobookd-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		bootstrapLog.Error("Failed to create directories: %v", err)

		return fmt.Errorf("failed to create directories: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create service logger: %v", err)

		return fmt.Errorf("failed to create service logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	natsURL := cfg.NATS.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	natsConnection, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer natsConnection.Close()

	lib, err := openLibrary(natsConnection, cfg, log)
	if err != nil {
		return err
	}

	subjects := resolveSubjects(cfg)
	manager := jobs.NewManager(log)
	broker := httpapi.NewBroker()
	metrics := observability.NewMetrics("audiobook")

	sink := core.MultiSink{
		manager,
		broker,
		observability.NewSink(metrics),
		worker.NewProgressPublisher(natsConnection, subjects.ProgressPrefix, log),
	}

	orchestrator, err := buildOrchestrator(cfg, sink, log)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, subjects, manager, orchestrator, lib,
		catalog, cfg.Paths.OutputDir, jobDefaults(cfg), log,
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	server := httpapi.New(natsWorker, manager, lib, catalog, broker, log)

	log.System(
		"Audiobook daemon initialized. NATS subject: %s, HTTP: %s",
		subjects.Convert, cfg.HTTP.Addr,
	)

	return runTransports(ctx, natsWorker, cfg.HTTP.Addr, server.Router(), log)
}

// runTransports serves NATS and HTTP until ctx ends or either transport
// fails.
func runTransports(
	ctx context.Context,
	natsWorker *worker.NatsWorker,
	httpAddr string,
	handler http.Handler,
	log *logger.Logger,
) error {
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	errChan := make(chan error, 2)

	go func() {
		errChan <- natsWorker.Run(ctx)
	}()

	go func() {
		serveErr := httpServer.ListenAndServe()
		if !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server failed: %w", serveErr)

			return
		}

		errChan <- nil
	}()

	var firstErr error

	select {
	case <-ctx.Done():
	case firstErr = <-errChan:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("HTTP shutdown failed: %v", shutdownErr)
	}

	if firstErr != nil {
		return firstErr
	}

	return <-errChan
}

func loadCatalog(cfg *config.Config) (*voices.Catalog, error) {
	if cfg.Paths.VoiceCatalog == "" {
		return voices.Builtin(), nil
	}

	catalog, err := voices.Load(cfg.Paths.VoiceCatalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load voice catalog: %w", err)
	}

	return catalog, nil
}

// openLibrary binds the JetStream-backed library. An empty bucket name
// disables persistence.
func openLibrary(
	natsConnection *nats.Conn,
	cfg *config.Config,
	log *logger.Logger,
) (core.LibraryStore, error) {
	if cfg.NATS.LibraryStoreBucket == "" {
		log.Warn("Library bucket not configured, finished jobs will not be recorded")

		return nil, nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	lib, err := library.New(jetstreamContext, cfg.NATS.LibraryStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open library store: %w", err)
	}

	return lib, nil
}

func buildOrchestrator(
	cfg *config.Config,
	sink core.ProgressSink,
	log *logger.Logger,
) (*pipeline.Orchestrator, error) {
	var normalizeOpts []normalize.Option
	if cfg.Conversion.ExpandDigits {
		normalizeOpts = append(normalizeOpts, normalize.WithDigitExpansion())
	}

	pack := packager.New(cfg.Conversion.Bitrate, log)
	if availErr := pack.Available(); availErr != nil {
		log.Warn("Packager check failed, conversions will not finish: %v", availErr)
	}

	orchestrator, err := pipeline.New(pipeline.Deps{
		Source:     ingest.NewAutoSource(log),
		Normalizer: normalize.New(normalizeOpts...),
		Engine:     buildEngine(cfg, log),
		Assembler:  audio.NewAssembler(),
		Packager:   pack,
		Arbiter: arbiter.New(
			time.Duration(cfg.Conversion.AcquireTimeoutSeconds) * time.Second,
		),
		Sink: sink,
		Log:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return orchestrator, nil
}

// buildEngine selects the sidecar HTTP engine when a service URL is
// configured and the local chatllm binary otherwise.
func buildEngine(cfg *config.Config, log *logger.Logger) core.SpeechEngine {
	if cfg.Engine.ServiceURL != "" {
		return speech.NewHTTPEngine(
			cfg.Engine.ServiceURL,
			time.Duration(cfg.Engine.TimeoutSeconds)*time.Second,
			log,
		)
	}

	engine := speech.NewChatLLMEngine(speech.Config{
		ModelPath:         cfg.Engine.ModelPath,
		SnacModelPath:     cfg.Engine.SnacModelPath,
		NGL:               cfg.Engine.NGL,
		Seed:              cfg.Engine.Seed,
		TopP:              cfg.Engine.TopP,
		RepetitionPenalty: cfg.Engine.RepetitionPenalty,
		Temperature:       cfg.Engine.Temperature,
	}, log)

	if err := engine.Available(); err != nil {
		log.Warn("Speech engine check failed: %v", err)
	}

	return engine
}

func resolveSubjects(cfg *config.Config) worker.Subjects {
	subjects := worker.Subjects{
		Convert:        cfg.NATS.ConvertSubject,
		Cancel:         cfg.NATS.CancelSubject,
		Status:         cfg.NATS.StatusSubject,
		ProgressPrefix: cfg.NATS.ProgressSubjectPrefix,
	}

	if subjects.Convert == "" {
		subjects.Convert = defaultConvertSubject
	}

	if subjects.Cancel == "" {
		subjects.Cancel = defaultCancelSubject
	}

	if subjects.Status == "" {
		subjects.Status = defaultStatusSubject
	}

	if subjects.ProgressPrefix == "" {
		subjects.ProgressPrefix = defaultProgressPrefix
	}

	return subjects
}

func jobDefaults(cfg *config.Config) core.JobOptions {
	return core.JobOptions{
		Speed:           cfg.Conversion.Speed,
		CleaningEnabled: cfg.Conversion.CleaningEnabled,
		MaxChunkTokens:  cfg.Conversion.MaxChunkTokens,
		ResourceAcquireTimeout: time.Duration(
			cfg.Conversion.AcquireTimeoutSeconds,
		) * time.Second,
		SilenceBetweenChunks: time.Duration(
			cfg.Conversion.SilenceBetweenChunks * float64(time.Second),
		),
		SilenceBetweenChapters: time.Duration(
			cfg.Conversion.SilenceBetweenChapters * float64(time.Second),
		),
		TargetLevelDBFS: cfg.Conversion.TargetLevelDBFS,
	}
}
