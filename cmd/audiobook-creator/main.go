// main package for the audiobook-creator command line tool. It converts one
// book locally, printing stage progress to the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/audiobook-creator/internal/arbiter"
	"github.com/book-expert/audiobook-creator/internal/audio"
	"github.com/book-expert/audiobook-creator/internal/config"
	"github.com/book-expert/audiobook-creator/internal/core"
	"github.com/book-expert/audiobook-creator/internal/normalize"
	"github.com/book-expert/audiobook-creator/internal/packager"
	"github.com/book-expert/audiobook-creator/internal/pipeline"
	"github.com/book-expert/audiobook-creator/internal/speech"
	"github.com/book-expert/audiobook-creator/internal/voices"
)

const logFileName = "audiobook-creator.log"

// Flag descriptions.
const (
	flagInputDesc  = "Source document (.pdf, .epub, .md, .txt)"
	flagOutputDesc = "Output file path (.m4b)"
	flagVoiceDesc  = "Voice id (see --list-voices)"
	flagSpeedDesc  = "Playback speed multiplier (0.5 to 2.0)"
	flagTitleDesc  = "Audiobook title (defaults to the document title)"
	flagAuthorDesc = "Audiobook author (defaults to the document author)"
	flagCleanDesc  = "Run text cleaning before synthesis"
	flagVoicesDesc = "List available voices and exit"
)

var errInputRequired = errors.New("--input is required")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	input      string
	output     string
	voice      string
	speed      float64
	title      string
	author     string
	clean      bool
	listVoices bool
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()

	bootstrapLog, err := logger.New(os.TempDir(), "audiobook-creator-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	if flags.listVoices {
		printVoices(catalog)

		return nil
	}

	if flags.input == "" {
		flag.Usage()

		return errInputRequired
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	return convert(cfg, catalog, flags, log)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.input, "input", "", flagInputDesc)
	flag.StringVar(&flags.output, "output", "", flagOutputDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.Float64Var(&flags.speed, "speed", 0, flagSpeedDesc)
	flag.StringVar(&flags.title, "title", "", flagTitleDesc)
	flag.StringVar(&flags.author, "author", "", flagAuthorDesc)
	flag.BoolVar(&flags.clean, "clean", false, flagCleanDesc)
	flag.BoolVar(&flags.listVoices, "list-voices", false, flagVoicesDesc)
	flag.Parse()

	return flags
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

func printVoices(catalog *voices.Catalog) {
	defaultID := catalog.Default().ID

	for _, voice := range catalog.List() {
		marker := " "
		if voice.ID == defaultID {
			marker = "*"
		}

		fmt.Printf("%s %-8s %s\n", marker, voice.ID, voice.Description)
	}
}

func convert(
	cfg *config.Config,
	catalog *voices.Catalog,
	flags appFlags,
	log *logger.Logger,
) error {
	opts, err := resolveOptions(cfg, catalog, flags)
	if err != nil {
		return err
	}

	orchestrator, err := buildPipeline(cfg, flags, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobID := uuid.NewString()

	fmt.Printf("Converting %s with voice %s\n", flags.input, opts.Voice)

	result, err := orchestrator.Run(ctx, jobID, flags.input, opts)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	fmt.Printf(
		"\nWrote %s (%d chapters, %s)\n",
		result.OutputPath,
		len(result.Chapters),
		result.TotalDuration.Round(time.Second),
	)

	return nil
}

func resolveOptions(
	cfg *config.Config,
	catalog *voices.Catalog,
	flags appFlags,
) (core.JobOptions, error) {
	opts := core.JobOptions{
		Voice:           flags.voice,
		Speed:           cfg.Conversion.Speed,
		CleaningEnabled: cfg.Conversion.CleaningEnabled || flags.clean,
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
		Metadata: core.Metadata{
			Title:  flags.title,
			Author: flags.author,
		},
	}

	if opts.Voice == "" {
		opts.Voice = catalog.Default().ID
	}

	if _, err := catalog.Get(opts.Voice); err != nil {
		return core.JobOptions{}, fmt.Errorf("failed to resolve voice: %w", err)
	}

	if flags.speed != 0 {
		opts.Speed = flags.speed
	}

	opts.OutputPath = flags.output
	if opts.OutputPath == "" {
		base := filepath.Base(flags.input)
		name := strings.TrimSuffix(base, filepath.Ext(base)) + ".m4b"
		opts.OutputPath = filepath.Join(cfg.Paths.OutputDir, name)
	}

	return opts, nil
}

func buildPipeline(
	cfg *config.Config,
	flags appFlags,
	log *logger.Logger,
) (*pipeline.Orchestrator, error) {
	source, err := ingestSource(flags.input, log)
	if err != nil {
		return nil, err
	}

	var normalizeOpts []normalize.Option
	if cfg.Conversion.ExpandDigits {
		normalizeOpts = append(normalizeOpts, normalize.WithDigitExpansion())
	}

	engine, err := buildEngine(cfg, log)
	if err != nil {
		return nil, err
	}

	pack := packager.New(cfg.Conversion.Bitrate, log)
	if err := pack.Available(); err != nil {
		return nil, fmt.Errorf("packager unavailable: %w", err)
	}

	orchestrator, err := pipeline.New(pipeline.Deps{
		Source:     source,
		Normalizer: normalize.New(normalizeOpts...),
		Engine:     engine,
		Assembler:  audio.NewAssembler(),
		Packager:   pack,
		Arbiter: arbiter.New(
			time.Duration(cfg.Conversion.AcquireTimeoutSeconds) * time.Second,
		),
		Sink: &consoleSink{},
		Log:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return orchestrator, nil
}

func buildEngine(cfg *config.Config, log *logger.Logger) (core.SpeechEngine, error) {
	if cfg.Engine.ServiceURL != "" {
		return speech.NewHTTPEngine(
			cfg.Engine.ServiceURL,
			time.Duration(cfg.Engine.TimeoutSeconds)*time.Second,
			log,
		), nil
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
		return nil, fmt.Errorf("speech engine unavailable: %w", err)
	}

	return engine, nil
}
