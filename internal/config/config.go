// Package config provides the configuration structure for the audiobook
// creator and its daemon.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied by Normalize.
const (
	DefaultMaxChunkTokens         = 500
	DefaultAcquireTimeoutSeconds  = 120
	DefaultSilenceBetweenChunks   = 0.3
	DefaultSilenceBetweenChapters = 1.5
	DefaultTargetLevelDBFS        = -18.0
	DefaultBitrate                = "64k"
	DefaultSpeed                  = 1.0
	DefaultHTTPAddr               = ":8080"
)

// ErrInvalidConfig marks configuration validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the messaging settings for the daemon.
type NATSConfig struct {
	URL                   string `toml:"url"`
	ConvertSubject        string `toml:"convert_subject"`
	CancelSubject         string `toml:"cancel_subject"`
	StatusSubject         string `toml:"status_subject"`
	ProgressSubjectPrefix string `toml:"progress_subject_prefix"`
	LibraryStoreBucket    string `toml:"library_store_bucket"`
}

// EngineConfig holds the speech engine invocation settings. A non-empty
// ServiceURL selects the sidecar HTTP engine instead of the local binary.
type EngineConfig struct {
	ModelPath         string  `toml:"model_path"`
	SnacModelPath     string  `toml:"snac_model_path"`
	NGL               int     `toml:"ngl"`
	Seed              int     `toml:"seed"`
	TopP              float64 `toml:"top_p"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`
	Temperature       float64 `toml:"temperature"`
	ServiceURL        string  `toml:"service_url"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// ConversionConfig holds the pipeline tuning knobs.
type ConversionConfig struct {
	MaxChunkTokens         int     `toml:"max_chunk_tokens"`
	AcquireTimeoutSeconds  int     `toml:"acquire_timeout_seconds"`
	CleaningEnabled        bool    `toml:"cleaning_enabled"`
	ExpandDigits           bool    `toml:"expand_digits"`
	Speed                  float64 `toml:"speed"`
	SilenceBetweenChunks   float64 `toml:"silence_between_chunks_seconds"`
	SilenceBetweenChapters float64 `toml:"silence_between_chapters_seconds"`
	TargetLevelDBFS        float64 `toml:"target_level_dbfs"`
	Bitrate                string  `toml:"bitrate"`
}

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	BaseLogsDir  string `toml:"base_logs_dir"`
	OutputDir    string `toml:"output_dir"`
	VoiceCatalog string `toml:"voice_catalog"`
}

// HTTPConfig holds the daemon's HTTP listener settings.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Engine     EngineConfig     `toml:"engine"`
	Conversion ConversionConfig `toml:"conversion"`
	Paths      PathsConfig      `toml:"paths"`
	HTTP       HTTPConfig       `toml:"http"`
}

// Load loads the configuration through the configurator discovery chain.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Conversion.MaxChunkTokens <= 0 {
		c.Conversion.MaxChunkTokens = DefaultMaxChunkTokens
	}

	if c.Conversion.AcquireTimeoutSeconds <= 0 {
		c.Conversion.AcquireTimeoutSeconds = DefaultAcquireTimeoutSeconds
	}

	if c.Conversion.Speed <= 0 {
		c.Conversion.Speed = DefaultSpeed
	}

	if c.Conversion.SilenceBetweenChunks < 0 {
		c.Conversion.SilenceBetweenChunks = DefaultSilenceBetweenChunks
	}

	if c.Conversion.SilenceBetweenChapters < 0 {
		c.Conversion.SilenceBetweenChapters = DefaultSilenceBetweenChapters
	}

	if c.Conversion.TargetLevelDBFS == 0 {
		c.Conversion.TargetLevelDBFS = DefaultTargetLevelDBFS
	}

	if c.Conversion.Bitrate == "" {
		c.Conversion.Bitrate = DefaultBitrate
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Engine.ModelPath == "" && c.Engine.ServiceURL == "" {
		return fmt.Errorf(
			"%w: one of engine.model_path or engine.service_url is required",
			ErrInvalidConfig,
		)
	}

	if c.Conversion.TargetLevelDBFS > 0 {
		return fmt.Errorf(
			"%w: conversion.target_level_dbfs must be negative or zero",
			ErrInvalidConfig,
		)
	}

	if c.Paths.OutputDir == "" {
		return fmt.Errorf("%w: paths.output_dir is required", ErrInvalidConfig)
	}

	return nil
}

// EnsureDirectories creates the directories the service writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.BaseLogsDir, c.Paths.OutputDir}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}

		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
