// Package speech synthesizes text by driving the chatllm binary with an
// Orpheus-style TTS model and decoding its WAV output.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/audio"
	"github.com/book-expert/audiobook-creator/internal/core"
)

const chatllmBinary = "chatllm"

// Static errors for the engine lifecycle.
var (
	ErrVoiceNotLoaded = errors.New("no voice model loaded")
	ErrModelMissing   = errors.New("model file not found")
)

// Config carries the chatllm invocation parameters.
type Config struct {
	ModelPath         string
	SnacModelPath     string
	NGL               int
	Seed              int
	TopP              float64
	RepetitionPenalty float64
	Temperature       float64
}

// ChatLLMEngine implements the speech engine contract on top of the chatllm
// binary. Load and Unload bracket a voice session; the device arbiter
// guarantees only one session exists at a time.
type ChatLLMEngine struct {
	cfg Config
	log *logger.Logger

	mu    sync.Mutex
	voice string
}

// NewChatLLMEngine creates an engine from the invocation config.
func NewChatLLMEngine(cfg Config, log *logger.Logger) *ChatLLMEngine {
	return &ChatLLMEngine{cfg: cfg, log: log}
}

// Available reports whether the chatllm binary is installed.
func (e *ChatLLMEngine) Available() error {
	if _, err := exec.LookPath(chatllmBinary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", chatllmBinary, err)
	}

	return nil
}

// Load verifies the model files and opens a session for voiceID.
func (e *ChatLLMEngine) Load(ctx context.Context, voiceID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("loading voice %q: %w", voiceID, err)
	}

	if _, err := os.Stat(e.cfg.ModelPath); err != nil {
		return fmt.Errorf("%w: %s", ErrModelMissing, e.cfg.ModelPath)
	}

	if e.cfg.SnacModelPath != "" {
		if _, err := os.Stat(e.cfg.SnacModelPath); err != nil {
			return fmt.Errorf("%w: %s", ErrModelMissing, e.cfg.SnacModelPath)
		}
	}

	e.mu.Lock()
	e.voice = voiceID
	e.mu.Unlock()

	e.log.Info("voice %q ready (model %s)", voiceID, e.cfg.ModelPath)

	return nil
}

// Unload closes the voice session. Safe to call repeatedly.
func (e *ChatLLMEngine) Unload() error {
	e.mu.Lock()
	e.voice = ""
	e.mu.Unlock()

	return nil
}

// Synthesize renders one chunk of text. Speeds other than 1.0 are applied by
// resampling the engine output.
func (e *ChatLLMEngine) Synthesize(
	ctx context.Context,
	text string,
	speed float64,
) (core.AudioSegment, error) {
	e.mu.Lock()
	voice := e.voice
	e.mu.Unlock()

	if voice == "" {
		return core.AudioSegment{}, ErrVoiceNotLoaded
	}

	tempFile, err := os.CreateTemp("", "speech-output-*.wav")
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf(
			"failed to create temp file for engine output: %w", err,
		)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	if err := tempFile.Close(); err != nil {
		return core.AudioSegment{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	args := []string{
		"-m", e.cfg.ModelPath,
		"--snac_model", e.cfg.SnacModelPath,
		"-p", fmt.Sprintf("{%s}: %s", voice, text),
		"--tts_export", tempFile.Name(),
		"--seed", strconv.Itoa(e.cfg.Seed),
		"-ngl", strconv.Itoa(e.cfg.NGL),
		"--top_p", fmt.Sprintf("%.2f", e.cfg.TopP),
		"--repetition_penalty", fmt.Sprintf("%.2f", e.cfg.RepetitionPenalty),
		"--temp", fmt.Sprintf("%.2f", e.cfg.Temperature),
	}

	// #nosec G204 -- arguments are validated configuration values
	cmd := exec.CommandContext(ctx, chatllmBinary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf(
			"%s execution failed: %w - output: %s",
			chatllmBinary, err, string(output),
		)
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf(
			"failed to read engine output: %w", err,
		)
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf("decoding engine output: %w", err)
	}

	if speed > 0 && speed != 1.0 {
		samples = audio.Resample(samples, speed)
	}

	return core.AudioSegment{
		Samples:    samples,
		SampleRate: sampleRate,
	}, nil
}
