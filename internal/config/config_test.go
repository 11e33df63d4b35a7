// Package config_test tests the configuration loading for the audiobook
// creator.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/config"
)

func TestConfigUnmarshal(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
convert_subject = "audiobook.convert"
cancel_subject = "audiobook.cancel"
status_subject = "audiobook.status"
progress_subject_prefix = "audiobook.progress"
library_store_bucket = "AUDIOBOOK_LIBRARY"

[engine]
model_path = "models/orpheus.gguf"
snac_model_path = "models/snac.gguf"
ngl = 99
temperature = 0.7

[conversion]
max_chunk_tokens = 400
cleaning_enabled = true
target_level_dbfs = -16.0
bitrate = "96k"

[paths]
base_logs_dir = "/var/log/audiobook"
output_dir = "/srv/audiobooks"

[http]
addr = ":9090"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "audiobook.convert", cfg.NATS.ConvertSubject)
	assert.Equal(t, "AUDIOBOOK_LIBRARY", cfg.NATS.LibraryStoreBucket)
	assert.Equal(t, "models/orpheus.gguf", cfg.Engine.ModelPath)
	assert.Equal(t, 99, cfg.Engine.NGL)
	assert.InEpsilon(t, 0.7, cfg.Engine.Temperature, 0.001)
	assert.Equal(t, 400, cfg.Conversion.MaxChunkTokens)
	assert.True(t, cfg.Conversion.CleaningEnabled)
	assert.InEpsilon(t, -16.0, cfg.Conversion.TargetLevelDBFS, 0.001)
	assert.Equal(t, "96k", cfg.Conversion.Bitrate)
	assert.Equal(t, "/srv/audiobooks", cfg.Paths.OutputDir)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.Normalize()

	assert.Equal(t, config.DefaultMaxChunkTokens, cfg.Conversion.MaxChunkTokens)
	assert.Equal(t, config.DefaultAcquireTimeoutSeconds, cfg.Conversion.AcquireTimeoutSeconds)
	assert.InEpsilon(t, config.DefaultSpeed, cfg.Conversion.Speed, 0.001)
	assert.InEpsilon(t, config.DefaultTargetLevelDBFS, cfg.Conversion.TargetLevelDBFS, 0.001)
	assert.Equal(t, config.DefaultBitrate, cfg.Conversion.Bitrate)
	assert.Equal(t, config.DefaultHTTPAddr, cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Normalize()

	require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)

	cfg.Engine.ModelPath = "models/orpheus.gguf"
	require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)

	cfg.Paths.OutputDir = "/srv/audiobooks"
	require.NoError(t, cfg.Validate())

	cfg.Conversion.TargetLevelDBFS = 3
	require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
}

func TestValidateAcceptsServiceURLInsteadOfModel(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Normalize()
	cfg.Engine.ServiceURL = "http://localhost:8000"
	cfg.Paths.OutputDir = "/srv/audiobooks"

	require.NoError(t, cfg.Validate())
}
