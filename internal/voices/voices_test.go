package voices_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/voices"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voices.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestBuiltinCatalog(t *testing.T) {
	t.Parallel()

	catalog := voices.Builtin()

	assert.NotEmpty(t, catalog.List())
	assert.Equal(t, "tara", catalog.Default().ID)

	voice, err := catalog.Get("leo")
	require.NoError(t, err)
	assert.Equal(t, "male", voice.Gender)
}

func TestLoadFromTOML(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[[voices]]
id = "narrator-a"
name = "Narrator A"
language = "en"
gender = "female"
default = true

[[voices]]
id = "narrator-b"
name = "Narrator B"
language = "en"
gender = "male"
`)

	catalog, err := voices.Load(path)
	require.NoError(t, err)

	assert.Len(t, catalog.List(), 2)
	assert.Equal(t, "narrator-a", catalog.Default().ID)

	_, err = catalog.Get("narrator-c")
	require.ErrorIs(t, err, voices.ErrUnknownVoice)
}

func TestLoadRejectsInvalidCatalogs(t *testing.T) {
	t.Parallel()

	_, err := voices.Load(writeCatalog(t, ""))
	require.ErrorIs(t, err, voices.ErrEmptyCatalog)

	_, err = voices.Load(writeCatalog(t, `
[[voices]]
id = "dup"

[[voices]]
id = "dup"
`))
	require.ErrorIs(t, err, voices.ErrDuplicateID)

	_, err = voices.Load(writeCatalog(t, `
[[voices]]
name = "No ID"
`))
	require.ErrorIs(t, err, voices.ErrMissingID)
}

func TestDefaultFallsBackToFirst(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[[voices]]
id = "only"
name = "Only"
`)

	catalog, err := voices.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "only", catalog.Default().ID)
}
