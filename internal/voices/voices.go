// Package voices manages the narrator catalog. Voices ship with a built-in
// set matching the Orpheus model and can be extended from a TOML file.
package voices

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Static errors for catalog validation.
var (
	ErrEmptyCatalog = errors.New("voice catalog is empty")
	ErrDuplicateID  = errors.New("duplicate voice id")
	ErrMissingID    = errors.New("voice entry without id")
	ErrUnknownVoice = errors.New("unknown voice")
)

// Voice describes one narrator.
type Voice struct {
	ID          string `toml:"id"          json:"id"`
	Name        string `toml:"name"        json:"name"`
	Language    string `toml:"language"    json:"language"`
	Gender      string `toml:"gender"      json:"gender"`
	Description string `toml:"description" json:"description"`
	Default     bool   `toml:"default"     json:"default"`
}

// catalogFile is the TOML document shape.
type catalogFile struct {
	Voices []Voice `toml:"voices"`
}

// Catalog is an immutable, validated voice set.
type Catalog struct {
	voices []Voice
	byID   map[string]Voice
}

// Builtin returns the catalog for the stock Orpheus voices.
func Builtin() *Catalog {
	catalog, err := newCatalog([]Voice{
		{ID: "tara", Name: "Tara", Language: "en", Gender: "female", Default: true},
		{ID: "leah", Name: "Leah", Language: "en", Gender: "female"},
		{ID: "jess", Name: "Jess", Language: "en", Gender: "female"},
		{ID: "leo", Name: "Leo", Language: "en", Gender: "male"},
		{ID: "dan", Name: "Dan", Language: "en", Gender: "male"},
		{ID: "mia", Name: "Mia", Language: "en", Gender: "female"},
		{ID: "zac", Name: "Zac", Language: "en", Gender: "male"},
		{ID: "zoe", Name: "Zoe", Language: "en", Gender: "female"},
	})
	if err != nil {
		panic(err)
	}

	return catalog
}

// Load reads a catalog from a TOML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading voice catalog %s: %w", path, err)
	}

	var file catalogFile

	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing voice catalog %s: %w", path, err)
	}

	return newCatalog(file.Voices)
}

func newCatalog(entries []Voice) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCatalog
	}

	byID := make(map[string]Voice, len(entries))

	for _, voice := range entries {
		if voice.ID == "" {
			return nil, ErrMissingID
		}

		if _, exists := byID[voice.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, voice.ID)
		}

		byID[voice.ID] = voice
	}

	return &Catalog{voices: entries, byID: byID}, nil
}

// List returns the voices in catalog order.
func (c *Catalog) List() []Voice {
	return append([]Voice(nil), c.voices...)
}

// Get looks up a voice by id.
func (c *Catalog) Get(id string) (Voice, error) {
	voice, ok := c.byID[id]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %s", ErrUnknownVoice, id)
	}

	return voice, nil
}

// Default returns the voice flagged as default, falling back to the first
// entry.
func (c *Catalog) Default() Voice {
	for _, voice := range c.voices {
		if voice.Default {
			return voice
		}
	}

	return c.voices[0]
}
