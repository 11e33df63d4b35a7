package packager_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/core"
	"github.com/book-expert/audiobook-creator/internal/packager"
)

func TestMetadataFileLayout(t *testing.T) {
	t.Parallel()

	meta := core.Metadata{
		Title:    "A Long Walk",
		Author:   "J. Writer",
		Narrator: "narrator-a",
	}

	markers := []core.ChapterMarker{
		{Title: "One", Start: 0, End: 90 * time.Second},
		{Title: "Two", Start: 90 * time.Second, End: 200 * time.Second},
	}

	got := packager.MetadataFile(meta, markers)

	assert.True(t, strings.HasPrefix(got, ";FFMETADATA1\n"))
	assert.Contains(t, got, "title=A Long Walk\n")
	assert.Contains(t, got, "artist=J. Writer\n")
	assert.Contains(t, got, "composer=narrator-a\n")
	assert.Contains(t, got, "genre=Audiobook\n")

	assert.Contains(t, got, "[CHAPTER]\nTIMEBASE=1/1000\nSTART=0\nEND=90000\ntitle=One\n")
	assert.Contains(t, got, "START=90000\nEND=200000\ntitle=Two\n")

	assert.Equal(t, 2, strings.Count(got, "[CHAPTER]"))
}

func TestMetadataFileEscapesSpecialCharacters(t *testing.T) {
	t.Parallel()

	meta := core.Metadata{Title: `Ratio 1=2; #5 \ done`}

	got := packager.MetadataFile(meta, nil)

	assert.Contains(t, got, `title=Ratio 1\=2\; \#5 \\ done`)
}

func TestMetadataFileOmitsEmptyTags(t *testing.T) {
	t.Parallel()

	got := packager.MetadataFile(core.Metadata{Title: "Only Title"}, nil)

	assert.Contains(t, got, "title=Only Title\n")
	assert.NotContains(t, got, "artist=")
	assert.NotContains(t, got, "comment=")
}

func TestEstimateSize(t *testing.T) {
	t.Parallel()

	p := packager.New("64k", nil)

	// 64 kbit/s over one hour is roughly 28.8 MB.
	got := p.EstimateSize(time.Hour)
	assert.Equal(t, int64(3600*64000/8), got)
}

func TestPackageRejectsEmptyTrackList(t *testing.T) {
	t.Parallel()

	p := packager.New("", nil)

	err := p.Package(t.Context(), nil, nil, core.Metadata{}, "/tmp/out.m4b")
	require.ErrorIs(t, err, packager.ErrNoTracks)
}
