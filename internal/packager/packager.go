// Package packager encodes assembled chapter tracks and muxes them into a
// chaptered m4b audiobook with ffmpeg. Output is written to a scratch file
// and renamed into place, so a failed or cancelled job never leaves a
// partial audiobook behind.
package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/audio"
	"github.com/book-expert/audiobook-creator/internal/core"
)

const ffmpegBinary = "ffmpeg"

// DefaultBitrate is the AAC bitrate used when none is configured. Spoken
// word stays transparent well below music bitrates.
const DefaultBitrate = "64k"

// markerTimebase is the ffmetadata chapter timebase denominator.
const markerTimebase = 1000

// ErrNoTracks is returned when packaging is invoked with nothing to mux.
var ErrNoTracks = errors.New("no chapter tracks to package")

// FFmpegPackager drives the ffmpeg binary.
type FFmpegPackager struct {
	log     *logger.Logger
	bitrate string
}

// New creates a packager. An empty bitrate falls back to DefaultBitrate.
func New(bitrate string, log *logger.Logger) *FFmpegPackager {
	if bitrate == "" {
		bitrate = DefaultBitrate
	}

	return &FFmpegPackager{log: log, bitrate: bitrate}
}

// Available reports whether ffmpeg is installed.
func (p *FFmpegPackager) Available() error {
	if _, err := exec.LookPath(ffmpegBinary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", ffmpegBinary, err)
	}

	return nil
}

// Version returns the first line of ffmpeg's version banner.
func (p *FFmpegPackager) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, ffmpegBinary, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s -version failed: %w", ffmpegBinary, err)
	}

	line, _, _ := strings.Cut(string(output), "\n")

	return strings.TrimSpace(line), nil
}

// Package writes the tracks as WAV, builds the concat list and ffmetadata
// chapter map, and muxes everything into outputPath.
func (p *FFmpegPackager) Package(
	ctx context.Context,
	tracks []core.ChapterTrack,
	markers []core.ChapterMarker,
	meta core.Metadata,
	outputPath string,
) error {
	if len(tracks) == 0 {
		return ErrNoTracks
	}

	if err := p.Available(); err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "audiobook-pack-*")
	if err != nil {
		return fmt.Errorf("failed to create packaging work dir: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			p.log.Warn("Failed to remove work dir '%s': %v", workDir, removeErr)
		}
	}()

	listPath, err := p.writeTracks(workDir, tracks)
	if err != nil {
		return err
	}

	metaPath := filepath.Join(workDir, "metadata.txt")

	metaErr := os.WriteFile(metaPath, []byte(MetadataFile(meta, markers)), 0o600)
	if metaErr != nil {
		return fmt.Errorf("failed to write metadata file: %w", metaErr)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Scratch output in the destination directory so the final rename is
	// atomic on the same filesystem.
	scratch := filepath.Join(
		filepath.Dir(outputPath),
		"."+filepath.Base(outputPath)+".partial",
	)

	if err := p.mux(ctx, listPath, metaPath, scratch); err != nil {
		p.removeScratch(scratch)

		return err
	}

	if err := os.Rename(scratch, outputPath); err != nil {
		p.removeScratch(scratch)

		return fmt.Errorf("failed to move audiobook into place: %w", err)
	}

	p.log.Info("packaged %d chapters into %s", len(tracks), outputPath)

	return nil
}

func (p *FFmpegPackager) writeTracks(
	workDir string,
	tracks []core.ChapterTrack,
) (string, error) {
	var list strings.Builder

	for i, track := range tracks {
		name := fmt.Sprintf("chapter-%04d.wav", i)
		path := filepath.Join(workDir, name)

		err := audio.WriteWAVFile(path, track.Samples, track.SampleRate)
		if err != nil {
			return "", fmt.Errorf("failed to write chapter %d audio: %w", i, err)
		}

		fmt.Fprintf(&list, "file '%s'\n", name)
	}

	listPath := filepath.Join(workDir, "tracks.txt")

	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}

	return listPath, nil
}

func (p *FFmpegPackager) mux(ctx context.Context, listPath, metaPath, outPath string) error {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-i", metaPath,
		"-map_metadata", "1",
		"-c:a", "aac",
		"-b:a", p.bitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		outPath,
	}

	// #nosec G204 -- all arguments are generated paths and fixed flags
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("packaging interrupted: %w", ctx.Err())
		}

		return fmt.Errorf(
			"%s execution failed: %w - output: %s",
			ffmpegBinary, err, string(output),
		)
	}

	return nil
}

func (p *FFmpegPackager) removeScratch(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		p.log.Warn("Failed to remove scratch file '%s': %v", path, removeErr)
	}
}

// MetadataFile renders the ffmetadata document carrying the book tags and
// chapter markers in a millisecond timebase.
func MetadataFile(meta core.Metadata, markers []core.ChapterMarker) string {
	var b strings.Builder

	b.WriteString(";FFMETADATA1\n")
	writeTag(&b, "title", meta.Title)
	writeTag(&b, "artist", meta.Author)
	writeTag(&b, "composer", meta.Narrator)
	writeTag(&b, "comment", meta.Comment)
	writeTag(&b, "genre", "Audiobook")

	for _, marker := range markers {
		fmt.Fprintf(
			&b,
			"[CHAPTER]\nTIMEBASE=1/%d\nSTART=%d\nEND=%d\n",
			markerTimebase,
			marker.Start.Milliseconds(),
			marker.End.Milliseconds(),
		)
		writeTag(&b, "title", marker.Title)
	}

	return b.String()
}

func writeTag(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}

	fmt.Fprintf(b, "%s=%s\n", key, escapeTag(value))
}

// escapeTag protects the characters the ffmetadata parser treats specially.
func escapeTag(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		"=", `\=`,
		";", `\;`,
		"#", `\#`,
		"\n", `\`+"\n",
	)

	return replacer.Replace(value)
}

// EstimateSize predicts the output file size from the total duration and the
// configured bitrate, for pre-flight disk checks.
func (p *FFmpegPackager) EstimateSize(total time.Duration) int64 {
	bits := bitrateBits(p.bitrate)
	if bits == 0 {
		return 0
	}

	return int64(total.Seconds() * float64(bits) / 8)
}

func bitrateBits(bitrate string) int64 {
	value := strings.TrimSuffix(strings.ToLower(bitrate), "k")

	var n int64

	_, err := fmt.Sscanf(value, "%d", &n)
	if err != nil {
		return 0
	}

	if strings.HasSuffix(strings.ToLower(bitrate), "k") {
		n *= 1000
	}

	return n
}
