// Package pipeline drives a conversion job from source document to packaged
// audiobook. The orchestrator owns stage ordering, progress reporting, the
// inference-device leases, and the failure policy; the actual parsing,
// synthesis, and packaging work is delegated to the injected collaborators.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/arbiter"
	"github.com/book-expert/audiobook-creator/internal/chunker"
	"github.com/book-expert/audiobook-creator/internal/core"
)

// synthesisAttempts is the per-chunk attempt budget. One retry absorbs
// transient engine faults; persistent faults abort the job.
const synthesisAttempts = 2

// ErrMissingDependency indicates an Orchestrator constructed without one of
// its required collaborators.
var ErrMissingDependency = errors.New("missing pipeline dependency")

// Deps bundles the orchestrator's collaborators. Normalizer and Sink are
// optional; everything else is required.
type Deps struct {
	Source     core.DocumentSource
	Normalizer core.TextNormalizer
	Engine     core.SpeechEngine
	Assembler  core.AudioAssembler
	Packager   core.Packager
	Arbiter    *arbiter.Arbiter
	Splitter   *chunker.Chunker
	Sink       core.ProgressSink
	Log        *logger.Logger
}

// Orchestrator runs conversion jobs. It is stateless across jobs; each Run
// call carries its own tracker, so a single Orchestrator may serve
// consecutive jobs.
type Orchestrator struct {
	deps Deps
}

// New validates the dependency set and creates an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	required := map[string]bool{
		"source":    deps.Source == nil,
		"engine":    deps.Engine == nil,
		"assembler": deps.Assembler == nil,
		"packager":  deps.Packager == nil,
		"arbiter":   deps.Arbiter == nil,
		"logger":    deps.Log == nil,
	}

	for name, missing := range required {
		if missing {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, name)
		}
	}

	if deps.Splitter == nil {
		deps.Splitter = chunker.New()
	}

	return &Orchestrator{deps: deps}, nil
}

// Run executes one conversion job to completion. On success the packaged
// audiobook exists at opts.OutputPath and the returned result describes it.
// On failure or cancellation no output file is left behind; the error wraps
// the relevant sentinel from the core taxonomy.
func (o *Orchestrator) Run(
	ctx context.Context,
	jobID, sourcePath string,
	opts core.JobOptions,
) (*core.JobResult, error) {
	track := newTracker(jobID, sourcePath, o.deps.Sink)

	o.deps.Log.Info("job %s: starting conversion of %s", jobID, sourcePath)

	result, err := o.run(ctx, track, jobID, sourcePath, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, core.ErrCancelled) {
			o.deps.Log.Info("job %s: cancelled during %s", jobID, track.current().Stage)
			track.log("info", "conversion cancelled")
			track.finish(core.StageCancelled, nil)

			return nil, fmt.Errorf("job %s: %w", jobID, core.ErrCancelled)
		}

		stage := track.current().Stage
		o.deps.Log.Error("job %s: failed during %s: %v", jobID, stage, err)
		track.log("error", "conversion failed: %v", err)
		track.finish(core.StageFailed, &core.ErrorInfo{
			Stage:   stage,
			Message: err.Error(),
		})

		return nil, err
	}

	o.deps.Log.Info("job %s: complete, wrote %s", jobID, result.OutputPath)
	track.finish(core.StageComplete, nil)

	return result, nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	track *tracker,
	jobID, sourcePath string,
	opts core.JobOptions,
) (*core.JobResult, error) {
	doc, err := o.parse(ctx, track, sourcePath)
	if err != nil {
		return nil, err
	}

	if err := o.clean(ctx, track, doc, opts); err != nil {
		return nil, err
	}

	chapterChunks, totalChunks := o.split(doc, opts.MaxChunkTokens)

	segments, err := o.synthesize(ctx, track, chapterChunks, totalChunks, opts)
	if err != nil {
		return nil, err
	}

	tracks, markers, err := o.encode(ctx, track, doc, segments, opts)
	if err != nil {
		return nil, err
	}

	if err := o.pack(ctx, track, tracks, markers, doc, opts); err != nil {
		return nil, err
	}

	total := time.Duration(0)
	for _, t := range tracks {
		total += t.Duration()
	}

	meta := resolveMetadata(doc, opts)

	return &core.JobResult{
		JobID:         jobID,
		SourcePath:    sourcePath,
		OutputPath:    opts.OutputPath,
		Metadata:      meta,
		Voice:         opts.Voice,
		Chapters:      markers,
		TotalDuration: total,
		CompletedAt:   time.Now().UTC(),
	}, nil
}

func (o *Orchestrator) parse(
	ctx context.Context,
	track *tracker,
	sourcePath string,
) (*core.Document, error) {
	track.setStage(core.StageParsing, "parsing source document")

	doc, err := o.deps.Source.Parse(ctx, sourcePath)
	if err != nil {
		if errors.Is(err, core.ErrIngest) || errors.Is(err, context.Canceled) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %s", core.ErrIngest, err)
	}

	if len(doc.Chapters) == 0 {
		return nil, fmt.Errorf("%w: no chapters found in %s", core.ErrIngest, sourcePath)
	}

	track.setChapters(len(doc.Chapters))
	track.log("info", "parsed %d chapters", len(doc.Chapters))

	return doc, nil
}

// clean normalizes chapter text in place. The cleaning model holds the
// device for the whole stage; a per-chapter failure downgrades to the raw
// text rather than aborting the job.
func (o *Orchestrator) clean(
	ctx context.Context,
	track *tracker,
	doc *core.Document,
	opts core.JobOptions,
) error {
	if !opts.CleaningEnabled || o.deps.Normalizer == nil {
		return nil
	}

	track.setStage(core.StageCleaning, "cleaning chapter text")

	lease, err := o.deps.Arbiter.Acquire(ctx, arbiter.RoleCleaning)
	if err != nil {
		return fmt.Errorf("cleaning stage: %w", err)
	}
	defer lease.Release()

	total := len(doc.Chapters)

	for i := range doc.Chapters {
		if err := ctx.Err(); err != nil {
			return err
		}

		cleaned, cleanErr := o.deps.Normalizer.Clean(ctx, doc.Chapters[i].RawText)
		if cleanErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			o.deps.Log.Warn(
				"cleaning chapter %d failed, using raw text: %v", i, cleanErr,
			)
			track.log("warn", "chapter %d: cleaning failed, using raw text", i)
		} else {
			doc.Chapters[i].RawText = cleaned
		}

		track.chapterCleaned(i+1, total)
	}

	return nil
}

func (o *Orchestrator) split(
	doc *core.Document,
	maxTokens int,
) ([][]core.TextChunk, int) {
	chapterChunks := make([][]core.TextChunk, len(doc.Chapters))
	total := 0

	for i, chapter := range doc.Chapters {
		chapterChunks[i] = o.deps.Splitter.Split(i, chapter.RawText, maxTokens)
		total += len(chapterChunks[i])
	}

	return chapterChunks, total
}

// synthesize turns every chunk into audio. The speech lease and the loaded
// voice model span the entire stage; cancellation is honored between chunks
// so a running engine call is never interrupted mid-chunk.
func (o *Orchestrator) synthesize(
	ctx context.Context,
	track *tracker,
	chapterChunks [][]core.TextChunk,
	totalChunks int,
	opts core.JobOptions,
) ([][]core.AudioSegment, error) {
	track.setStage(core.StageSynthesizing, "synthesizing speech")

	lease, err := o.deps.Arbiter.Acquire(ctx, arbiter.RoleSpeech)
	if err != nil {
		return nil, fmt.Errorf("synthesis stage: %w", err)
	}
	defer lease.Release()

	if err := o.deps.Engine.Load(ctx, opts.Voice); err != nil {
		return nil, fmt.Errorf("loading voice %q: %w: %s", opts.Voice, core.ErrSynthesis, err)
	}

	defer func() {
		if unloadErr := o.deps.Engine.Unload(); unloadErr != nil {
			o.deps.Log.Warn("unloading voice model: %v", unloadErr)
		}
	}()

	segments := make([][]core.AudioSegment, len(chapterChunks))
	done := 0

	for chapterIdx, chunks := range chapterChunks {
		segments[chapterIdx] = make([]core.AudioSegment, 0, len(chunks))

		for _, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			started := time.Now()

			segment, synthErr := o.synthesizeChunk(ctx, track, chunk, opts.Speed)
			if synthErr != nil {
				return nil, synthErr
			}

			done++
			segments[chapterIdx] = append(segments[chapterIdx], segment)
			track.chunkSynthesized(time.Since(started), done, totalChunks)
		}

		track.chapterSynthesized(chapterIdx + 1)
	}

	return segments, nil
}

func (o *Orchestrator) synthesizeChunk(
	ctx context.Context,
	track *tracker,
	chunk core.TextChunk,
	speed float64,
) (core.AudioSegment, error) {
	var lastErr error

	for attempt := 1; attempt <= synthesisAttempts; attempt++ {
		segment, err := o.deps.Engine.Synthesize(ctx, chunk.Text, speed)
		if err == nil {
			return segment, nil
		}

		if ctx.Err() != nil {
			return core.AudioSegment{}, ctx.Err()
		}

		lastErr = err

		if attempt < synthesisAttempts {
			o.deps.Log.Warn(
				"chapter %d chunk %d: synthesis attempt %d failed, retrying: %v",
				chunk.ChapterIndex, chunk.ChunkIndex, attempt, err,
			)
			track.log(
				"warn", "chapter %d chunk %d: retrying synthesis",
				chunk.ChapterIndex, chunk.ChunkIndex,
			)
		}
	}

	return core.AudioSegment{}, fmt.Errorf(
		"chapter %d chunk %d after %d attempts: %w: %s",
		chunk.ChapterIndex, chunk.ChunkIndex, synthesisAttempts,
		core.ErrSynthesis, lastErr,
	)
}

// encode folds per-chunk segments into per-chapter tracks and derives the
// chapter markers from the cumulative offsets.
func (o *Orchestrator) encode(
	ctx context.Context,
	track *tracker,
	doc *core.Document,
	segments [][]core.AudioSegment,
	opts core.JobOptions,
) ([]core.ChapterTrack, []core.ChapterMarker, error) {
	track.setStage(core.StageEncoding, "assembling chapter audio")

	policy := core.SilencePolicy{
		BetweenChunks: opts.SilenceBetweenChunks.Seconds(),
		LeadOut:       opts.SilenceBetweenChapters.Seconds(),
	}

	tracks := make([]core.ChapterTrack, 0, len(segments))
	markers := make([]core.ChapterMarker, 0, len(segments))
	offset := time.Duration(0)

	for i, chapterSegments := range segments {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		chapterTrack, err := o.deps.Assembler.Concatenate(chapterSegments, policy)
		if err != nil {
			return nil, nil, fmt.Errorf("chapter %d: %w: %s", i, core.ErrEncoding, err)
		}

		chapterTrack = o.deps.Assembler.Normalize(chapterTrack, opts.TargetLevelDBFS)
		chapterTrack.ChapterIndex = i
		chapterTrack.Title = doc.Chapters[i].Title
		chapterTrack.StartOffset = offset

		markers = append(markers, core.ChapterMarker{
			Title: doc.Chapters[i].Title,
			Start: offset,
			End:   offset + chapterTrack.Duration(),
		})

		offset += chapterTrack.Duration()
		tracks = append(tracks, chapterTrack)
		track.chapterEncoded(i+1, len(segments))
	}

	return tracks, markers, nil
}

func (o *Orchestrator) pack(
	ctx context.Context,
	track *tracker,
	tracks []core.ChapterTrack,
	markers []core.ChapterMarker,
	doc *core.Document,
	opts core.JobOptions,
) error {
	track.setStage(core.StagePackaging, "packaging audiobook")

	if err := ctx.Err(); err != nil {
		return err
	}

	meta := resolveMetadata(doc, opts)

	err := o.deps.Packager.Package(ctx, tracks, markers, meta, opts.OutputPath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		return fmt.Errorf("%w: %s", core.ErrPackaging, err)
	}

	return nil
}

// resolveMetadata fills unset metadata fields from the parsed document.
func resolveMetadata(doc *core.Document, opts core.JobOptions) core.Metadata {
	meta := opts.Metadata

	if meta.Title == "" {
		meta.Title = doc.Title
	}

	if meta.Author == "" {
		meta.Author = doc.Author
	}

	if meta.Narrator == "" {
		meta.Narrator = opts.Voice
	}

	return meta
}
