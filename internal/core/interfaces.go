package core

import "context"

// DocumentSource parses a source file into ordered chapters. Implementations
// are format specific (markdown, PDF via pdftotext, EPUB via pandoc).
type DocumentSource interface {
	Parse(ctx context.Context, path string) (*Document, error)
}

// TextNormalizer cleans raw chapter text for synthesis (dehyphenation,
// footnote removal, unicode normalization). A normalizer failure is
// recoverable: the caller falls back to the raw text.
type TextNormalizer interface {
	Clean(ctx context.Context, text string) (string, error)
}

// SpeechEngine turns text chunks into raw audio. Load brings the named voice
// model into device memory; Unload must release it. Only one heavyweight model
// may be resident at a time, which the ResourceArbiter enforces; the engine
// itself just honors the lifecycle.
type SpeechEngine interface {
	Load(ctx context.Context, voiceID string) error
	Synthesize(ctx context.Context, text string, speed float64) (AudioSegment, error)
	Unload() error
}

// SilencePolicy controls inserted silence during assembly.
type SilencePolicy struct {
	BetweenChunks float64 // seconds
	LeadOut       float64 // seconds appended at chapter end
}

// AudioAssembler folds per-chunk segments into a chapter track.
type AudioAssembler interface {
	Concatenate(segments []AudioSegment, gap SilencePolicy) (ChapterTrack, error)
	Normalize(track ChapterTrack, targetDBFS float64) ChapterTrack
}

// Packager muxes encoded chapter tracks plus markers and metadata into the
// final container file at outputPath.
type Packager interface {
	Package(
		ctx context.Context,
		tracks []ChapterTrack,
		markers []ChapterMarker,
		meta Metadata,
		outputPath string,
	) error
}

// ProgressSink receives the orchestrator's event stream. Implementations must
// be safe to invoke from the pipeline worker goroutine while being consumed
// elsewhere.
type ProgressSink interface {
	OnProgress(snapshot JobSnapshot)
	OnLog(entry LogEntry)
	OnTerminal(stage Stage, errInfo *ErrorInfo)
}

// LibraryStore persists completed-job metadata for later browsing.
type LibraryStore interface {
	Save(ctx context.Context, result JobResult) error
	List(ctx context.Context) ([]JobResult, error)
	Get(ctx context.Context, jobID string) (JobResult, error)
}
