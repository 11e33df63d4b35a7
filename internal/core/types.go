// Package core defines the data model, collaborator interfaces, and error
// taxonomy shared by every stage of the audiobook conversion pipeline.
package core

import "time"

// Chapter is one ordered unit of source text, produced by a DocumentSource at
// job start and immutable afterwards.
type Chapter struct {
	Index   int
	Title   string
	RawText string
}

// Document is the parsed form of a source file.
type Document struct {
	Title    string
	Author   string
	Chapters []Chapter
}

// TextChunk is a bounded slice of a chapter's (possibly normalized) text,
// sized for one speech-engine call. Concatenating all chunk texts of a chapter
// in order reconstructs the chapter text exactly.
type TextChunk struct {
	ChapterIndex    int
	ChunkIndex      int
	Text            string
	EstimatedTokens int
}

// AudioSegment is the raw audio for one synthesized chunk.
type AudioSegment struct {
	ChapterIndex int
	ChunkIndex   int
	Samples      []float32
	SampleRate   int
}

// ChapterTrack is the assembled audio for one chapter. StartOffset is the
// cumulative duration of all prior tracks; the packager needs it for chapter
// markers.
type ChapterTrack struct {
	ChapterIndex int
	Title        string
	Samples      []float32
	SampleRate   int
	StartOffset  time.Duration
}

// Duration reports the playing time of the track.
func (t ChapterTrack) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}

	seconds := float64(len(t.Samples)) / float64(t.SampleRate)

	return time.Duration(seconds * float64(time.Second))
}

// ChapterMarker describes one chapter entry in the packaged container.
type ChapterMarker struct {
	Title string        `json:"title"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Metadata carries user-visible audiobook tags.
type Metadata struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Narrator string `json:"narrator,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// JobOptions is the per-conversion configuration surface consumed by the
// orchestrator.
type JobOptions struct {
	Voice                  string
	Speed                  float64
	CleaningEnabled        bool
	MaxChunkTokens         int
	ResourceAcquireTimeout time.Duration
	SilenceBetweenChunks   time.Duration
	SilenceBetweenChapters time.Duration
	TargetLevelDBFS        float64
	OutputPath             string
	Metadata               Metadata
}

// ErrorInfo is the human-readable failure report attached to a terminal
// notification.
type ErrorInfo struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// JobSnapshot is an immutable view of an in-flight job, safe to hand across
// goroutines.
type JobSnapshot struct {
	JobID              string        `json:"job_id"`
	SourcePath         string        `json:"source_path"`
	Stage              Stage         `json:"stage"`
	ChaptersTotal      int           `json:"chapters_total"`
	ChaptersDone       int           `json:"chapters_done"`
	CurrentChunkIndex  int           `json:"current_chunk_index"`
	CurrentChunkTotal  int           `json:"current_chunk_total"`
	Progress           float64       `json:"progress"`
	ETA                time.Duration `json:"eta"`
	ETAKnown           bool          `json:"eta_known"`
	StartedAt          time.Time     `json:"started_at"`
	Message            string        `json:"message,omitempty"`
	Error              *ErrorInfo    `json:"error,omitempty"`
}

// LogEntry is one pipeline log line destined for whatever UI is attached.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// JobResult is the durable record of a completed conversion, persisted by the
// LibraryStore.
type JobResult struct {
	JobID         string          `json:"job_id"`
	SourcePath    string          `json:"source_path"`
	OutputPath    string          `json:"output_path"`
	Metadata      Metadata        `json:"metadata"`
	Voice         string          `json:"voice"`
	Chapters      []ChapterMarker `json:"chapters"`
	TotalDuration time.Duration   `json:"total_duration"`
	CompletedAt   time.Time       `json:"completed_at"`
}
