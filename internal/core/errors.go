package core

import "errors"

// Failure taxonomy for the conversion pipeline. Each sentinel classifies a
// family of failures; call sites wrap them with context via fmt.Errorf and %w.
var (
	// ErrIngest marks an unparseable source file. Terminal, job-level.
	ErrIngest = errors.New("document ingestion failed")

	// ErrCleaning marks a text-normalization failure. Recoverable at the
	// chapter level: the raw text is used instead.
	ErrCleaning = errors.New("text cleaning failed")

	// ErrSynthesis marks a speech-engine failure for one chunk. Retried
	// once; a second failure aborts the job.
	ErrSynthesis = errors.New("speech synthesis failed")

	// ErrResourceTimeout is returned when the inference device is not
	// released within the configured deadline.
	ErrResourceTimeout = errors.New("resource acquisition timed out")

	// ErrAlreadyHeld is returned on a re-entrant acquire for a role that
	// already holds the device. Nested holds are never granted.
	ErrAlreadyHeld = errors.New("resource already held by this role")

	// ErrEncoding marks a transcoder failure. Terminal, environment-level.
	ErrEncoding = errors.New("audio encoding failed")

	// ErrPackaging marks a container-mux failure. Terminal.
	ErrPackaging = errors.New("audiobook packaging failed")

	// ErrCancelled reports cooperative cancellation. A distinct terminal
	// outcome, not a failure.
	ErrCancelled = errors.New("conversion cancelled")
)
