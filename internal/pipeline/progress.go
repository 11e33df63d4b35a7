package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// Stage weights for the overall progress fraction. Synthesis dominates wall
// time on every profiled source, so it gets the bulk of the range.
const (
	weightParsing      = 0.05
	weightCleaning     = 0.10
	weightSynthesizing = 0.70
	weightEncoding     = 0.10
	weightPackaging    = 0.05
)

// etaWindow is the number of recent chunk durations averaged for the ETA.
const etaWindow = 8

// tracker owns the job snapshot and pushes updates to the sink. The reported
// progress fraction never decreases, even when stage estimates are revised.
type tracker struct {
	mu        sync.Mutex
	snapshot  core.JobSnapshot
	sink      core.ProgressSink
	durations []time.Duration
	next      int
}

func newTracker(jobID, sourcePath string, sink core.ProgressSink) *tracker {
	return &tracker{
		snapshot: core.JobSnapshot{
			JobID:      jobID,
			SourcePath: sourcePath,
			Stage:      core.StageIdle,
			StartedAt:  time.Now().UTC(),
		},
		sink:      sink,
		durations: make([]time.Duration, 0, etaWindow),
	}
}

// setStage advances the stage machine. Invalid edges are dropped so a late
// update can never resurrect a terminal job.
func (t *tracker) setStage(stage core.Stage, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !core.ValidTransition(t.snapshot.Stage, stage) {
		return
	}

	t.snapshot.Stage = stage
	t.snapshot.Message = message
	t.publishLocked()
}

// setChapters records the chapter totals discovered during parsing.
func (t *tracker) setChapters(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshot.ChaptersTotal = total
	t.publishLocked()
}

// chapterCleaned bumps cleaning-stage progress. ChaptersDone is reserved for
// synthesis so it stays monotonic across the job.
func (t *tracker) chapterCleaned(done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.advanceLocked(weightParsing + weightCleaning*fraction(done, total))
	t.publishLocked()
}

// chunkSynthesized records one finished chunk: its duration feeds the ETA
// window and the chunk counters feed the progress fraction.
func (t *tracker) chunkSynthesized(elapsed time.Duration, done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.durations) < etaWindow {
		t.durations = append(t.durations, elapsed)
	} else {
		t.durations[t.next] = elapsed
		t.next = (t.next + 1) % etaWindow
	}

	t.snapshot.CurrentChunkIndex = done
	t.snapshot.CurrentChunkTotal = total
	t.snapshot.ETA, t.snapshot.ETAKnown = t.etaLocked(total - done)
	t.advanceLocked(
		weightParsing + weightCleaning + weightSynthesizing*fraction(done, total),
	)
	t.publishLocked()
}

// chapterSynthesized bumps the chapter counter once a chapter's last chunk
// lands. The counter is monotonic across the whole job.
func (t *tracker) chapterSynthesized(done int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshot.ChaptersDone = done
	t.publishLocked()
}

// chapterEncoded bumps encoding-stage progress.
func (t *tracker) chapterEncoded(done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.advanceLocked(
		weightParsing + weightCleaning + weightSynthesizing +
			weightEncoding*fraction(done, total),
	)
	t.publishLocked()
}

// finish marks the terminal stage and emits the terminal event. The progress
// fraction snaps to 1 only on success.
func (t *tracker) finish(stage core.Stage, errInfo *core.ErrorInfo) {
	t.mu.Lock()

	if t.snapshot.Stage.Terminal() {
		t.mu.Unlock()

		return
	}

	t.snapshot.Stage = stage
	t.snapshot.Error = errInfo
	t.snapshot.ETAKnown = false
	t.snapshot.ETA = 0

	if stage == core.StageComplete {
		t.snapshot.Progress = 1
	}

	snapshot := t.snapshot
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.OnProgress(snapshot)
		t.sink.OnTerminal(stage, errInfo)
	}
}

func (t *tracker) log(level, format string, args ...any) {
	if t.sink == nil {
		return
	}

	t.sink.OnLog(core.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	})
}

func (t *tracker) current() core.JobSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshot
}

// advanceLocked raises the fraction, never lowers it.
func (t *tracker) advanceLocked(target float64) {
	if target > 1 {
		target = 1
	}

	if target > t.snapshot.Progress {
		t.snapshot.Progress = target
	}
}

func (t *tracker) etaLocked(remaining int) (time.Duration, bool) {
	if len(t.durations) == 0 || remaining <= 0 {
		return 0, false
	}

	var sum time.Duration
	for _, d := range t.durations {
		sum += d
	}

	perChunk := sum / time.Duration(len(t.durations))

	return perChunk * time.Duration(remaining), true
}

func (t *tracker) publishLocked() {
	if t.sink == nil {
		return
	}

	t.sink.OnProgress(t.snapshot)
}

func fraction(done, total int) float64 {
	if total <= 0 {
		return 1
	}

	return float64(done) / float64(total)
}
