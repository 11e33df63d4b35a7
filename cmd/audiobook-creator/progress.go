package main

import (
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/core"
	"github.com/book-expert/audiobook-creator/internal/ingest"
)

func ingestSource(path string, log *logger.Logger) (core.DocumentSource, error) {
	source, err := ingest.ForFile(path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to select parser: %w", err)
	}

	return source, nil
}

// consoleSink renders the snapshot stream as a single updating terminal
// line.
type consoleSink struct {
	lastLen int
}

func (c *consoleSink) OnProgress(snapshot core.JobSnapshot) {
	line := fmt.Sprintf(
		"[%s] %3.0f%%", snapshot.Stage, snapshot.Progress*100,
	)

	if snapshot.ChaptersTotal > 0 {
		line += fmt.Sprintf(
			" chapter %d/%d", snapshot.ChaptersDone, snapshot.ChaptersTotal,
		)
	}

	if snapshot.CurrentChunkTotal > 0 {
		line += fmt.Sprintf(
			" chunk %d/%d", snapshot.CurrentChunkIndex, snapshot.CurrentChunkTotal,
		)
	}

	if snapshot.ETAKnown {
		line += fmt.Sprintf(" ETA %s", snapshot.ETA.Round(time.Second))
	}

	// Pad with spaces so a shorter line fully overwrites the previous one.
	pad := c.lastLen - len(line)
	c.lastLen = len(line)

	fmt.Printf("\r%s", line)

	for range max(pad, 0) {
		fmt.Print(" ")
	}
}

func (c *consoleSink) OnLog(entry core.LogEntry) {
	if entry.Level == "warn" || entry.Level == "error" {
		fmt.Printf("\n%s: %s\n", entry.Level, entry.Message)
		c.lastLen = 0
	}
}

func (c *consoleSink) OnTerminal(stage core.Stage, errInfo *core.ErrorInfo) {
	fmt.Printf("\n%s", stage)

	if errInfo != nil {
		fmt.Printf(": %s", errInfo.Message)
	}

	fmt.Println()
}
