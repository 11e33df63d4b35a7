// Package jobs tracks conversion jobs and enforces the single-active-job
// policy: the inference device cannot serve two books at once, so a second
// conversion request is rejected until the first reaches a terminal stage.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// Static errors for job admission and lookup.
var (
	ErrJobActive  = errors.New("a conversion is already running")
	ErrUnknownJob = errors.New("unknown job")
)

type activeJob struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager admits one running job at a time and retains the last snapshot of
// every job it has seen. It doubles as a progress sink, so it can sit
// between the pipeline and any number of status readers.
type Manager struct {
	mu        sync.Mutex
	active    *activeJob
	snapshots map[string]core.JobSnapshot
	log       *logger.Logger
}

// NewManager creates an empty Manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		snapshots: make(map[string]core.JobSnapshot),
		log:       log,
	}
}

// Start admits jobID and runs work on its own goroutine with a cancellable
// context derived from ctx. It fails with ErrJobActive while another job is
// still running.
func (m *Manager) Start(ctx context.Context, jobID string, work func(ctx context.Context)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		select {
		case <-m.active.done:
			// Previous job finished; slot is free.
		default:
			return fmt.Errorf("%w: %s", ErrJobActive, m.active.id)
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &activeJob{
		id:     jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active = job

	go func() {
		defer cancel()
		defer close(job.done)

		work(jobCtx)
	}()

	m.log.Info("job %s: admitted", jobID)

	return nil
}

// Cancel requests cooperative cancellation of the named job. Cancelling a
// finished or unknown job is an error; cancelling twice is not.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.id != jobID {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	m.active.cancel()
	m.log.Info("job %s: cancellation requested", jobID)

	return nil
}

// ActiveID reports the running job, if any.
func (m *Manager) ActiveID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return "", false
	}

	select {
	case <-m.active.done:
		return "", false
	default:
		return m.active.id, true
	}
}

// Wait blocks until the named job's goroutine exits.
func (m *Manager) Wait(jobID string) error {
	m.mu.Lock()

	if m.active == nil || m.active.id != jobID {
		m.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	done := m.active.done
	m.mu.Unlock()

	<-done

	return nil
}

// Snapshot returns the last observed state of a job.
func (m *Manager) Snapshot(jobID string) (core.JobSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.snapshots[jobID]
	if !ok {
		return core.JobSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	return snapshot, nil
}

// OnProgress records the latest snapshot. Part of the progress sink
// contract.
func (m *Manager) OnProgress(snapshot core.JobSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[snapshot.JobID] = snapshot
}

// OnLog forwards pipeline log entries to the service log. Part of the
// progress sink contract.
func (m *Manager) OnLog(entry core.LogEntry) {
	m.log.Info("pipeline [%s]: %s", entry.Level, entry.Message)
}

// OnTerminal is part of the progress sink contract. The terminal snapshot
// already arrived through OnProgress; nothing extra to record.
func (m *Manager) OnTerminal(_ core.Stage, _ *core.ErrorInfo) {}
