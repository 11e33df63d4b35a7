// Package worker_test tests the NATS bridge for the conversion service.
package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/core"
	"github.com/book-expert/audiobook-creator/internal/jobs"
	"github.com/book-expert/audiobook-creator/internal/library"
	"github.com/book-expert/audiobook-creator/internal/voices"
	"github.com/book-expert/audiobook-creator/internal/worker"
)

var testSubjects = worker.Subjects{
	Convert:        "audiobook.convert",
	Cancel:         "audiobook.cancel",
	Status:         "audiobook.status",
	ProgressPrefix: "audiobook.progress",
}

type runnerCall struct {
	jobID      string
	sourcePath string
	opts       core.JobOptions
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []runnerCall
	block   chan struct{}
	started chan string
	done    chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		started: make(chan string, 4),
		done:    make(chan struct{}, 4),
	}
}

func (r *fakeRunner) Run(
	ctx context.Context,
	jobID, sourcePath string,
	opts core.JobOptions,
) (*core.JobResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{jobID: jobID, sourcePath: sourcePath, opts: opts})
	block := r.block
	r.mu.Unlock()

	r.started <- jobID

	defer func() { r.done <- struct{}{} }()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, core.ErrCancelled
		}
	}

	return &core.JobResult{
		JobID:       jobID,
		SourcePath:  sourcePath,
		OutputPath:  opts.OutputPath,
		Voice:       opts.Voice,
		CompletedAt: time.Now().UTC(),
	}, nil
}

func (r *fakeRunner) lastCall(t *testing.T) runnerCall {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	require.NotEmpty(t, r.calls)

	return r.calls[len(r.calls)-1]
}

type fakeLibrary struct {
	mu    sync.Mutex
	saved []core.JobResult
}

func (l *fakeLibrary) Save(_ context.Context, result core.JobResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.saved = append(l.saved, result)

	return nil
}

func (l *fakeLibrary) List(_ context.Context) ([]core.JobResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]core.JobResult(nil), l.saved...), nil
}

func (l *fakeLibrary) Get(_ context.Context, jobID string) (core.JobResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, result := range l.saved {
		if result.JobID == jobID {
			return result, nil
		}
	}

	return core.JobResult{}, library.ErrNotInLibrary
}

func (l *fakeLibrary) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.saved)
}

type testHarness struct {
	conn    *nats.Conn
	runner  *fakeRunner
	library *fakeLibrary
	manager *jobs.Manager
}

func setupTest(t *testing.T) *testHarness {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	testLogger := newTestLogger(t)

	runner := newFakeRunner()
	lib := &fakeLibrary{}
	manager := jobs.NewManager(testLogger)

	defaults := core.JobOptions{Speed: 1.0, MaxChunkTokens: 500}

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, testSubjects, manager, runner, lib,
		voices.Builtin(), t.TempDir(), defaults, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = workerInstance.Run(ctx)
	}()

	require.NoError(t, natsConnection.Flush())

	return &testHarness{
		conn:    natsConnection,
		runner:  runner,
		library: lib,
		manager: manager,
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { testLogger.Close() })

	return testLogger
}

func request[T any](t *testing.T, conn *nats.Conn, subject string, payload any) T {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	msg, err := conn.Request(subject, data, 5*time.Second)
	require.NoError(t, err)

	var reply T

	require.NoError(t, json.Unmarshal(msg.Data, &reply))

	return reply
}

func TestConvertRunsJobAndSavesRecord(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	reply := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert,
		worker.ConvertRequest{SourcePath: "/books/novel.pdf", Voice: "leo"},
	)

	require.True(t, reply.Accepted, "convert was rejected: %s", reply.Error)
	assert.NotEmpty(t, reply.JobID)

	select {
	case <-harness.runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never finished")
	}

	call := harness.runner.lastCall(t)
	assert.Equal(t, reply.JobID, call.jobID)
	assert.Equal(t, "/books/novel.pdf", call.sourcePath)
	assert.Equal(t, "leo", call.opts.Voice)
	assert.Contains(t, call.opts.OutputPath, "novel.m4b")

	require.Eventually(t, func() bool {
		return harness.library.count() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConvertRejectsConcurrentJob(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)
	harness.runner.block = make(chan struct{})

	first := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert,
		worker.ConvertRequest{SourcePath: "/books/a.pdf"},
	)
	require.True(t, first.Accepted)

	<-harness.runner.started

	second := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert,
		worker.ConvertRequest{SourcePath: "/books/b.pdf"},
	)
	assert.False(t, second.Accepted)
	assert.NotEmpty(t, second.Error)

	close(harness.runner.block)
}

func TestConvertValidatesRequest(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	noSource := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert, worker.ConvertRequest{},
	)
	assert.False(t, noSource.Accepted)
	assert.Contains(t, noSource.Error, "source path")

	badVoice := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert,
		worker.ConvertRequest{SourcePath: "/books/a.pdf", Voice: "nobody"},
	)
	assert.False(t, badVoice.Accepted)

	badSpeed := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert,
		worker.ConvertRequest{SourcePath: "/books/a.pdf", Speed: 9},
	)
	assert.False(t, badSpeed.Accepted)
	assert.Contains(t, badSpeed.Error, "speed")
}

func TestConvertUsesDefaultVoice(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	reply := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert,
		worker.ConvertRequest{SourcePath: "/books/novel.epub"},
	)
	require.True(t, reply.Accepted)

	select {
	case <-harness.runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never finished")
	}

	call := harness.runner.lastCall(t)
	assert.Equal(t, voices.Builtin().Default().ID, call.opts.Voice)
}

func TestCancelStopsRunningJob(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)
	harness.runner.block = make(chan struct{})

	accepted := request[worker.ConvertReply](
		t, harness.conn, testSubjects.Convert,
		worker.ConvertRequest{SourcePath: "/books/a.pdf"},
	)
	require.True(t, accepted.Accepted)

	<-harness.runner.started

	cancelled := request[worker.CancelReply](
		t, harness.conn, testSubjects.Cancel,
		worker.CancelRequest{JobID: accepted.JobID},
	)
	assert.True(t, cancelled.Cancelled)

	select {
	case <-harness.runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled job never returned")
	}

	assert.Zero(t, harness.library.count())
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	reply := request[worker.CancelReply](
		t, harness.conn, testSubjects.Cancel,
		worker.CancelRequest{JobID: "ghost"},
	)
	assert.False(t, reply.Cancelled)
	assert.NotEmpty(t, reply.Error)
}

func TestStatusReturnsLastSnapshot(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	harness.manager.OnProgress(core.JobSnapshot{
		JobID:    "job-x",
		Stage:    core.StageSynthesizing,
		Progress: 0.4,
	})

	reply := request[worker.StatusReply](
		t, harness.conn, testSubjects.Status,
		worker.StatusRequest{JobID: "job-x"},
	)
	require.Empty(t, reply.Error)
	assert.Equal(t, core.StageSynthesizing, reply.Snapshot.Stage)
	assert.InDelta(t, 0.4, reply.Snapshot.Progress, 1e-9)
}

func TestStatusWithoutActiveJob(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	reply := request[worker.StatusReply](
		t, harness.conn, testSubjects.Status, worker.StatusRequest{},
	)
	assert.NotEmpty(t, reply.Error)
}

func TestProgressPublisherStreamsSnapshots(t *testing.T) {
	t.Parallel()

	harness := setupTest(t)

	received := make(chan worker.ProgressEvent, 1)

	_, err := harness.conn.Subscribe(
		testSubjects.ProgressPrefix+".job-p",
		func(msg *nats.Msg) {
			var event worker.ProgressEvent
			if json.Unmarshal(msg.Data, &event) == nil {
				received <- event
			}
		},
	)
	require.NoError(t, err)
	require.NoError(t, harness.conn.Flush())

	publisher := worker.NewProgressPublisher(
		harness.conn, testSubjects.ProgressPrefix, newTestLogger(t),
	)
	publisher.OnProgress(core.JobSnapshot{JobID: "job-p", Stage: core.StageEncoding})

	select {
	case event := <-received:
		assert.Equal(t, "job-p", event.Snapshot.JobID)
		assert.Equal(t, core.StageEncoding, event.Snapshot.Stage)
		assert.Equal(t, "job-p", event.Header.WorkflowID)
		assert.NotEmpty(t, event.Header.EventID)
	case <-time.After(5 * time.Second):
		t.Fatal("no progress event received")
	}
}
