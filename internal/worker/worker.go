// Package worker exposes the conversion pipeline over NATS. It listens for
// convert, cancel, and status requests, runs at most one conversion at a
// time through the jobs manager, and streams progress on a per-job subject.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audiobook-creator/internal/core"
	"github.com/book-expert/audiobook-creator/internal/jobs"
	"github.com/book-expert/audiobook-creator/internal/voices"
)

const librarySaveTimeout = 30 * time.Second

// Static errors for request validation.
var (
	ErrSourcePathEmpty = errors.New("source path cannot be empty")
	ErrSpeedRange      = errors.New("speed must be between 0.5 and 2.0")
)

// Runner executes one conversion job. The pipeline orchestrator satisfies
// this.
type Runner interface {
	Run(ctx context.Context, jobID, sourcePath string, opts core.JobOptions) (*core.JobResult, error)
}

// Subjects names the NATS subjects the worker serves.
type Subjects struct {
	Convert        string
	Cancel         string
	Status         string
	ProgressPrefix string
}

// NatsWorker bridges NATS requests to the conversion pipeline.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	manager        *jobs.Manager
	runner         Runner
	library        core.LibraryStore
	catalog        *voices.Catalog
	outputDir      string
	defaults       core.JobOptions
	log            *logger.Logger
}

// NewNatsWorker creates a worker. library may be nil when persistence is
// disabled.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	manager *jobs.Manager,
	runner Runner,
	library core.LibraryStore,
	catalog *voices.Catalog,
	outputDir string,
	defaults core.JobOptions,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		manager:        manager,
		runner:         runner,
		library:        library,
		catalog:        catalog,
		outputDir:      outputDir,
		defaults:       defaults,
		log:            log,
	}, nil
}

// Run subscribes to the request subjects and serves until ctx ends.
func (w *NatsWorker) Run(ctx context.Context) error {
	subs := make([]*nats.Subscription, 0, 3)

	for subject, handler := range map[string]nats.MsgHandler{
		w.subjects.Convert: w.handleConvert,
		w.subjects.Cancel:  w.handleCancel,
		w.subjects.Status:  w.handleStatus,
	} {
		sub, err := w.natsConnection.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		subs = append(subs, sub)
	}

	<-ctx.Done()

	for _, sub := range subs {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription: %w", drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleConvert(msg *nats.Msg) {
	var request ConvertRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil {
		w.log.Error("Failed to unmarshal convert request: %v", err)
		w.respond(msg, ConvertReply{Accepted: false, Error: "malformed request"})

		return
	}

	w.respond(msg, w.StartConversion(request))
}

// StartConversion validates the request and admits it as a new job. It is
// shared by the NATS handler and the HTTP gateway.
func (w *NatsWorker) StartConversion(request ConvertRequest) ConvertReply {
	opts, err := w.resolveOptions(&request)
	if err != nil {
		return ConvertReply{Accepted: false, Error: err.Error()}
	}

	jobID := uuid.NewString()

	startErr := w.manager.Start(context.Background(), jobID, func(jobCtx context.Context) {
		w.runJob(jobCtx, jobID, request.SourcePath, opts)
	})
	if startErr != nil {
		return ConvertReply{Accepted: false, Error: startErr.Error()}
	}

	return ConvertReply{JobID: jobID, Accepted: true}
}

func (w *NatsWorker) runJob(
	ctx context.Context,
	jobID, sourcePath string,
	opts core.JobOptions,
) {
	result, err := w.runner.Run(ctx, jobID, sourcePath, opts)
	if err != nil {
		w.log.Error("Conversion %s finished with error: %v", jobID, err)

		return
	}

	if w.library == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), librarySaveTimeout)
	defer cancel()

	if saveErr := w.library.Save(saveCtx, *result); saveErr != nil {
		w.log.Error("Failed to save library record for %s: %v", jobID, saveErr)
	}
}

func (w *NatsWorker) handleCancel(msg *nats.Msg) {
	var request CancelRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil {
		w.log.Error("Failed to unmarshal cancel request: %v", err)
		w.respond(msg, CancelReply{Cancelled: false, Error: "malformed request"})

		return
	}

	jobID := request.JobID
	if jobID == "" {
		jobID, _ = w.manager.ActiveID()
	}

	if err := w.manager.Cancel(jobID); err != nil {
		w.respond(msg, CancelReply{Cancelled: false, Error: err.Error()})

		return
	}

	w.respond(msg, CancelReply{Cancelled: true})
}

func (w *NatsWorker) handleStatus(msg *nats.Msg) {
	var request StatusRequest

	if err := json.Unmarshal(msg.Data, &request); err != nil {
		w.log.Error("Failed to unmarshal status request: %v", err)
		w.respond(msg, StatusReply{Error: "malformed request"})

		return
	}

	jobID := request.JobID
	if jobID == "" {
		active, ok := w.manager.ActiveID()
		if !ok {
			w.respond(msg, StatusReply{Error: "no active job"})

			return
		}

		jobID = active
	}

	snapshot, err := w.manager.Snapshot(jobID)
	if err != nil {
		w.respond(msg, StatusReply{Error: err.Error()})

		return
	}

	w.respond(msg, StatusReply{Snapshot: snapshot})
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	if err := msg.Respond(data); err != nil {
		w.log.Error("Failed to publish reply: %v", err)
	}
}

// resolveOptions merges the request with the configured defaults.
func (w *NatsWorker) resolveOptions(request *ConvertRequest) (core.JobOptions, error) {
	if strings.TrimSpace(request.SourcePath) == "" {
		return core.JobOptions{}, ErrSourcePathEmpty
	}

	opts := w.defaults

	if request.Voice != "" {
		opts.Voice = request.Voice
	}

	if opts.Voice == "" {
		opts.Voice = w.catalog.Default().ID
	}

	if _, err := w.catalog.Get(opts.Voice); err != nil {
		return core.JobOptions{}, err
	}

	if request.Speed != 0 {
		opts.Speed = request.Speed
	}

	if opts.Speed < 0.5 || opts.Speed > 2.0 {
		return core.JobOptions{}, fmt.Errorf("%w: got %.2f", ErrSpeedRange, opts.Speed)
	}

	if request.CleaningEnabled != nil {
		opts.CleaningEnabled = *request.CleaningEnabled
	}

	opts.Metadata.Title = request.Title
	opts.Metadata.Author = request.Author
	opts.OutputPath = filepath.Join(w.outputDir, outputName(request))

	return opts, nil
}

func outputName(request *ConvertRequest) string {
	name := request.OutputName
	if name == "" {
		base := filepath.Base(request.SourcePath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	name = sanitizeName(name)
	if !strings.HasSuffix(name, ".m4b") {
		name += ".m4b"
	}

	return name
}

// sanitizeName keeps output files inside the output directory regardless of
// what the request contains.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	name = replacer.Replace(name)

	return strings.TrimLeft(name, ". ")
}

// ProgressPublisher streams snapshots to NATS on the per-job progress
// subject. It satisfies the pipeline's progress sink contract.
type ProgressPublisher struct {
	natsConnection *nats.Conn
	prefix         string
	log            *logger.Logger
}

// NewProgressPublisher creates a publisher for prefix + "." + jobID.
func NewProgressPublisher(
	natsConnection *nats.Conn,
	prefix string,
	log *logger.Logger,
) *ProgressPublisher {
	return &ProgressPublisher{natsConnection: natsConnection, prefix: prefix, log: log}
}

// OnProgress publishes the snapshot.
func (p *ProgressPublisher) OnProgress(snapshot core.JobSnapshot) {
	event := ProgressEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: snapshot.JobID,
			EventID:    uuid.NewString(),
		},
		Snapshot: snapshot,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to marshal progress event: %v", err)

		return
	}

	subject := p.prefix + "." + snapshot.JobID

	if err := p.natsConnection.Publish(subject, data); err != nil {
		p.log.Error("Failed to publish progress for %s: %v", snapshot.JobID, err)
	}
}

// OnLog is part of the progress sink contract; log entries stay local.
func (p *ProgressPublisher) OnLog(_ core.LogEntry) {}

// OnTerminal is part of the progress sink contract. The terminal snapshot
// is already published through OnProgress.
func (p *ProgressPublisher) OnTerminal(_ core.Stage, _ *core.ErrorInfo) {}
