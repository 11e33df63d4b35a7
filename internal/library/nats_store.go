// Package library persists completed conversion records so finished
// audiobooks can be browsed later. Records live as JSON objects in a NATS
// JetStream object store bucket, keyed by job id.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// ErrNotInLibrary is returned when a job id has no saved record.
var ErrNotInLibrary = errors.New("record not in library")

// NatsLibrary implements the library store on a JetStream object store.
type NatsLibrary struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// New creates the bucket if needed and binds to it.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsLibrary, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Audiobook conversion records for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf(
				"failed to create library bucket '%s': %w", bucketName, err,
			)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to bind to existing library bucket '%s': %w", bucketName, err,
			)
		}
	}

	return &NatsLibrary{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Save writes or replaces the record for result.JobID.
func (l *NatsLibrary) Save(_ context.Context, result core.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode record '%s': %w", result.JobID, err)
	}

	_, err = l.store.Put(&nats.ObjectMeta{
		Name:        result.JobID,
		Description: result.Metadata.Title,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf(
			"failed to put record '%s' to bucket '%s': %w",
			result.JobID, l.bucket, err,
		)
	}

	return nil
}

// Get fetches one record by job id.
func (l *NatsLibrary) Get(_ context.Context, jobID string) (core.JobResult, error) {
	obj, err := l.store.Get(jobID)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return core.JobResult{}, fmt.Errorf("%w: %s", ErrNotInLibrary, jobID)
		}

		return core.JobResult{}, fmt.Errorf(
			"failed to get record '%s' from bucket '%s': %w", jobID, l.bucket, err,
		)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return core.JobResult{}, fmt.Errorf("failed to read record '%s': %w", jobID, readErr)
	}

	if closeErr != nil {
		return core.JobResult{}, fmt.Errorf("failed to close record '%s': %w", jobID, closeErr)
	}

	var result core.JobResult

	if err := json.Unmarshal(data, &result); err != nil {
		return core.JobResult{}, fmt.Errorf("failed to decode record '%s': %w", jobID, err)
	}

	return result, nil
}

// List returns every record, newest first.
func (l *NatsLibrary) List(ctx context.Context) ([]core.JobResult, error) {
	infos, err := l.store.List()
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", l.bucket, err)
	}

	results := make([]core.JobResult, 0, len(infos))

	for _, info := range infos {
		result, getErr := l.Get(ctx, info.Name)
		if getErr != nil {
			return nil, getErr
		}

		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CompletedAt.After(results[j].CompletedAt)
	})

	return results, nil
}
