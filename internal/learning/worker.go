// Package learning turns finished exchanges into memory entries in the
// background, one at a time, through the SQLite job queue.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/nexus/internal/storage"
)

// JobType is the queue type for memory learn jobs.
const JobType = "memory_learn"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// MemoryLearner records an exchange in the memory store.
type MemoryLearner interface {
	Learn(query, response string) (bool, error)
}

// Worker processes memory_learn jobs. Because a single worker drains the
// queue, learns never interleave their read-modify-write of the memory
// collection.
type Worker struct {
	store  JobStore
	memory MemoryLearner
	poll   time.Duration
	wake   chan struct{}
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, memory MemoryLearner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		memory: memory,
		poll:   pollInterval,
		wake:   make(chan struct{}, 1),
		logger: slog.Default(),
	}
}

type learnPayload struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// Learn queues an exchange for learning and returns without waiting for it.
func (w *Worker) Learn(query, response string) error {
	payload, err := json.Marshal(learnPayload{Query: query, Response: response})
	if err != nil {
		return fmt.Errorf("encoding learn payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if err := w.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing learn job: %w", err)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run polls for jobs until ctx is cancelled. A Learn call wakes it early.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("learning iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single memory_learn job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(job); err != nil {
		w.logger.Warn("learn job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(job *storage.Job) error {
	var payload learnPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	learned, err := w.memory.Learn(payload.Query, payload.Response)
	if err != nil {
		return fmt.Errorf("learning: %w", err)
	}
	w.logger.Debug("learn job done", "job_id", job.ID, "stored", learned)
	return nil
}
