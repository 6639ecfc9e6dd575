package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/pipeline"
	"github.com/mindtune/api/internal/service"
	"github.com/mindtune/api/internal/websocket"
)

// GenerationWorker runs queued generation jobs through the pipeline
type GenerationWorker struct {
	generations *service.GenerationService
	jobs        *service.JobStore
	hub         *websocket.Hub
}

func NewGenerationWorker(generations *service.GenerationService, jobs *service.JobStore, hub *websocket.Hub) *GenerationWorker {
	return &GenerationWorker{
		generations: generations,
		jobs:        jobs,
		hub:         hub,
	}
}

// ProcessTask handles one generation:process task. Pipeline failures are
// recorded on the job and never retried by the queue.
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := taskPayload.JobID
	log.Printf("[worker] starting generation job %s", jobID)

	var payload model.GenerationJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "invalid payload", nil)
		return fmt.Errorf("failed to unmarshal generation payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx = service.WithJobID(ctx, jobID)
	track, err := w.generations.Generate(ctx, &payload.Request, payload.Caller)
	if err != nil {
		if gerr, ok := pipeline.AsGenerationError(err); ok {
			w.failJob(ctx, jobID, gerr.Error(), gerr.Failure())
		} else {
			w.failJob(ctx, jobID, err.Error(), nil)
		}
		return fmt.Errorf("generation job %s: %v: %w", jobID, err, asynq.SkipRetry)
	}

	if err := w.jobs.Complete(context.WithoutCancel(ctx), jobID, track); err != nil {
		// The track exists; only the job record is stale.
		log.Printf("[worker] job %s: failed to save result: %v", jobID, err)
	}

	w.hub.BroadcastComplete(jobID, track)
	log.Printf("[worker] generation job %s completed: track %d", jobID, track.TrackID)
	return nil
}

func (w *GenerationWorker) failJob(ctx context.Context, jobID, errMsg string, failure *model.FailureDetail) {
	if err := w.jobs.Fail(context.WithoutCancel(ctx), jobID, errMsg, failure); err != nil {
		log.Printf("[worker] job %s: failed to mark job as failed: %v", jobID, err)
	}
	w.hub.BroadcastError(jobID, "GENERATION_FAILED", errMsg, failure)
}
