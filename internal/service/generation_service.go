package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/pipeline"
	"github.com/mindtune/api/internal/storage"
)

const (
	TaskTypeGeneration = "generation:process"
	QueueGeneration    = "generation"
)

var (
	ErrJobNotComplete     = errors.New("job not completed")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrHistoryUnavailable = errors.New("attempt history is not configured")
	ErrAsyncUnavailable   = errors.New("async generation is not configured")
)

// JobFailedError is returned for the result of a job that ended in failure
type JobFailedError struct {
	Message string
	Failure *model.FailureDetail
}

func (e *JobFailedError) Error() string {
	return e.Message
}

// Repairer re-attempts persistence from preserved artifacts
type Repairer interface {
	Repair(ctx context.Context, req *model.RepairRequest) (*model.Track, error)
}

// HistoryReader reads stored attempts
type HistoryReader interface {
	GetAttempt(ctx context.Context, id string) (*storage.Attempt, error)
	ListAttemptsByOwner(ctx context.Context, ownerID string, page, size int, filter ...storage.Filter) ([]*storage.Attempt, error)
}

// GenerationService fronts the pipeline for handlers and workers
type GenerationService struct {
	submitter   pipeline.Submitter
	repairer    Repairer
	authorizer  *pipeline.Authorizer
	jobs        *JobStore
	asynqClient *asynq.Client
	history     HistoryReader
}

// NewGenerationService wires the service. jobs, asynqClient and history may
// be nil, which disables the async and history operations.
func NewGenerationService(submitter pipeline.Submitter, repairer Repairer, authorizer *pipeline.Authorizer, jobs *JobStore, asynqClient *asynq.Client, history HistoryReader) *GenerationService {
	return &GenerationService{
		submitter:   submitter,
		repairer:    repairer,
		authorizer:  authorizer,
		jobs:        jobs,
		asynqClient: asynqClient,
		history:     history,
	}
}

// Generate runs the full pipeline and waits for the persisted track
func (s *GenerationService) Generate(ctx context.Context, req *model.GenerationRequest, caller model.Caller) (*model.Track, error) {
	r := *req
	r.Caller = caller
	return s.submitter.Submit(ctx, &r)
}

// Enqueue queues a generation for the worker
func (s *GenerationService) Enqueue(ctx context.Context, req *model.GenerationRequest, caller model.Caller) (*model.GenerationJobResponse, error) {
	if s.jobs == nil || s.asynqClient == nil {
		return nil, ErrAsyncUnavailable
	}

	r := *req
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}

	jobID := uuid.New().String()
	now := time.Now()

	requestBytes, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeGeneration,
		Status:    model.JobStatusQueued,
		State:     model.StateValidating,
		Payload:   requestBytes,
		OwnerID:   r.OwnerID,
		CallerID:  caller.UserID,
		CreatedAt: now,
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// The credential travels only inside the task, never in the job record.
	payloadBytes, err := json.Marshal(&model.GenerationJobPayload{Request: r, Caller: caller})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	task, err := newGenerationTask(jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// A retried task would call CreateSession again, so the queue never retries.
	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueGeneration),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.GenerationJobResponse{
		JobID:     jobID,
		RequestID: r.RequestID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the state of a job the caller started or owns
func (s *GenerationService) GetStatus(ctx context.Context, jobID string, caller model.Caller) (*model.GenerationStatusResponse, error) {
	job, err := s.visibleJob(ctx, jobID, caller)
	if err != nil {
		return nil, err
	}

	return &model.GenerationStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		State:       job.State,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		Failure:     job.Failure,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the track produced by a succeeded job
func (s *GenerationService) GetResult(ctx context.Context, jobID string, caller model.Caller) (*model.Track, error) {
	job, err := s.visibleJob(ctx, jobID, caller)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusSucceeded:
	case model.JobStatusFailed:
		msg := "generation failed"
		if job.Error != nil {
			msg = *job.Error
		}
		return nil, &JobFailedError{Message: msg, Failure: job.Failure}
	default:
		return nil, ErrJobNotComplete
	}

	var track model.Track
	if err := json.Unmarshal(job.Result, &track); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &track, nil
}

// CanWatch reports whether caller may subscribe to the progress of jobID
func (s *GenerationService) CanWatch(ctx context.Context, jobID string, caller model.Caller) error {
	_, err := s.visibleJob(ctx, jobID, caller)
	return err
}

func (s *GenerationService) visibleJob(ctx context.Context, jobID string, caller model.Caller) (*model.Job, error) {
	if s.jobs == nil {
		return nil, ErrJobNotFound
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// Someone else's job looks exactly like a missing one.
	if job.CallerID != caller.UserID && job.OwnerID != caller.UserID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// History lists the attempts made for ownerID, newest first. A non-empty
// state keeps only attempts currently in that state.
func (s *GenerationService) History(ctx context.Context, caller model.Caller, ownerID string, state model.PipelineState, page, size int) (*model.AttemptListResponse, error) {
	if s.history == nil {
		return nil, ErrHistoryUnavailable
	}
	if ownerID == "" {
		ownerID = caller.UserID
	}

	ctx = client.WithCredential(ctx, caller.Credential)
	if gerr := s.authorizer.Authorize(ctx, caller, ownerID); gerr != nil {
		return nil, gerr
	}

	var filters []storage.Filter
	if state != "" {
		filters = append(filters, storage.Where("state = ?", string(state)))
	}
	attempts, err := s.history.ListAttemptsByOwner(ctx, ownerID, page, size, filters...)
	if err != nil {
		return nil, err
	}

	resp := &model.AttemptListResponse{
		Attempts: make([]model.AttemptResponse, 0, len(attempts)),
		Page:     page,
		Size:     size,
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, toAttemptResponse(a))
	}
	return resp, nil
}

// HistoryDetail returns one attempt if the caller may see its owner's history
func (s *GenerationService) HistoryDetail(ctx context.Context, caller model.Caller, attemptID string) (*model.AttemptResponse, error) {
	if s.history == nil {
		return nil, ErrHistoryUnavailable
	}

	a, err := s.history.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	ctx = client.WithCredential(ctx, caller.Credential)
	if gerr := s.authorizer.Authorize(ctx, caller, a.OwnerID); gerr != nil {
		return nil, ErrAttemptNotFound
	}

	resp := toAttemptResponse(a)
	return &resp, nil
}

// Repair re-runs only the persistence stage
func (s *GenerationService) Repair(ctx context.Context, req *model.RepairRequest, caller model.Caller) (*model.Track, error) {
	r := *req
	r.Caller = caller
	return s.repairer.Repair(ctx, &r)
}

func toAttemptResponse(a *storage.Attempt) model.AttemptResponse {
	resp := model.AttemptResponse{
		AttemptID:      a.ID,
		RequestID:      a.RequestID,
		OwnerID:        a.OwnerID,
		CallerID:       a.CallerID,
		InitiatorType:  model.InitiatorType(a.InitiatorType),
		State:          model.PipelineState(a.State),
		SessionID:      a.SessionID,
		TrackID:        a.TrackID,
		Failure:        a.Failure(),
		Orphaned:       a.Orphaned,
		OrphanAudioRef: a.OrphanAudioRef,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	for _, t := range a.History {
		resp.History = append(resp.History, model.StateChange{From: t.From, To: t.To, At: t.At})
	}
	return resp
}

func newGenerationTask(jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payload),
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGeneration, data), nil
}
