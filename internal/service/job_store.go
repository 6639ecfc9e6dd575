package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindtune/api/internal/model"
)

// ErrJobNotFound is returned for unknown or expired jobs
var ErrJobNotFound = errors.New("job not found")

const jobTTL = 24 * time.Hour

type jobIDKey struct{}

// WithJobID tags ctx with the async job driving a pipeline run
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFrom returns the job id set by WithJobID, if any
func JobIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(jobIDKey{}).(string)
	return id, ok && id != ""
}

// JobStore keeps async job state in Redis under job:<id>
type JobStore struct {
	redis *redis.Client
}

func NewJobStore(redisClient *redis.Client) *JobStore {
	return &JobStore{redis: redisClient}
}

func (s *JobStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateProgress records a pipeline transition (called by worker)
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress int, state model.PipelineState, step string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusSucceeded || job.Status == model.JobStatusFailed {
		return nil
	}

	job.Progress = progress
	job.CurrentStep = step
	job.State = state

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.Save(ctx, job)
}

// Complete marks job as succeeded (called by worker)
func (s *JobStore) Complete(ctx context.Context, jobID string, result interface{}) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.State = model.StatePersisted
	job.Progress = 100
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now

	return s.Save(ctx, job)
}

// Fail marks job as failed (called by worker)
func (s *JobStore) Fail(ctx context.Context, jobID string, errMsg string, failure *model.FailureDetail) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.State = model.StateFailed
	job.Error = &errMsg
	job.Failure = failure
	now := time.Now()
	job.CompletedAt = &now

	return s.Save(ctx, job)
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}
