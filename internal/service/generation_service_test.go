package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/pipeline"
	"github.com/mindtune/api/internal/storage"
)

type fakeSubmitter struct {
	got   *model.GenerationRequest
	track *model.Track
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, req *model.GenerationRequest) (*model.Track, error) {
	f.got = req
	return f.track, f.err
}

type fakeRepairer struct {
	got *model.RepairRequest
}

func (f *fakeRepairer) Repair(_ context.Context, req *model.RepairRequest) (*model.Track, error) {
	f.got = req
	return &model.Track{TrackID: 77, SessionID: req.SessionID, AudioRef: req.AudioRef}, nil
}

type fakeHistory struct {
	attempts map[string]*storage.Attempt
	filters  []storage.Filter
}

func (f *fakeHistory) GetAttempt(_ context.Context, id string) (*storage.Attempt, error) {
	a, ok := f.attempts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeHistory) ListAttemptsByOwner(_ context.Context, ownerID string, _, _ int, filter ...storage.Filter) ([]*storage.Attempt, error) {
	f.filters = filter
	var out []*storage.Attempt
	for _, a := range f.attempts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	status model.ConnectionStatus
}

func (f *fakeDirectory) ConnectionStatus(context.Context, string, string) (model.ConnectionStatus, error) {
	return f.status, nil
}

var patient = model.Caller{UserID: "patient-7", Role: model.RolePatient, Credential: "tok"}

func TestGenerationService_GenerateAttachesCaller(t *testing.T) {
	sub := &fakeSubmitter{track: &model.Track{TrackID: 1}}
	svc := NewGenerationService(sub, nil, pipeline.NewAuthorizer(nil), nil, nil, nil)

	req := &model.GenerationRequest{OwnerID: "patient-7"}
	track, err := svc.Generate(context.Background(), req, patient)
	require.NoError(t, err)
	assert.Equal(t, int64(1), track.TrackID)
	assert.Equal(t, patient, sub.got.Caller)
	assert.Empty(t, req.Caller.UserID, "caller request must not be mutated")
}

func TestGenerationService_EnqueueWithoutQueue(t *testing.T) {
	svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), nil, nil, nil)
	_, err := svc.Enqueue(context.Background(), &model.GenerationRequest{}, patient)
	assert.ErrorIs(t, err, ErrAsyncUnavailable)
}

func TestGenerationService_JobVisibility(t *testing.T) {
	_, rdb := newTestRedis(t)
	jobs := NewJobStore(rdb)
	ctx := context.Background()
	svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), jobs, nil, nil)

	require.NoError(t, jobs.Save(ctx, queuedJob("j1")))

	status, err := svc.GetStatus(ctx, "j1", patient)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, status.Status)

	_, err = svc.GetStatus(ctx, "j1", model.Caller{UserID: "stranger"})
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.GetResult(ctx, "j1", patient)
	assert.ErrorIs(t, err, ErrJobNotComplete)

	assert.NoError(t, svc.CanWatch(ctx, "j1", patient))
	assert.ErrorIs(t, svc.CanWatch(ctx, "j1", model.Caller{UserID: "stranger"}), ErrJobNotFound)
	assert.ErrorIs(t, svc.CanWatch(ctx, "missing", patient), ErrJobNotFound)
}

func TestGenerationService_ResultOfFailedJob(t *testing.T) {
	_, rdb := newTestRedis(t)
	jobs := NewJobStore(rdb)
	ctx := context.Background()
	svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), jobs, nil, nil)

	require.NoError(t, jobs.Save(ctx, queuedJob("j1")))
	require.NoError(t, jobs.Fail(ctx, "j1", "composer returned no audio reference", &model.FailureDetail{
		Stage: model.StageComposeAudio, Kind: model.ErrorInvalidAudioResult, Retryable: true,
	}))

	_, err := svc.GetResult(ctx, "j1", patient)
	var failed *JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, model.ErrorInvalidAudioResult, failed.Failure.Kind)
}

func TestGenerationService_ResultOfSucceededJob(t *testing.T) {
	_, rdb := newTestRedis(t)
	jobs := NewJobStore(rdb)
	ctx := context.Background()
	svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), jobs, nil, nil)

	require.NoError(t, jobs.Save(ctx, queuedJob("j1")))
	require.NoError(t, jobs.Complete(ctx, "j1", &model.Track{TrackID: 9, Title: "Jane · self-guided session #1"}))

	track, err := svc.GetResult(ctx, "j1", patient)
	require.NoError(t, err)
	assert.Equal(t, int64(9), track.TrackID)
}

func TestGenerationService_History(t *testing.T) {
	sid := int64(42)
	hist := &fakeHistory{attempts: map[string]*storage.Attempt{
		"a1": {
			ID:          "a1",
			OwnerID:     "patient-7",
			State:       string(model.StateFailed),
			SessionID:   &sid,
			AudioRef:    "r2://x",
			FailedStage: string(model.StagePersist),
			ErrorKind:   string(model.ErrorStorage),
			Retryable:   true,
			History: []pipeline.Transition{
				{From: model.StateValidating, To: model.StateSessionCreated, At: time.Now()},
			},
		},
	}}

	t.Run("own history", func(t *testing.T) {
		svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), nil, nil, hist)
		resp, err := svc.History(context.Background(), patient, "", "", 1, 20)
		require.NoError(t, err)
		require.Len(t, resp.Attempts, 1)
		a := resp.Attempts[0]
		assert.Equal(t, model.StateFailed, a.State)
		require.NotNil(t, a.Failure)
		assert.Equal(t, "r2://x", a.Failure.PartialAudioRef)
		assert.Len(t, a.History, 1)
		assert.Empty(t, hist.filters)
	})

	t.Run("state filter", func(t *testing.T) {
		svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), nil, nil, hist)
		_, err := svc.History(context.Background(), patient, "", model.StateFailed, 1, 20)
		require.NoError(t, err)
		require.Len(t, hist.filters, 1)
		assert.Equal(t, "state = ?", hist.filters[0].Query)
		assert.Equal(t, []interface{}{"Failed"}, hist.filters[0].Args)
	})

	t.Run("counselor without connection", func(t *testing.T) {
		svc := NewGenerationService(&fakeSubmitter{}, nil,
			pipeline.NewAuthorizer(&fakeDirectory{status: model.ConnectionPending}), nil, nil, hist)
		counselor := model.Caller{UserID: "c1", Role: model.RoleCounselor}
		_, err := svc.History(context.Background(), counselor, "patient-7", "", 1, 20)
		gerr, ok := pipeline.AsGenerationError(err)
		require.True(t, ok)
		assert.Equal(t, model.ErrorForbidden, gerr.Kind)

		_, err = svc.HistoryDetail(context.Background(), counselor, "a1")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("counselor with connection", func(t *testing.T) {
		svc := NewGenerationService(&fakeSubmitter{}, nil,
			pipeline.NewAuthorizer(&fakeDirectory{status: model.ConnectionAccepted}), nil, nil, hist)
		counselor := model.Caller{UserID: "c1", Role: model.RoleCounselor}
		a, err := svc.HistoryDetail(context.Background(), counselor, "a1")
		require.NoError(t, err)
		assert.Equal(t, "a1", a.AttemptID)
	})

	t.Run("unknown attempt", func(t *testing.T) {
		svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), nil, nil, hist)
		_, err := svc.HistoryDetail(context.Background(), patient, "zz")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("no store", func(t *testing.T) {
		svc := NewGenerationService(&fakeSubmitter{}, nil, pipeline.NewAuthorizer(nil), nil, nil, nil)
		_, err := svc.History(context.Background(), patient, "", "", 1, 20)
		assert.ErrorIs(t, err, ErrHistoryUnavailable)
	})
}

func TestGenerationService_Repair(t *testing.T) {
	rep := &fakeRepairer{}
	svc := NewGenerationService(&fakeSubmitter{}, rep, pipeline.NewAuthorizer(nil), nil, nil, nil)

	track, err := svc.Repair(context.Background(), &model.RepairRequest{
		OwnerID: "patient-7", SessionID: 42, Prompt: "calm piano", AudioRef: "r2://a",
	}, patient)
	require.NoError(t, err)
	assert.Equal(t, int64(77), track.TrackID)
	assert.Equal(t, patient, rep.got.Caller)
}

func TestNewGenerationTask(t *testing.T) {
	task, err := newGenerationTask("j1", []byte(`{"request":{"ownerId":"p"}}`))
	require.NoError(t, err)
	assert.Equal(t, TaskTypeGeneration, task.Type())

	var decoded struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "j1", decoded.JobID)
	assert.JSONEq(t, `{"request":{"ownerId":"p"}}`, string(decoded.Payload))
}
