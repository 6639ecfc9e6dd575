package worker

import (
	"context"
	"log"

	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/pipeline"
	"github.com/mindtune/api/internal/service"
	"github.com/mindtune/api/internal/websocket"
)

type progressStep struct {
	percent int
	step    string
}

var progressByState = map[model.PipelineState]progressStep{
	model.StateValidating:     {5, "Validating request..."},
	model.StateSessionCreated: {20, "Synthesizing prompt..."},
	model.StatePromptReady:    {40, "Composing audio..."},
	model.StateAudioReady:     {90, "Saving track..."},
}

// ProgressObserver mirrors pipeline transitions of async runs onto the job
// record and the websocket hub. Runs without a job id are ignored.
type ProgressObserver struct {
	jobs *service.JobStore
	hub  *websocket.Hub
}

func NewProgressObserver(jobs *service.JobStore, hub *websocket.Hub) *ProgressObserver {
	return &ProgressObserver{jobs: jobs, hub: hub}
}

func (o *ProgressObserver) OnTransition(ctx context.Context, run pipeline.Run) {
	jobID, ok := service.JobIDFrom(ctx)
	if !ok {
		return
	}
	// terminal states are reported by the worker with the result or failure
	p, ok := progressByState[run.State]
	if !ok {
		return
	}

	if err := o.jobs.UpdateProgress(ctx, jobID, p.percent, run.State, p.step); err != nil {
		log.Printf("[worker] job %s: failed to update progress: %v", jobID, err)
	}
	o.hub.BroadcastProgress(jobID, p.percent, model.JobStatusRunning, run.State, p.step)
}
