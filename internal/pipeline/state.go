package pipeline

import (
	"fmt"
	"time"

	"github.com/mindtune/api/internal/model"
)

// Transition records one state change of a run
type Transition struct {
	From model.PipelineState `json:"from"`
	To   model.PipelineState `json:"to"`
	At   time.Time           `json:"at"`
}

// Run tracks a single generation attempt from submission to a terminal state
type Run struct {
	ID            string
	RequestID     string
	OwnerID       string
	CallerID      string
	InitiatorType model.InitiatorType
	HasDialog     bool
	State         model.PipelineState
	History       []Transition
	Session       *model.Session
	Prompt        *model.PromptArtifact
	AudioRef      string
	Track         *model.Track
	Err           *GenerationError
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// forward lists the only legal non-failure transitions
var forward = map[model.PipelineState]model.PipelineState{
	model.StateValidating:     model.StateSessionCreated,
	model.StateSessionCreated: model.StatePromptReady,
	model.StatePromptReady:    model.StateAudioReady,
	model.StateAudioReady:     model.StatePersisted,
}

func (r *Run) advance(to model.PipelineState, at time.Time) error {
	if r.State.Terminal() {
		return fmt.Errorf("run %s is terminal in %s, cannot move to %s", r.ID, r.State, to)
	}
	if to != model.StateFailed && forward[r.State] != to {
		return fmt.Errorf("illegal transition %s -> %s", r.State, to)
	}
	r.History = append(r.History, Transition{From: r.State, To: to, At: at})
	r.State = to
	r.UpdatedAt = at
	return nil
}

// Snapshot returns a copy safe to hand to observers
func (r *Run) Snapshot() Run {
	s := *r
	s.History = append([]Transition(nil), r.History...)
	if r.Session != nil {
		session := *r.Session
		s.Session = &session
	}
	if r.Prompt != nil {
		prompt := *r.Prompt
		s.Prompt = &prompt
	}
	if r.Track != nil {
		track := *r.Track
		s.Track = &track
	}
	return s
}

// SessionID returns the session id if one was created
func (r *Run) SessionID() *int64 {
	if r.Session == nil {
		return nil
	}
	id := r.Session.SessionID
	return &id
}
