package model

import "time"

// Job represents a background generation job
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep,omitempty"`
	State       PipelineState  `json:"state,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Failure     *FailureDetail `json:"failure,omitempty"`
	Payload     []byte         `json:"payload,omitempty"` // Stored as JSON
	Result      []byte         `json:"result,omitempty"`  // Stored as JSON
	OwnerID     string         `json:"ownerId"`
	CallerID    string         `json:"callerId"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Job types
const (
	JobTypeGeneration = "generation"
)

// GenerationJobPayload contains the data for an async generation job
type GenerationJobPayload struct {
	Request GenerationRequest `json:"request"`
	Caller  Caller            `json:"caller"`
}

// FailureDetail is the client-visible shape of a failed generation
type FailureDetail struct {
	Stage            Stage     `json:"stage"`
	Kind             ErrorKind `json:"kind"`
	Retryable        bool      `json:"retryable"`
	PartialSessionID *int64    `json:"partialSessionId,omitempty"`
	PartialAudioRef  string    `json:"partialAudioRef,omitempty"`
	PartialPrompt    string    `json:"partialPrompt,omitempty"`

	InitiatorType InitiatorType `json:"initiatorType,omitempty"`
	HasDialog     bool          `json:"hasDialog,omitempty"`
}

// GenerationJobResponse is returned when a generation is queued
type GenerationJobResponse struct {
	JobID     string    `json:"jobId"`
	RequestID string    `json:"requestId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerationStatusResponse reports the progress of a queued generation
type GenerationStatusResponse struct {
	JobID       string         `json:"jobId"`
	Status      JobStatus      `json:"status"`
	State       PipelineState  `json:"state,omitempty"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Failure     *FailureDetail `json:"failure,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}
