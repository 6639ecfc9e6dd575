package model

// Initiator types
type InitiatorType string

const (
	InitiatorPatient   InitiatorType = "patient"
	InitiatorCounselor InitiatorType = "counselor"
)

// Caller roles
type Role string

const (
	RolePatient   Role = "patient"
	RoleCounselor Role = "counselor"
)

// Counselor/patient connection status
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "PENDING"
	ConnectionAccepted ConnectionStatus = "ACCEPTED"
	ConnectionRejected ConnectionStatus = "REJECTED"
	ConnectionNone     ConnectionStatus = "NONE"
)

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Pipeline states
type PipelineState string

const (
	StateValidating     PipelineState = "Validating"
	StateSessionCreated PipelineState = "SessionCreated"
	StatePromptReady    PipelineState = "PromptReady"
	StateAudioReady     PipelineState = "AudioReady"
	StatePersisted      PipelineState = "Persisted"
	StateFailed         PipelineState = "Failed"
)

// Terminal reports whether no further transition may leave the state.
func (s PipelineState) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

func (s PipelineState) Valid() bool {
	switch s {
	case StateValidating, StateSessionCreated, StatePromptReady, StateAudioReady, StatePersisted, StateFailed:
		return true
	}
	return false
}

// Pipeline stages
type Stage string

const (
	StageValidating       Stage = "Validating"
	StageCreateSession    Stage = "CreateSession"
	StageSynthesizePrompt Stage = "SynthesizePrompt"
	StageComposeAudio     Stage = "ComposeAudio"
	StagePersist          Stage = "Persist"
)

// Error kinds
type ErrorKind string

const (
	ErrorInvalidRequest     ErrorKind = "InvalidRequest"
	ErrorForbidden          ErrorKind = "Forbidden"
	ErrorUnauthorized       ErrorKind = "Unauthorized"
	ErrorUnavailable        ErrorKind = "Unavailable"
	ErrorUpstream           ErrorKind = "UpstreamError"
	ErrorInvalidAudioResult ErrorKind = "InvalidAudioResult"
	ErrorStorage            ErrorKind = "StorageError"
)
