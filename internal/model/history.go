package model

import "time"

// StateChange is one entry of an attempt's state history
type StateChange struct {
	From PipelineState `json:"from"`
	To   PipelineState `json:"to"`
	At   time.Time     `json:"at"`
}

// AttemptResponse describes a stored generation attempt
type AttemptResponse struct {
	AttemptID      string         `json:"attemptId"`
	RequestID      string         `json:"requestId"`
	OwnerID        string         `json:"ownerId"`
	CallerID       string         `json:"callerId"`
	InitiatorType  InitiatorType  `json:"initiatorType,omitempty"`
	State          PipelineState  `json:"state"`
	History        []StateChange  `json:"history,omitempty"`
	SessionID      *int64         `json:"sessionId,omitempty"`
	TrackID        *int64         `json:"trackId,omitempty"`
	Failure        *FailureDetail `json:"failure,omitempty"`
	Orphaned       bool           `json:"orphaned,omitempty"`
	OrphanAudioRef string         `json:"orphanAudioRef,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// AttemptListResponse is a page of attempts
type AttemptListResponse struct {
	Attempts []AttemptResponse `json:"attempts"`
	Page     int               `json:"page"`
	Size     int               `json:"size"`
}
