package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// VASScores holds visual-analogue-scale self reports (0-10)
type VASScores struct {
	Anxiety    *int `json:"anxiety,omitempty" validate:"omitempty,min=0,max=10"`
	Depression *int `json:"depression,omitempty" validate:"omitempty,min=0,max=10"`
	Pain       *int `json:"pain,omitempty" validate:"omitempty,min=0,max=10"`
}

// TempoRange is an inclusive BPM range
type TempoRange struct {
	Min int `json:"min" validate:"min=30,max=240"`
	Max int `json:"max" validate:"min=30,max=240"`
}

// UnmarshalJSON accepts both {"min":70,"max":90} and [70,90].
func (t *TempoRange) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("bpm range must have exactly two values, got %d", len(pair))
		}
		t.Min, t.Max = pair[0], pair[1]
		return nil
	}

	type plain TempoRange
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TempoRange(p)
	return nil
}

// Guideline describes the therapeutic music a prompt is derived from
type Guideline struct {
	Mood               string         `json:"mood,omitempty" validate:"max=100"`
	VAS                VASScores      `json:"vas"`
	Goal               string         `json:"goal,omitempty" validate:"max=1000"`
	PreferredGenres    []string       `json:"genres,omitempty" validate:"max=20,dive,required,max=50"`
	DislikedGenres     []string       `json:"contraindications,omitempty" validate:"max=20,dive,required,max=50"`
	KeySignature       string         `json:"keySignature,omitempty" validate:"max=32"`
	Tempo              *TempoRange    `json:"bpm,omitempty"`
	IncludeInstruments []string       `json:"includeInstruments,omitempty" validate:"max=20,dive,required,max=50"`
	ExcludeInstruments []string       `json:"excludeInstruments,omitempty" validate:"max=20,dive,required,max=50"`
	VocalsAllowed      bool           `json:"vocalsAllowed"`
	DurationSec        int            `json:"durationSec,omitempty" validate:"omitempty,min=10,max=300"`
	Notes              string         `json:"notes,omitempty" validate:"max=2000"`
	Extras             map[string]any `json:"extras,omitempty"`
}

// RenderConstraints bound the audio composition. Either field may be left
// out and derived from the guideline.
type RenderConstraints struct {
	DurationMs        int  `json:"durationMs,omitempty" validate:"required,min=10000,max=300000"`
	ForceInstrumental bool `json:"forceInstrumental"`
}

// Caller is the authenticated principal acting on a request
type Caller struct {
	UserID     string `json:"userId"`
	Role       Role   `json:"role,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// GenerationRequest is one end-user submission
type GenerationRequest struct {
	RequestID         string            `json:"requestId,omitempty" validate:"omitempty,uuid"`
	OwnerID           string            `json:"ownerId" validate:"required,max=64"`
	OwnerName         string            `json:"ownerName,omitempty" validate:"max=100"`
	Title             string            `json:"title,omitempty" validate:"max=200"`
	InitiatorType     InitiatorType     `json:"initiatorType,omitempty" validate:"omitempty,oneof=patient counselor"`
	HasDialog         bool              `json:"hasDialog"`
	Guideline         Guideline         `json:"guideline"`
	RenderConstraints RenderConstraints `json:"renderConstraints"`
	Caller            Caller            `json:"-"`
}

// ApplyGuidelineDefaults fills the render constraints the guideline implies.
// An explicit duration is kept so validation can catch a contradiction.
func (r *GenerationRequest) ApplyGuidelineDefaults() {
	if r.RenderConstraints.DurationMs == 0 && r.Guideline.DurationSec > 0 {
		r.RenderConstraints.DurationMs = r.Guideline.DurationSec * 1000
	}
	if !r.Guideline.VocalsAllowed {
		r.RenderConstraints.ForceInstrumental = true
	}
}

// Session is the server-assigned anchor for one generation
type Session struct {
	SessionID     int64         `json:"sessionId"`
	OwnerID       string        `json:"ownerId"`
	InitiatorType InitiatorType `json:"initiatorType"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// PromptArtifact is the synthesized text prompt for a session
type PromptArtifact struct {
	SessionID int64     `json:"sessionId"`
	Text      string    `json:"text"`
	Guideline Guideline `json:"guideline"`
}

// RepairRequest re-attempts persistence from a preserved audio reference
type RepairRequest struct {
	OwnerID       string        `json:"ownerId" validate:"required,max=64"`
	OwnerName     string        `json:"ownerName,omitempty" validate:"max=100"`
	Title         string        `json:"title,omitempty" validate:"max=200"`
	InitiatorType InitiatorType `json:"initiatorType,omitempty" validate:"omitempty,oneof=patient counselor"`
	HasDialog     bool          `json:"hasDialog"`
	SessionID     int64         `json:"sessionId" validate:"required,gt=0"`
	Prompt        string        `json:"prompt" validate:"required"`
	AudioRef      string        `json:"audioRef" validate:"required"`
	DurationMs    int           `json:"durationMs,omitempty" validate:"omitempty,min=10000,max=300000"`
	Caller        Caller        `json:"-"`
}
