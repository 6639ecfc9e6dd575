package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/pipeline"
)

// Attempt is the stored history of one pipeline run. It is kept whether or
// not the run produced a track.
type Attempt struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	RequestID     string `gorm:"index;not null;default:''"`
	OwnerID       string `gorm:"index;not null;default:''"`
	CallerID      string `gorm:"not null;default:''"`
	InitiatorType string `gorm:"not null;default:''"`
	HasDialog     bool
	State         string `gorm:"index;not null;default:''"`

	History []pipeline.Transition `gorm:"serializer:json"`

	SessionID *int64
	Prompt    string `gorm:"type:text;not null;default:''"`
	AudioRef  string `gorm:"not null;default:''"`
	TrackID   *int64

	FailedStage  string `gorm:"not null;default:''"`
	ErrorKind    string `gorm:"not null;default:''"`
	ErrorMessage string `gorm:"type:text;not null;default:''"`
	Retryable    bool

	// Written only by RecordOrphanedAudio
	Orphaned       bool   `gorm:"index"`
	OrphanAudioRef string `gorm:"not null;default:''"`
	OrphanError    string `gorm:"type:text;not null;default:''"`
}

var orphanColumns = []string{"orphaned", "orphan_audio_ref", "orphan_error"}

func (s *Store) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	var v Attempt
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get Attempt %s: %w", id, err)
	}
	return &v, nil
}

// SaveAttempt upserts v. Orphan columns are left as they are.
func (s *Store) SaveAttempt(ctx context.Context, v *Attempt) error {
	if err := s.db.WithContext(ctx).Omit(orphanColumns...).Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set Attempt %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) ListAttemptsByOwner(ctx context.Context, ownerID string, page, size int, filter ...Filter) ([]*Attempt, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	offset := (page - 1) * size
	vs := []*Attempt{}

	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	q = q.Order("created_at desc").Offset(offset).Limit(size)
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list Attempts: %w", err)
	}
	return vs, nil
}

// RecordOrphanedAudio notes the late result of a composition whose caller
// had already gone away.
func (s *Store) RecordOrphanedAudio(ctx context.Context, id, audioRef string, composeErr error) error {
	msg := ""
	if composeErr != nil {
		msg = composeErr.Error()
	}
	res := s.db.WithContext(ctx).Model(&Attempt{}).Where("id = ?", id).Updates(map[string]interface{}{
		"orphaned":         true,
		"orphan_audio_ref": audioRef,
		"orphan_error":     msg,
	})
	if res.Error != nil {
		return fmt.Errorf("storage: failed to record orphaned audio for Attempt %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AttemptFromRun flattens a run snapshot into its stored form
func AttemptFromRun(run pipeline.Run) *Attempt {
	a := &Attempt{
		ID:            run.ID,
		CreatedAt:     run.StartedAt,
		UpdatedAt:     run.UpdatedAt,
		RequestID:     run.RequestID,
		OwnerID:       run.OwnerID,
		CallerID:      run.CallerID,
		InitiatorType: string(run.InitiatorType),
		HasDialog:     run.HasDialog,
		State:         string(run.State),
		History:       run.History,
		SessionID:     run.SessionID(),
		AudioRef:      run.AudioRef,
	}
	if run.Prompt != nil {
		a.Prompt = run.Prompt.Text
	}
	if run.Track != nil {
		trackID := run.Track.TrackID
		a.TrackID = &trackID
	}
	if run.Err != nil {
		a.FailedStage = string(run.Err.Stage)
		a.ErrorKind = string(run.Err.Kind)
		a.ErrorMessage = run.Err.Error()
		a.Retryable = run.Err.Retryable
	}
	return a
}

// Failure rebuilds the client-facing failure detail, if the attempt failed
func (a *Attempt) Failure() *model.FailureDetail {
	if a.State != string(model.StateFailed) {
		return nil
	}
	return &model.FailureDetail{
		Stage:            model.Stage(a.FailedStage),
		Kind:             model.ErrorKind(a.ErrorKind),
		Retryable:        a.Retryable,
		PartialSessionID: a.SessionID,
		PartialAudioRef:  a.AudioRef,
		PartialPrompt:    a.Prompt,
		InitiatorType:    model.InitiatorType(a.InitiatorType),
		HasDialog:        a.HasDialog,
	}
}
