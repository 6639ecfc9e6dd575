package storage

import (
	"context"
	"log"

	"github.com/mindtune/api/internal/pipeline"
)

// Recorder writes every pipeline transition and orphaned composition to the
// attempt history.
type Recorder struct {
	store *Store
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) OnTransition(ctx context.Context, run pipeline.Run) {
	if err := r.store.SaveAttempt(ctx, AttemptFromRun(run)); err != nil {
		log.Printf("[storage] attempt %s (%s): %v", run.ID, run.State, err)
	}
}

func (r *Recorder) OnOrphanedAudio(ctx context.Context, run pipeline.Run, audioRef string, err error) {
	log.Printf("[storage] attempt %s: composition finished after caller left (ref=%q, err=%v)", run.ID, audioRef, err)
	if recErr := r.store.RecordOrphanedAudio(ctx, run.ID, audioRef, err); recErr != nil {
		log.Printf("[storage] attempt %s: %v", run.ID, recErr)
	}
}
