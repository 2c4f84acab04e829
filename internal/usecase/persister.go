package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emocall/internal/domain"
	"emocall/internal/ports"
)

var errNotSignedIn = errors.New("no signed-in user")

// Persistence groups the collaborators needed to save a finished call.
// Any nil member disables saving.
type Persistence struct {
	Identity ports.Identity
	Blobs    ports.BlobStore
	Calls    ports.CallStore
}

type callPersister struct {
	Persistence
	now func() time.Time
}

func newCallPersister(p Persistence) callPersister {
	return callPersister{Persistence: p, now: time.Now}
}

func (p callPersister) enabled() bool {
	return p.Identity != nil && p.Blobs != nil && p.Calls != nil
}

// Persist uploads the recording and creates the call record. It returns the
// new call ID.
func (p callPersister) Persist(ctx context.Context, call domain.CallSession, recording domain.Recording) (string, error) {
	if !p.enabled() {
		return "", errNotSignedIn
	}
	user := p.Identity.CurrentUser()
	if user == nil || user.UID == "" {
		return "", errNotSignedIn
	}

	path := fmt.Sprintf("recordings/%s/%d.webm", user.UID, call.EndedAt)
	ref, err := p.Blobs.Upload(ctx, path, "audio/webm", recording.Audio())
	if err != nil {
		return "", fmt.Errorf("%w: upload recording: %v", domain.ErrPersistenceFailure, err)
	}

	record := domain.RecordedCall{
		UserID:    user.UID,
		AudioRef:  ref,
		Emotions:  recording.Events,
		StartTime: call.StartedAt,
		EndTime:   call.EndedAt,
		Duration:  call.EndedAt - call.StartedAt,
		CreatedAt: p.now().UTC(),
	}
	if record.Emotions == nil {
		record.Emotions = []domain.EmotionEvent{}
	}

	id, err := p.Calls.CreateCall(ctx, record)
	if err != nil {
		return "", fmt.Errorf("%w: create call record: %v", domain.ErrPersistenceFailure, err)
	}
	return id, nil
}
