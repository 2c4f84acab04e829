package usecase

import (
	"emocall/internal/domain"
	"emocall/internal/visual"
)

// activeSession is guarded by SessionController.mu.
type activeSession struct {
	call       domain.CallSession
	render     *visual.Handle
	aborted    bool
	captureErr error
}

func newActiveSession(id string, startedAt int64) *activeSession {
	return &activeSession{call: domain.CallSession{
		ID:        id,
		StartedAt: startedAt,
		State:     domain.SessionStateStarting,
	}}
}
