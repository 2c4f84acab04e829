package tui

import "emocall/internal/domain"

// StateMsg carries a session lifecycle transition.
type StateMsg struct {
	State  domain.SessionState
	Reason domain.SessionStateReason
}

// EmotionMsg carries one accepted emotion event.
type EmotionMsg struct {
	Event domain.EmotionEvent
}

// FrameMsg carries one render-loop frame.
type FrameMsg struct {
	Frame domain.Frame
}

// ErrorMsg carries a session error surfaced to the user.
type ErrorMsg struct {
	Code    domain.ErrorCode
	Message string
}

type startedMsg struct{ err error }

type stoppedMsg struct{ err error }

type durationElapsedMsg struct{}
