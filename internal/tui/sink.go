package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"emocall/internal/domain"
)

// Sink forwards session events and frames into a running program. Anything
// emitted before Attach is dropped.
type Sink struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

// Attach routes future events to p.
func (s *Sink) Attach(p *tea.Program) {
	s.AttachFunc(p.Send)
}

// AttachFunc routes future events to send.
func (s *Sink) AttachFunc(send func(tea.Msg)) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

func (s *Sink) emit(msg tea.Msg) {
	s.mu.RLock()
	send := s.send
	s.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

func (s *Sink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.emit(StateMsg{State: state, Reason: reason})
}

func (s *Sink) EmotionUpdated(event domain.EmotionEvent) {
	s.emit(EmotionMsg{Event: event})
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.emit(ErrorMsg{Code: code, Message: detail})
}

func (s *Sink) RenderFrame(frame domain.Frame) {
	s.emit(FrameMsg{Frame: frame})
}
