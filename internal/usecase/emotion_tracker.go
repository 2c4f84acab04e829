package usecase

import (
	"sync"

	"emocall/internal/domain"
	"emocall/internal/timeline"
)

// emotionTracker holds the bounded timeline and the current-emotion slot.
type emotionTracker struct {
	timeline *timeline.Buffer

	mu      sync.RWMutex
	current *domain.EmotionEvent
}

func newEmotionTracker(size int) *emotionTracker {
	return &emotionTracker{timeline: timeline.NewBuffer(size)}
}

func (t *emotionTracker) Add(event domain.EmotionEvent) {
	t.timeline.Push(event.Point())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = &event
}

// Current returns a copy of the latest event, or nil.
func (t *emotionTracker) Current() *domain.EmotionEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil
	}
	event := *t.current
	return &event
}

func (t *emotionTracker) Snapshot() []domain.TimelinePoint {
	return t.timeline.Snapshot()
}

func (t *emotionTracker) Reset() {
	t.timeline.Reset()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
}
