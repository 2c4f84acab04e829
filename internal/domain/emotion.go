package domain

import "time"

// secondsCutoff separates epoch seconds from epoch milliseconds on the wire.
// 1e11 seconds is the year 5138; 1e11 milliseconds is March 1973.
const secondsCutoff = 1e11

// Suggestions is the coaching hint attached to an emotion event.
type Suggestions struct {
	Message string   `json:"message"`
	Actions []string `json:"actions"`
}

// EmotionFrame is the classifier's wire shape before normalization.
type EmotionFrame struct {
	Emotion     string       `json:"emotion"`
	Confidence  float64      `json:"confidence"`
	Timestamp   float64      `json:"timestamp"`
	Suggestions *Suggestions `json:"suggestions,omitempty"`
}

// EmotionEvent is one classification result. Timestamp is ms since epoch.
type EmotionEvent struct {
	Emotion     string       `json:"emotion"`
	Confidence  float64      `json:"confidence"`
	Timestamp   int64        `json:"timestamp"`
	Suggestions *Suggestions `json:"suggestions,omitempty"`
}

// TimelinePoint is the charting projection of an EmotionEvent.
type TimelinePoint struct {
	Timestamp  int64   `json:"timestamp"`
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// NormalizeTimestamp converts a wire timestamp in seconds or milliseconds to
// milliseconds since epoch.
func NormalizeTimestamp(raw float64) int64 {
	if raw < secondsCutoff {
		return int64(raw * 1000)
	}
	return int64(raw)
}

// Event converts the wire frame into a normalized EmotionEvent.
func (f EmotionFrame) Event() EmotionEvent {
	event := EmotionEvent{
		Emotion:    f.Emotion,
		Confidence: f.Confidence,
		Timestamp:  NormalizeTimestamp(f.Timestamp),
	}
	if f.Suggestions != nil {
		actions := append([]string(nil), f.Suggestions.Actions...)
		event.Suggestions = &Suggestions{Message: f.Suggestions.Message, Actions: actions}
	}
	return event
}

// Point projects the event for the timeline.
func (e EmotionEvent) Point() TimelinePoint {
	return TimelinePoint{Timestamp: e.Timestamp, Emotion: e.Emotion, Confidence: e.Confidence}
}

// Time returns the event timestamp as a time.Time.
func (e EmotionEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
