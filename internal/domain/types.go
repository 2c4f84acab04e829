package domain

// SessionState models the call recording lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateStarting  SessionState = "starting"
	SessionStateRecording SessionState = "recording"
	SessionStateStopping  SessionState = "stopping"
	SessionStateError     SessionState = "error"
)

// Live reports whether the state holds capture resources.
func (s SessionState) Live() bool {
	return s == SessionStateStarting || s == SessionStateRecording || s == SessionStateStopping
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady            SessionStateReason = "ready"
	SessionReasonStarting         SessionStateReason = "starting"
	SessionReasonRecordingStarted SessionStateReason = "recording_started"
	SessionReasonStopping         SessionStateReason = "stopping"
	SessionReasonCallEnded        SessionStateReason = "call_ended"
	SessionReasonStartAborted     SessionStateReason = "start_aborted"
	SessionReasonDeviceFailed     SessionStateReason = "device_failed"
	SessionReasonCaptureFailed    SessionStateReason = "capture_failed"
)

// ErrorCode identifies errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeDevice      ErrorCode = "device"
	ErrorCodeCapture     ErrorCode = "capture"
	ErrorCodeAuth        ErrorCode = "auth"
	ErrorCodePermission  ErrorCode = "permission"
	ErrorCodePersistence ErrorCode = "persistence"
	ErrorCodeExport      ErrorCode = "export"
)

// CallSession is one recording session. Times are ms since epoch.
type CallSession struct {
	ID        string       `json:"sessionId"`
	StartedAt int64        `json:"startedAt"`
	EndedAt   int64        `json:"endedAt,omitempty"`
	State     SessionState `json:"state"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	StartedAt int64        `json:"startedAt,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// AudioChunk is one fixed-interval slice of encoded audio.
type AudioChunk struct {
	Seq       int    `json:"seq"`
	Data      []byte `json:"-"`
	CreatedAt int64  `json:"createdAt"`
}

// AudioLevel is the latest live analysis sample of the microphone.
type AudioLevel struct {
	RMS   float64   `json:"rms"`
	Peak  float64   `json:"peak"`
	Bands []float64 `json:"bands,omitempty"`
}

// Frame is one render-loop payload.
type Frame struct {
	Seq      uint64          `json:"seq"`
	Level    AudioLevel      `json:"level"`
	Timeline []TimelinePoint `json:"timeline"`
	Current  *EmotionEvent   `json:"current,omitempty"`
}

// Recording is what a capture run produced: chunks in creation order and
// events in arrival order.
type Recording struct {
	Chunks []AudioChunk
	Events []EmotionEvent
}

// Audio concatenates chunk payloads into one encoded stream.
func (r Recording) Audio() []byte {
	size := 0
	for _, chunk := range r.Chunks {
		size += len(chunk.Data)
	}
	out := make([]byte, 0, size)
	for _, chunk := range r.Chunks {
		out = append(out, chunk.Data...)
	}
	return out
}
