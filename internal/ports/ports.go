package ports

import (
	"context"
	"io"

	"emocall/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	InputFormat      string
	InputDevice      string
	Codec            string
	Bitrate          string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
	EchoCancelSource string
}

// LiveStream exposes the analysis tap of a running capture.
type LiveStream interface {
	Level() domain.AudioLevel
}

// AudioSession is a live capture session. Read yields encoded audio.
type AudioSession interface {
	io.ReadCloser
	Stop() error
	Stream() LiveStream
}

// AudioCapture acquires the microphone.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Transport is the bidirectional socket to the classifier.
type Transport interface {
	Connect(ctx context.Context) error
	Send(chunk []byte)
	OnMessage(handler func(domain.EmotionFrame)) (unsubscribe func())
	Open() bool
	Close() error
}

// CaptureEngine owns the microphone and the chunk pump.
type CaptureEngine interface {
	Start(ctx context.Context, onEvent func(domain.EmotionEvent), onFailure func(error)) error
	Stop() (domain.Recording, error)
	Stream() LiveStream
	Cleanup()
}

// CallStore persists recorded calls.
type CallStore interface {
	CreateCall(ctx context.Context, call domain.RecordedCall) (string, error)
	ListCalls(ctx context.Context, userID string) ([]domain.RecordedCall, error)
	GetCall(ctx context.Context, id string) (domain.RecordedCall, error)
}

// BlobStore stores binary objects under slash separated paths.
type BlobStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// ProfileStore persists user documents.
type ProfileStore interface {
	GetProfile(ctx context.Context, uid string) (domain.Profile, error)
	PutProfile(ctx context.Context, profile domain.Profile) error
	SetRole(ctx context.Context, uid string, role domain.UserRole) error
	ListByRole(ctx context.Context, role string) ([]domain.Profile, error)
}

// ShareStore persists call shares.
type ShareStore interface {
	ShareCall(ctx context.Context, callID, targetUserID string) (domain.SharedCall, error)
	ListSharedWith(ctx context.Context, userID string) ([]domain.SharedCall, error)
}

// Identity reports the signed-in user.
type Identity interface {
	CurrentUser() *domain.User
}

// TextGenerator turns one prompt into one completion.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RulesEngine rewrites text using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	EmotionUpdated(event domain.EmotionEvent)
	SessionError(code domain.ErrorCode, detail string)
}

// FrameSink receives render-loop frames.
type FrameSink interface {
	RenderFrame(frame domain.Frame)
}
