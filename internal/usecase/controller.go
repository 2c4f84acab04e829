package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"emocall/internal/capture"
	"emocall/internal/domain"
	"emocall/internal/metrics"
	"emocall/internal/ports"
	"emocall/internal/visual"
)

var (
	ErrSessionActive = errors.New("a call session is already active")
	ErrStartAborted  = errors.New("call start was cancelled")
)

const defaultPersistTimeout = 60 * time.Second

// Config controls session behavior.
type Config struct {
	TimelineSize   int
	PersistTimeout time.Duration
}

// SessionController drives the call lifecycle:
// idle -> starting -> recording -> stopping -> idle. A failed start or a
// capture stream that dies mid-call ends in error.
type SessionController struct {
	engine    ports.CaptureEngine
	driver    *visual.Driver
	events    ports.EventSink
	persister callPersister
	tracker   *emotionTracker
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   domain.SessionState
	current *activeSession
	lastErr string

	persistWG sync.WaitGroup
}

func NewSessionController(
	engine ports.CaptureEngine,
	driver *visual.Driver,
	persistence Persistence,
	events ports.EventSink,
	cfg Config,
	logger *slog.Logger,
) *SessionController {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		engine:    engine,
		driver:    driver,
		events:    events,
		persister: newCallPersister(persistence),
		tracker:   newEmotionTracker(cfg.TimelineSize),
		cfg:       cfg,
		logger:    logger.With("component", "session"),
		now:       time.Now,
		state:     domain.SessionStateIdle,
	}
}

// Start begins a new call. It is rejected while another call is live.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Live() {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.lastErr = ""
	c.tracker.Reset()
	active := newActiveSession(uuid.NewString(), c.now().UnixMilli())
	c.current = active
	c.state = domain.SessionStateStarting
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateStarting, domain.SessionReasonStarting)
	log := c.logger.With("session_id", active.call.ID)

	err := c.engine.Start(ctx, func(event domain.EmotionEvent) {
		c.handleEvent(active, event)
	}, func(err error) {
		c.captureFailed(active, err)
	})
	if err != nil {
		return c.failStart(active, err)
	}

	c.mu.Lock()
	if active.captureErr != nil {
		failure := active.captureErr
		c.mu.Unlock()
		if _, stopErr := c.engine.Stop(); stopErr != nil {
			log.Warn("stopping failed capture failed", "error", stopErr)
		}
		return c.failStart(active, failure)
	}
	if active.aborted {
		c.mu.Unlock()
		if _, stopErr := c.engine.Stop(); stopErr != nil {
			log.Warn("stopping aborted capture failed", "error", stopErr)
		}
		c.finish(active, domain.SessionStateIdle, domain.SessionReasonStartAborted)
		log.Info("call start aborted")
		return ErrStartAborted
	}
	c.state = domain.SessionStateRecording
	active.call.State = domain.SessionStateRecording
	active.render = c.driver.Start(context.WithoutCancel(ctx), c)
	c.mu.Unlock()

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	log.Info("call recording started")
	return nil
}

// Stop ends the call. It is a no-op unless a call is starting or recording;
// a stop during starting is applied once the start resolves.
func (c *SessionController) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case domain.SessionStateStarting:
		c.current.aborted = true
		c.mu.Unlock()
		return nil
	case domain.SessionStateRecording:
	default:
		c.mu.Unlock()
		return nil
	}
	active := c.current
	c.state = domain.SessionStateStopping
	active.call.State = domain.SessionStateStopping
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonStopping)
	log := c.logger.With("session_id", active.call.ID)

	// The frame loop reads the analysis tap, so it must end before capture
	// closes it.
	active.render.Cancel()

	recording, err := c.engine.Stop()
	if err != nil {
		log.Warn("capture did not stop cleanly", "error", err)
	}

	c.mu.Lock()
	active.call.EndedAt = c.now().UnixMilli()
	call := active.call
	c.mu.Unlock()

	c.persistAsync(ctx, call, recording)
	metrics.SessionsActive.Dec()
	c.finish(active, domain.SessionStateIdle, domain.SessionReasonCallEnded)
	log.Info("call ended", "duration_ms", call.EndedAt-call.StartedAt, "events", len(recording.Events))
	return nil
}

// Close stops any live call, releases capture and the socket, and waits for
// pending saves.
func (c *SessionController) Close(ctx context.Context) {
	if err := c.Stop(ctx); err != nil {
		c.logger.Warn("stop during close failed", "error", err)
	}
	c.engine.Cleanup()
	c.WaitForPersistence()
}

// WaitForPersistence blocks until background saves have finished.
func (c *SessionController) WaitForPersistence() {
	c.persistWG.Wait()
}

// Status returns the current lifecycle status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{State: c.state, Active: c.state.Live(), Message: c.lastErr}
	if c.current != nil {
		status.SessionID = c.current.call.ID
		status.StartedAt = c.current.call.StartedAt
	}
	return status
}

func (c *SessionController) Timeline() []domain.TimelinePoint {
	return c.tracker.Snapshot()
}

func (c *SessionController) CurrentEmotion() *domain.EmotionEvent {
	return c.tracker.Current()
}

// Stream returns the live analysis tap, or nil when not capturing.
func (c *SessionController) Stream() ports.LiveStream {
	return c.engine.Stream()
}

// Level implements visual.Source.
func (c *SessionController) Level() (domain.AudioLevel, bool) {
	stream := c.engine.Stream()
	if stream == nil {
		return domain.AudioLevel{}, false
	}
	return stream.Level(), true
}

func (c *SessionController) handleEvent(active *activeSession, event domain.EmotionEvent) {
	c.mu.Lock()
	accept := c.current == active &&
		(c.state == domain.SessionStateStarting || c.state == domain.SessionStateRecording)
	if accept {
		c.tracker.Add(event)
	}
	c.mu.Unlock()

	if !accept {
		c.logger.Debug("dropping emotion event outside an active call", "emotion", event.Emotion)
		return
	}
	metrics.EmotionsTotal.WithLabelValues(event.Emotion).Inc()
	c.events.EmotionUpdated(event)
}

// captureFailed ends a recording whose audio stream died. What was captured
// up to that point is still saved.
func (c *SessionController) captureFailed(active *activeSession, err error) {
	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case domain.SessionStateStarting:
		active.captureErr = err
		c.mu.Unlock()
		return
	case domain.SessionStateRecording:
	default:
		c.mu.Unlock()
		return
	}
	const message = "Recording stopped unexpectedly. Check the microphone and start a new call."
	c.state = domain.SessionStateStopping
	active.call.State = domain.SessionStateStopping
	c.lastErr = message
	c.mu.Unlock()

	log := c.logger.With("session_id", active.call.ID)
	log.Error("capture failed during call", "error", err)

	active.render.Cancel()
	recording, stopErr := c.engine.Stop()
	if stopErr != nil {
		log.Warn("capture did not stop cleanly", "error", stopErr)
	}

	c.mu.Lock()
	active.call.EndedAt = c.now().UnixMilli()
	call := active.call
	c.mu.Unlock()

	c.persistAsync(context.Background(), call, recording)
	metrics.SessionsActive.Dec()
	c.events.SessionError(domain.ErrorCodeCapture, message)
	c.finish(active, domain.SessionStateError, domain.SessionReasonCaptureFailed)
}

func (c *SessionController) failStart(active *activeSession, err error) error {
	code := domain.ErrorCodeCapture
	reason := domain.SessionReasonCaptureFailed
	message := "Failed to start recording. Please try again."
	if errors.Is(err, domain.ErrDeviceUnavailable) {
		code = domain.ErrorCodeDevice
		reason = domain.SessionReasonDeviceFailed
		message = "Microphone is unavailable. Check that a device is connected and access is allowed."
	} else if errors.Is(err, capture.ErrAlreadyCapturing) {
		message = "Capture is already running."
	}

	c.mu.Lock()
	c.lastErr = message
	c.mu.Unlock()

	c.logger.Error("call start failed", "session_id", active.call.ID, "error", err)
	c.events.SessionError(code, message)
	c.finish(active, domain.SessionStateError, reason)
	return err
}

func (c *SessionController) finish(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	c.mu.Lock()
	active.call.State = state
	if c.current == active {
		c.current = nil
		c.state = state
	}
	c.mu.Unlock()

	c.events.SessionStateChanged(state, reason)
}

func (c *SessionController) persistAsync(ctx context.Context, call domain.CallSession, recording domain.Recording) {
	c.persistWG.Add(1)
	go func() {
		defer c.persistWG.Done()

		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
		defer cancel()

		started := time.Now()
		id, err := c.persister.Persist(persistCtx, call, recording)
		switch {
		case errors.Is(err, errNotSignedIn):
			c.logger.Info("call not saved; no signed-in user", "session_id", call.ID)
		case err != nil:
			metrics.PersistFailures.Inc()
			c.logger.Error("failed to save call", "session_id", call.ID, "error", err)
		default:
			metrics.StageDuration.WithLabelValues("persist").Observe(time.Since(started).Seconds())
			c.logger.Info("call saved", "session_id", call.ID, "call_id", id)
		}
	}()
}
