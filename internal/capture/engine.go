package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"emocall/internal/domain"
	"emocall/internal/metrics"
	"emocall/internal/ports"
)

var (
	ErrAlreadyCapturing = errors.New("capture already running")
	ErrEngineClosed     = errors.New("capture engine is closed")
	ErrStreamEnded      = errors.New("audio stream ended unexpectedly")
)

const (
	DefaultChunkInterval = time.Second
	defaultReadSize      = 4096
	defaultDrainTimeout  = 2 * time.Second
)

// Config controls chunking of the encoded stream.
type Config struct {
	Audio         ports.AudioConfig
	ChunkInterval time.Duration
	ReadSize      int
	DrainTimeout  time.Duration
}

// Engine owns the microphone session and forwards fixed-interval chunks to
// the socket while keeping every chunk and event for the recording.
type Engine struct {
	device ports.AudioCapture
	socket ports.Transport
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	active   *captureRun
	starting bool
	closed   bool
}

// NewEngine connects the socket up front so it is open by the time the
// first chunk is produced.
func NewEngine(ctx context.Context, device ports.AudioCapture, socket ports.Transport, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	if cfg.ReadSize < 256 {
		cfg.ReadSize = defaultReadSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := socket.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect classifier socket: %w", err)
	}

	return &Engine{
		device: device,
		socket: socket,
		cfg:    cfg,
		logger: logger.With("component", "capture"),
		now:    time.Now,
	}, nil
}

// Start acquires the microphone and begins streaming. onEvent runs on the
// socket's read goroutine for every accepted event. onFailure runs at most
// once, on its own goroutine, when the device stream ends before Stop; the
// capture stays registered until Stop is called.
func (e *Engine) Start(ctx context.Context, onEvent func(domain.EmotionEvent), onFailure func(error)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.active != nil || e.starting {
		e.mu.Unlock()
		return ErrAlreadyCapturing
	}
	e.starting = true
	e.mu.Unlock()

	run, err := e.open(ctx, onEvent, onFailure)

	e.mu.Lock()
	e.starting = false
	if err == nil && e.closed {
		e.mu.Unlock()
		e.finish(run)
		return ErrEngineClosed
	}
	if err == nil {
		e.active = run
	}
	e.mu.Unlock()
	return err
}

func (e *Engine) open(ctx context.Context, onEvent func(domain.EmotionEvent), onFailure func(error)) (*captureRun, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	started := e.now()
	session, err := e.device.Start(runCtx, e.cfg.Audio)
	if err != nil {
		cancel()
		metrics.Errors.WithLabelValues("capture", "device").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	metrics.StageDuration.WithLabelValues("device_open").Observe(time.Since(started).Seconds())

	run := &captureRun{
		cancel:   cancel,
		session:  session,
		pumpDone: make(chan struct{}),
	}
	run.unsubscribe = e.socket.OnMessage(func(frame domain.EmotionFrame) {
		event := frame.Event()
		run.addEvent(event)
		e.notify(onEvent, event)
	})

	data := make(chan []byte, 16)
	go e.readLoop(run, data)
	go e.pump(run, data)
	go e.watch(run, onFailure)

	e.logger.Info("capture started", "chunk_interval", e.cfg.ChunkInterval)
	return run, nil
}

// Stop ends the capture and returns everything it produced. It is a no-op
// when nothing is capturing.
func (e *Engine) Stop() (domain.Recording, error) {
	e.mu.Lock()
	run := e.active
	e.active = nil
	e.mu.Unlock()

	if run == nil {
		return domain.Recording{}, nil
	}
	err := e.finish(run)
	recording := run.recording()
	e.logger.Info("capture stopped", "chunks", len(recording.Chunks), "events", len(recording.Events))
	return recording, err
}

// Stream returns the live analysis tap, or nil when idle.
func (e *Engine) Stream() ports.LiveStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil
	}
	return e.active.session.Stream()
}

// Cleanup tears down capture and the socket. Safe to call repeatedly.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	alreadyClosed := e.closed
	e.closed = true
	e.mu.Unlock()

	if _, err := e.Stop(); err != nil {
		e.logger.Warn("capture cleanup stop failed", "error", err)
	}
	if alreadyClosed {
		return
	}
	if err := e.socket.Close(); err != nil {
		e.logger.Warn("classifier socket close failed", "error", err)
	}
}

func (e *Engine) finish(run *captureRun) error {
	run.stopping.Store(true)
	run.unsubscribe()

	var stopErr error
	if err := run.session.Stop(); err != nil {
		stopErr = fmt.Errorf("stop audio device: %w", err)
	}

	timer := time.NewTimer(e.cfg.DrainTimeout)
	select {
	case <-run.pumpDone:
		timer.Stop()
	case <-timer.C:
		e.logger.Warn("audio stream did not end after stop; closing it")
	}
	if err := run.session.Close(); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("close audio device: %w", err)
	}
	<-run.pumpDone
	run.cancel()
	return stopErr
}

func (e *Engine) readLoop(run *captureRun, data chan<- []byte) {
	defer close(data)

	buf := make([]byte, e.cfg.ReadSize)
	for {
		n, err := run.session.Read(buf)
		if n > 0 {
			data <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Debug("audio stream ended", "error", err)
				run.setReadErr(err)
			}
			return
		}
	}
}

// watch reports a stream that ended without Stop having been called.
func (e *Engine) watch(run *captureRun, onFailure func(error)) {
	<-run.pumpDone
	if run.stopping.Load() {
		return
	}
	err := ErrStreamEnded
	if readErr := run.readError(); readErr != nil {
		err = fmt.Errorf("%w: %v", ErrStreamEnded, readErr)
	}
	metrics.Errors.WithLabelValues("capture", "stream").Inc()
	e.logger.Error("audio stream failed during capture", "error", err)
	if onFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("capture failure callback panicked", "panic", r)
		}
	}()
	onFailure(err)
}

// pump batches stream bytes into one chunk per interval. The partial
// buffer is flushed when the stream ends.
func (e *Engine) pump(run *captureRun, data <-chan []byte) {
	defer close(run.pumpDone)

	ticker := time.NewTicker(e.cfg.ChunkInterval)
	defer ticker.Stop()

	var pending []byte
	for {
		select {
		case b, ok := <-data:
			if !ok {
				e.emit(run, pending)
				return
			}
			pending = append(pending, b...)
		case <-ticker.C:
			e.emit(run, pending)
			pending = nil
		}
	}
}

func (e *Engine) emit(run *captureRun, data []byte) {
	if len(data) == 0 {
		return
	}
	run.addChunk(data, e.now().UnixMilli())
	e.socket.Send(data)
}

func (e *Engine) notify(onEvent func(domain.EmotionEvent), event domain.EmotionEvent) {
	if onEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("emotion callback panicked", "panic", r)
		}
	}()
	onEvent(event)
}

type captureRun struct {
	cancel      context.CancelFunc
	session     ports.AudioSession
	unsubscribe func()
	pumpDone    chan struct{}
	stopping    atomic.Bool

	mu      sync.Mutex
	chunks  []domain.AudioChunk
	events  []domain.EmotionEvent
	readErr error
}

func (r *captureRun) setReadErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErr = err
}

func (r *captureRun) readError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}

func (r *captureRun) addChunk(data []byte, createdAt int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, domain.AudioChunk{Seq: len(r.chunks), Data: data, CreatedAt: createdAt})
}

func (r *captureRun) addEvent(event domain.EmotionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *captureRun) recording() domain.Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Recording{
		Chunks: append([]domain.AudioChunk(nil), r.chunks...),
		Events: append([]domain.EmotionEvent(nil), r.events...),
	}
}
