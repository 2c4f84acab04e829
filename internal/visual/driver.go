package visual

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"emocall/internal/domain"
	"emocall/internal/ports"
)

// DefaultFrameInterval approximates a 30 fps display refresh.
const DefaultFrameInterval = 33 * time.Millisecond

// Source supplies the data each frame is built from.
type Source interface {
	Level() (domain.AudioLevel, bool)
	Timeline() []domain.TimelinePoint
	CurrentEmotion() *domain.EmotionEvent
}

// Driver runs the repeating frame task.
type Driver struct {
	interval time.Duration
	sink     ports.FrameSink
	logger   *slog.Logger
}

func NewDriver(interval time.Duration, sink ports.FrameSink, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{interval: interval, sink: sink, logger: logger.With("component", "visual")}
}

// Handle controls one running frame loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the loop and returns once no frame is being rendered.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
	<-h.done
}

// Start begins rendering frames from source until the handle is cancelled
// or ctx ends.
func (d *Driver) Start(ctx context.Context, source Source) *Handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go d.loop(loopCtx, source, h.done)
	return h
}

func (d *Driver) loop(ctx context.Context, source Source, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// A tick can race with cancellation; never render after it.
		if ctx.Err() != nil {
			return
		}
		seq++
		d.render(seq, source)
	}
}

func (d *Driver) render(seq uint64, source Source) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("frame render panicked", "panic", r)
		}
	}()

	level, ok := source.Level()
	if !ok {
		return
	}
	d.sink.RenderFrame(domain.Frame{
		Seq:      seq,
		Level:    level,
		Timeline: source.Timeline(),
		Current:  source.CurrentEmotion(),
	})
}
