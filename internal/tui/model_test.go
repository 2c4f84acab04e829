package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"emocall/internal/domain"
)

type fakeController struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestStartFailureQuitsWithError(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{startErr: domain.ErrDeviceUnavailable}
	m := New(ctrl, 0)

	msg := startCmd(ctrl)()
	m, cmd := update(t, m, msg)
	if !isQuit(cmd) {
		t.Fatalf("expected quit after failed start")
	}
	if !errors.Is(m.Err(), domain.ErrDeviceUnavailable) {
		t.Fatalf("unexpected err: %v", m.Err())
	}
	if !strings.Contains(m.View(), "audio device unavailable") {
		t.Fatalf("expected error in view:\n%s", m.View())
	}
}

func TestSessionErrorMessageWinsOverRawError(t *testing.T) {
	t.Parallel()

	m := New(&fakeController{}, 0)
	m, _ = update(t, m, ErrorMsg{Code: domain.ErrorCodeDevice, Message: "Microphone is unavailable."})
	m, _ = update(t, m, startedMsg{err: domain.ErrDeviceUnavailable})
	if !strings.Contains(m.View(), "Microphone is unavailable.") {
		t.Fatalf("expected friendly message:\n%s", m.View())
	}
}

func TestQuitKeyStopsOnce(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	m := New(ctrl, 0)
	m, _ = update(t, m, startedMsg{})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !m.stopping {
		t.Fatalf("expected stop to begin")
	}
	if _, again := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); again != nil {
		t.Fatalf("expected repeated q to be ignored")
	}

	msg := cmd()
	if ctrl.stops != 1 {
		t.Fatalf("expected one stop, got %d", ctrl.stops)
	}
	m, cmd = update(t, m, msg)
	if !isQuit(cmd) || !m.quitting {
		t.Fatalf("expected quit once stopped")
	}
}

func TestSecondCtrlCQuitsImmediately(t *testing.T) {
	t.Parallel()

	m := New(&fakeController{}, 0)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil || isQuit(cmd) {
		t.Fatalf("expected first ctrl+c to stop the call")
	}
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if !isQuit(cmd) {
		t.Fatalf("expected second ctrl+c to quit")
	}
}

func TestDurationElapsedStops(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{stopErr: errors.New("flush failed")}
	m := New(ctrl, 0)
	m, cmd := update(t, m, durationElapsedMsg{})
	if cmd == nil {
		t.Fatalf("expected stop command")
	}
	m, _ = update(t, m, cmd())
	if m.Err() == nil || !strings.Contains(m.View(), "flush failed") {
		t.Fatalf("expected stop error surfaced, got %v", m.Err())
	}
}

func TestViewRendersFrame(t *testing.T) {
	t.Parallel()

	m := New(&fakeController{}, 0)
	if !strings.Contains(m.View(), "Waiting for the first emotion reading") {
		t.Fatalf("expected empty state:\n%s", m.View())
	}

	current := domain.EmotionEvent{
		Emotion:     "frustrated",
		Confidence:  0.82,
		Timestamp:   3000,
		Suggestions: &domain.Suggestions{Message: "Slow down", Actions: []string{"Acknowledge the issue"}},
	}
	m, _ = update(t, m, StateMsg{State: domain.SessionStateRecording, Reason: domain.SessionReasonRecordingStarted})
	m, _ = update(t, m, FrameMsg{Frame: domain.Frame{
		Level: domain.AudioLevel{RMS: 0.5},
		Timeline: []domain.TimelinePoint{
			{Timestamp: 1000, Emotion: "neutral", Confidence: 0.4},
			{Timestamp: 2000, Emotion: "happy", Confidence: 0.6},
			{Timestamp: 3000, Emotion: "frustrated", Confidence: 0.82},
		},
		Current: &current,
	}})

	view := m.View()
	for _, want := range []string{"REC", "frustrated", "82%", "Slow down", "Acknowledge the issue", "happy", "neutral", "40%"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestEmotionMsgUpdatesCurrent(t *testing.T) {
	t.Parallel()

	m := New(&fakeController{}, 0)
	m, _ = update(t, m, EmotionMsg{Event: domain.EmotionEvent{Emotion: "angry", Confidence: 0.9}})
	if m.current == nil || m.current.Emotion != "angry" {
		t.Fatalf("unexpected current: %+v", m.current)
	}
}

func TestRenderLevelMeterClamps(t *testing.T) {
	t.Parallel()

	for _, level := range []float64{-1, 0, 0.3, 1, 4} {
		out := renderLevelMeter("MIC", level)
		if n := strings.Count(out, "█") + strings.Count(out, "░"); n != meterWidth {
			t.Fatalf("level %v: expected %d cells, got %d", level, meterWidth, n)
		}
	}
	if full := renderLevelMeter("MIC", 1); strings.Contains(full, "░") {
		t.Fatalf("expected full meter")
	}
}

func TestSinkDropsUntilAttached(t *testing.T) {
	t.Parallel()

	var sink Sink
	sink.SessionStateChanged(domain.SessionStateStarting, domain.SessionReasonStarting)

	var got []tea.Msg
	sink.AttachFunc(func(msg tea.Msg) { got = append(got, msg) })
	sink.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	sink.EmotionUpdated(domain.EmotionEvent{Emotion: "happy"})
	sink.SessionError(domain.ErrorCodeCapture, "boom")
	sink.RenderFrame(domain.Frame{Seq: 7})

	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	if s, ok := got[0].(StateMsg); !ok || s.State != domain.SessionStateRecording {
		t.Fatalf("unexpected first message: %#v", got[0])
	}
	if f, ok := got[3].(FrameMsg); !ok || f.Frame.Seq != 7 {
		t.Fatalf("unexpected frame message: %#v", got[3])
	}
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	if got := formatElapsed(0); got != "00:00" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := formatElapsed(75_400_000_000); got != "01:15" {
		t.Fatalf("unexpected: %q", got)
	}
}
