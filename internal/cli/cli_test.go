package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"emocall/internal/analytics"
	"emocall/internal/bootstrap"
	"emocall/internal/domain"
	"emocall/internal/insights"
	"emocall/internal/rules"
	"emocall/internal/store"
	"emocall/internal/tui"
	"emocall/internal/usecase"
)

type fakeGenerator struct {
	reply string
	err   error
}

func (f fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.reply, f.err
}

func seededBuild(t *testing.T, gen fakeGenerator) buildFunc {
	t.Helper()
	return func(ctx context.Context, _ *tui.Sink) (*bootstrap.Services, error) {
		mem := store.NewMemory()
		for _, call := range []domain.RecordedCall{
			{ID: "call-a", UserID: "agent-1", StartTime: 1_700_000_000_000, EndTime: 1_700_000_001_500, Duration: 1500,
				Emotions: []domain.EmotionEvent{{Emotion: "happy", Confidence: 0.9}}},
			{ID: "call-b", UserID: "agent-2", StartTime: 1_700_000_000_000, Duration: 1000},
		} {
			if _, err := mem.CreateCall(ctx, call); err != nil {
				return nil, err
			}
		}
		formatter, err := rules.NewFormatter("")
		if err != nil {
			return nil, err
		}
		return &bootstrap.Services{
			Calls:     mem,
			Analytics: analytics.NewService(mem, time.UTC, nil),
			Insights:  insights.NewService(gen, formatter, nil, 0, nil),
		}, nil
	}
}

func run(t *testing.T, build buildFunc, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(build)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExportCSVToStdout(t *testing.T) {
	t.Parallel()

	out, err := run(t, seededBuild(t, fakeGenerator{}), "export", "--user", "agent-1")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(out, "Call ID,") || !strings.Contains(out, "call-a,") || strings.Contains(out, "call-b") {
		t.Fatalf("unexpected export:\n%s", out)
	}
}

func TestExportJSONToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "calls.json")
	if _, err := run(t, seededBuild(t, fakeGenerator{}), "export", "--user", "agent-1", "-f", "JSON", "-o", path); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), `"id": "call-a"`) {
		t.Fatalf("unexpected file:\n%s", data)
	}
}

func TestExportRejectsBadFormatAndMissingUser(t *testing.T) {
	t.Parallel()

	build := seededBuild(t, fakeGenerator{})
	if _, err := run(t, build, "export", "--user", "u", "--format", "xml"); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected format error, got %v", err)
	}
	if _, err := run(t, build, "export"); !errors.Is(err, errNoUser) {
		t.Fatalf("expected errNoUser, got %v", err)
	}
}

func TestAnalyticsPrintsSummary(t *testing.T) {
	t.Parallel()

	out, err := run(t, seededBuild(t, fakeGenerator{}), "analytics", "--user", "agent-1", "--advanced")
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	for _, want := range []string{`"totalCalls": 1`, `"trendData"`, `"performanceMetrics"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in:\n%s", want, out)
		}
	}
}

func TestInsightsPrintsGeneratedItems(t *testing.T) {
	t.Parallel()

	reply := `[{"title":"Stay calm","description":"Calls trend positive","recommendation":"Keep it up","confidence":0.8},
{"title":"Peak hours","description":"Busy at noon","recommendation":"Staff up","confidence":0.7},
{"title":"Short calls","description":"Under two minutes","recommendation":"Probe more","confidence":0.6}]`
	out, err := run(t, seededBuild(t, fakeGenerator{reply: reply}), "insights", "--user", "agent-1")
	if err != nil {
		t.Fatalf("insights failed: %v", err)
	}
	if !strings.Contains(out, "1. Stay calm (80%)") || !strings.Contains(out, "→ Staff up") {
		t.Fatalf("unexpected insights:\n%s", out)
	}
}

func TestInsightsFallBackWithoutGenerator(t *testing.T) {
	t.Parallel()

	out, err := run(t, seededBuild(t, fakeGenerator{err: errors.New("offline")}), "insights", "--user", "agent-1")
	if err != nil {
		t.Fatalf("insights failed: %v", err)
	}
	if !strings.Contains(out, "Error Loading Insights") {
		t.Fatalf("expected fallback insights:\n%s", out)
	}
}

func TestChatAndRecommendation(t *testing.T) {
	t.Parallel()

	build := seededBuild(t, fakeGenerator{reply: "Listen first."})
	out, err := run(t, build, "chat", "how", "do", "I", "calm", "a", "caller?")
	if err != nil || strings.TrimSpace(out) != "Listen first." {
		t.Fatalf("unexpected chat: %q %v", out, err)
	}
	out, err = run(t, build, "insights", "--emotion", "angry")
	if err != nil || strings.TrimSpace(out) != "Listen first." {
		t.Fatalf("unexpected recommendation: %q %v", out, err)
	}
	if _, err := run(t, build, "chat"); err == nil {
		t.Fatalf("expected missing prompt error")
	}
}

func TestBuildErrorSurfaces(t *testing.T) {
	t.Parallel()

	failing := func(context.Context, *tui.Sink) (*bootstrap.Services, error) {
		return nil, errors.New("no config")
	}
	if _, err := run(t, failing, "analytics", "--user", "u"); err == nil || err.Error() != "no config" {
		t.Fatalf("expected build error, got %v", err)
	}
}

func TestConfigInitShowAndPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("EMOCALL_CONFIG", "")
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	t.Setenv("EMOCALL_LLM_API_KEY", "")

	out, err := run(t, nil, "config", "init")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	want := filepath.Join(home, ".config", "emocall", "config.yaml")
	if !strings.Contains(out, want) {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if _, err := run(t, nil, "config", "init"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected exists error, got %v", err)
	}
	if _, err := run(t, nil, "config", "init", "--force"); err != nil {
		t.Fatalf("forced init failed: %v", err)
	}

	out, err = run(t, nil, "config", "show")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if strings.Contains(out, "sk-secret") || !strings.Contains(out, masked) {
		t.Fatalf("expected masked key:\n%s", out)
	}

	out, err = run(t, nil, "config", "path")
	if err != nil || strings.TrimSpace(out) != want {
		t.Fatalf("unexpected path: %q %v", out, err)
	}
}

type scriptedController struct {
	mu      sync.Mutex
	sink    *tui.Sink
	started bool
	stopped bool
}

func (c *scriptedController) Start(context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	c.sink.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	c.sink.EmotionUpdated(domain.EmotionEvent{Emotion: "happy", Confidence: 0.75, Suggestions: &domain.Suggestions{Message: "Keep going"}})
	c.sink.RenderFrame(domain.Frame{Seq: 1})
	return nil
}

func (c *scriptedController) Stop(context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.sink.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonCallEnded)
	return nil
}

func TestRecordPlainPrintsEventsAndStops(t *testing.T) {
	t.Parallel()

	sink := &tui.Sink{}
	ctrl := &scriptedController{sink: sink}
	var out bytes.Buffer

	if err := recordPlain(context.Background(), &out, ctrl, sink, 10*time.Millisecond); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !ctrl.started || !ctrl.stopped {
		t.Fatalf("expected start and stop")
	}
	got := out.String()
	for _, want := range []string{"state: recording (recording_started)", "emotion: happy 75% - Keep going", "state: idle (call_ended)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in:\n%s", want, got)
		}
	}
}

func TestRecordPlainStopsOnCancel(t *testing.T) {
	t.Parallel()

	sink := &tui.Sink{}
	ctrl := &scriptedController{sink: sink}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := recordPlain(ctx, &bytes.Buffer{}, ctrl, sink, 0); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !ctrl.stopped {
		t.Fatalf("expected stop after cancel")
	}
}

func TestIgnoreAborted(t *testing.T) {
	t.Parallel()

	if err := ignoreAborted(usecase.ErrStartAborted); err != nil {
		t.Fatalf("expected aborted start to be ignored, got %v", err)
	}
	if err := ignoreAborted(errors.New("x")); err == nil {
		t.Fatalf("expected other errors to pass through")
	}
}
