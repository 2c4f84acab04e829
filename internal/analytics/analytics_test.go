package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"emocall/internal/domain"
)

type fakeCalls struct {
	calls []domain.RecordedCall
	err   error
}

func (f fakeCalls) CreateCall(context.Context, domain.RecordedCall) (string, error) {
	return "", errors.New("read only")
}

func (f fakeCalls) ListCalls(context.Context, string) ([]domain.RecordedCall, error) {
	return f.calls, f.err
}

func (f fakeCalls) GetCall(context.Context, string) (domain.RecordedCall, error) {
	return domain.RecordedCall{}, domain.ErrNotFound
}

func twoCalls() []domain.RecordedCall {
	return []domain.RecordedCall{
		{
			ID:        "call-a",
			UserID:    "u1",
			StartTime: 1700000000000,
			EndTime:   1700000001500,
			Duration:  1500,
			Emotions: []domain.EmotionEvent{
				{Emotion: "happy", Confidence: 0.9, Timestamp: 1700000000100},
				{Emotion: "angry", Confidence: 0.5, Timestamp: 1700000000900},
			},
			CreatedAt: time.Date(2023, 11, 14, 22, 13, 22, 0, time.UTC),
		},
		{
			ID:        "call-b",
			UserID:    "u1",
			StartTime: 1700003600000,
			EndTime:   1700003603000,
			Duration:  3000,
			Emotions:  []domain.EmotionEvent{},
			CreatedAt: time.Date(2023, 11, 14, 23, 13, 23, 0, time.UTC),
		},
	}
}

func TestExportCSVTwoCalls(t *testing.T) {
	t.Parallel()

	svc := NewService(fakeCalls{calls: twoCalls()}, time.UTC, nil)
	out, err := svc.Export(context.Background(), "u1", FormatCSV)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	want := "Call ID,Start Time,Duration,Dominant Emotion,Positive Emotion %,Number of Emotions\n" +
		"call-a,2023-11-14T22:13:20.000Z,1.5,happy,50.00,2\n" +
		"call-b,2023-11-14T23:13:20.000Z,3,neutral,0.00,0"
	if out != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", out, want)
	}
}

func TestExportJSONIndented(t *testing.T) {
	t.Parallel()

	svc := NewService(fakeCalls{calls: twoCalls()}, time.UTC, nil)
	out, err := svc.Export(context.Background(), "u1", "JSON")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(out, "[\n  {\n    \"id\": \"call-a\",") {
		t.Fatalf("unexpected json layout: %q", out[:40])
	}
	var decoded []domain.RecordedCall
	if err := json.Unmarshal([]byte(out), &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("expected two calls back, got %d: %v", len(decoded), err)
	}

	empty, _ := Render(nil, FormatJSON)
	if empty != "[]" {
		t.Fatalf("expected empty array, got %q", empty)
	}
}

func TestExportErrors(t *testing.T) {
	t.Parallel()

	svc := NewService(fakeCalls{calls: twoCalls()}, time.UTC, nil)
	if _, err := svc.Export(context.Background(), "u1", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}

	failing := NewService(fakeCalls{err: errors.New("offline")}, time.UTC, nil)
	if _, err := failing.Export(context.Background(), "u1", FormatCSV); !errors.Is(err, domain.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}

func TestDominantAndPositive(t *testing.T) {
	t.Parallel()

	if DominantEmotion(nil) != "neutral" {
		t.Fatalf("expected neutral for no events")
	}
	tie := []domain.EmotionEvent{{Emotion: "calm", Confidence: 0.7}, {Emotion: "sad", Confidence: 0.7}}
	if DominantEmotion(tie) != "calm" {
		t.Fatalf("expected first event to win ties")
	}

	events := []domain.EmotionEvent{{Emotion: "Happy"}, {Emotion: "pleased"}, {Emotion: "angry"}, {Emotion: "satisfied"}}
	if got := PositivePercentage(events); got != 75 {
		t.Fatalf("unexpected positive percentage: %v", got)
	}
	if PositivePercentage(nil) != 0 {
		t.Fatalf("expected zero for no events")
	}
}

func TestSummaryAndAdvanced(t *testing.T) {
	t.Parallel()

	calls := twoCalls()
	calls = append(calls, domain.RecordedCall{
		ID:        "call-c",
		StartTime: 1700090000000,
		Duration:  4500,
		Emotions:  []domain.EmotionEvent{{Emotion: "happy", Confidence: 0.4}, {Emotion: "sad", Confidence: 0.8}},
		CreatedAt: time.Date(2023, 11, 15, 23, 13, 20, 0, time.UTC),
	})
	svc := NewService(fakeCalls{calls: calls}, time.UTC, nil)

	summary, err := svc.Summary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalCalls != 3 || summary.TotalDuration != 9000 || summary.AverageCallDuration != 3000 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.EmotionBreakdown["happy"] != 50 || summary.EmotionBreakdown["sad"] != 25 {
		t.Fatalf("unexpected breakdown: %+v", summary.EmotionBreakdown)
	}

	adv, err := svc.Advanced(context.Background(), "u1")
	if err != nil {
		t.Fatalf("advanced failed: %v", err)
	}
	if len(adv.TrendData) != 2 {
		t.Fatalf("expected two days, got %+v", adv.TrendData)
	}
	first := adv.TrendData[0]
	if first.Date != "2023-11-14" || first.CallCount != 2 || first.AverageDuration != 2250 || first.DominantEmotion != "happy" {
		t.Fatalf("unexpected first trend point: %+v", first)
	}
	if adv.TrendData[1].DominantEmotion != "sad" {
		t.Fatalf("unexpected second trend point: %+v", adv.TrendData[1])
	}

	perf := adv.PerformanceMetrics
	if perf.PositiveEmotionPercentage != 50 {
		t.Fatalf("unexpected positive percentage: %v", perf.PositiveEmotionPercentage)
	}
	if math.Abs(perf.AverageCallsPerDay-1.5) > 1e-9 {
		t.Fatalf("unexpected calls per day: %v", perf.AverageCallsPerDay)
	}
	if len(perf.PeakCallTimes) != 5 {
		t.Fatalf("expected five peak hours, got %d", len(perf.PeakCallTimes))
	}
	if perf.PeakCallTimes[0] != (HourCount{Hour: 23, Count: 2}) ||
		perf.PeakCallTimes[1] != (HourCount{Hour: 22, Count: 1}) ||
		perf.PeakCallTimes[2] != (HourCount{Hour: 0, Count: 0}) {
		t.Fatalf("unexpected peak hours: %+v", perf.PeakCallTimes)
	}
}

func TestAdvancedEmpty(t *testing.T) {
	t.Parallel()

	adv := Advance(nil, time.UTC)
	if adv.TotalCalls != 0 || adv.AverageCallDuration != 0 || adv.PerformanceMetrics.AverageCallsPerDay != 0 {
		t.Fatalf("unexpected empty analytics: %+v", adv)
	}
	if len(adv.TrendData) != 0 || len(adv.EmotionBreakdown) != 0 {
		t.Fatalf("expected no trend or breakdown: %+v", adv)
	}
}
