package analytics

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"emocall/internal/domain"
	"emocall/internal/ports"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

var csvHeader = []string{
	"Call ID",
	"Start Time",
	"Duration",
	"Dominant Emotion",
	"Positive Emotion %",
	"Number of Emotions",
}

var positiveEmotions = []string{"happy", "satisfied", "pleased"}

// Summary aggregates a user's call history.
type Summary struct {
	TotalCalls          int                `json:"totalCalls"`
	TotalDuration       int64              `json:"totalDuration"`
	EmotionBreakdown    map[string]float64 `json:"emotionBreakdown"`
	AverageCallDuration float64            `json:"averageCallDuration"`
}

// TrendPoint is one day of call activity.
type TrendPoint struct {
	Date            string  `json:"date"`
	CallCount       int     `json:"callCount"`
	AverageDuration float64 `json:"averageDuration"`
	DominantEmotion string  `json:"dominantEmotion"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type Performance struct {
	PositiveEmotionPercentage float64     `json:"positiveEmotionPercentage"`
	AverageCallsPerDay        float64     `json:"averageCallsPerDay"`
	PeakCallTimes             []HourCount `json:"peakCallTimes"`
}

// Advanced extends Summary with daily trends and performance metrics.
type Advanced struct {
	Summary
	TrendData          []TrendPoint `json:"trendData"`
	PerformanceMetrics Performance  `json:"performanceMetrics"`
}

// Service computes analytics and exports over stored calls.
type Service struct {
	calls  ports.CallStore
	loc    *time.Location
	logger *slog.Logger
}

// NewService returns a Service that buckets peak hours in loc (local time
// when nil).
func NewService(calls ports.CallStore, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{calls: calls, loc: loc, logger: logger.With("component", "analytics")}
}

func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	calls, err := s.calls.ListCalls(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("list calls: %w", err)
	}
	return Summarize(calls), nil
}

func (s *Service) Advanced(ctx context.Context, userID string) (Advanced, error) {
	calls, err := s.calls.ListCalls(ctx, userID)
	if err != nil {
		return Advanced{}, fmt.Errorf("list calls: %w", err)
	}
	return Advance(calls, s.loc), nil
}

// Export renders userID's calls as csv or json.
func (s *Service) Export(ctx context.Context, userID, format string) (string, error) {
	calls, err := s.calls.ListCalls(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: list calls: %v", domain.ErrPersistenceFailure, err)
	}
	out, err := Render(calls, format)
	if err != nil {
		return "", err
	}
	s.logger.Info("calls exported", "user_id", userID, "format", format, "calls", len(calls))
	return out, nil
}

// Render formats calls in the requested export format.
func Render(calls []domain.RecordedCall, format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return CSV(calls), nil
	case FormatJSON:
		if calls == nil {
			calls = []domain.RecordedCall{}
		}
		data, err := json.MarshalIndent(calls, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode calls: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

// CSV renders one row per call under the fixed header. Values are not
// quoted and there is no trailing newline.
func CSV(calls []domain.RecordedCall) string {
	lines := make([]string, 0, len(calls)+1)
	lines = append(lines, strings.Join(csvHeader, ","))
	for _, call := range calls {
		lines = append(lines, strings.Join([]string{
			call.ID,
			time.UnixMilli(call.StartTime).UTC().Format(isoMillis),
			strconv.FormatFloat(float64(call.Duration)/1000, 'f', -1, 64),
			DominantEmotion(call.Emotions),
			strconv.FormatFloat(PositivePercentage(call.Emotions), 'f', 2, 64),
			strconv.Itoa(len(call.Emotions)),
		}, ","))
	}
	return strings.Join(lines, "\n")
}

// DominantEmotion returns the emotion with the highest confidence, the
// earliest on ties, or "neutral" when there are none.
func DominantEmotion(events []domain.EmotionEvent) string {
	if len(events) == 0 {
		return "neutral"
	}
	best := events[0]
	for _, e := range events[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}
	return best.Emotion
}

// PositivePercentage is the share of happy, satisfied or pleased events.
func PositivePercentage(events []domain.EmotionEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	positive := 0
	for _, e := range events {
		if isPositive(e.Emotion) {
			positive++
		}
	}
	return float64(positive) / float64(len(events)) * 100
}

func isPositive(emotion string) bool {
	return slices.Contains(positiveEmotions, strings.ToLower(emotion))
}

// Summarize computes totals and the emotion breakdown in percent.
func Summarize(calls []domain.RecordedCall) Summary {
	summary := Summary{TotalCalls: len(calls), EmotionBreakdown: emotionBreakdown(calls)}
	for _, call := range calls {
		summary.TotalDuration += call.Duration
	}
	if len(calls) > 0 {
		summary.AverageCallDuration = float64(summary.TotalDuration) / float64(len(calls))
	}
	return summary
}

// Advance computes Summary plus daily trends (by creation date, UTC) and
// performance metrics, with peak hours bucketed in loc.
func Advance(calls []domain.RecordedCall, loc *time.Location) Advanced {
	if loc == nil {
		loc = time.Local
	}
	return Advanced{
		Summary:            Summarize(calls),
		TrendData:          trend(calls),
		PerformanceMetrics: performance(calls, loc),
	}
}

func emotionBreakdown(calls []domain.RecordedCall) map[string]float64 {
	counts := map[string]float64{}
	total := 0.0
	for _, call := range calls {
		for _, e := range call.Emotions {
			counts[e.Emotion]++
			total++
		}
	}
	for name, n := range counts {
		counts[name] = n / total * 100
	}
	return counts
}

func trend(calls []domain.RecordedCall) []TrendPoint {
	type bucket struct {
		count    int
		duration int64
		emotions []domain.EmotionEvent
	}
	buckets := map[string]*bucket{}
	for _, call := range calls {
		date := call.CreatedAt.UTC().Format(time.DateOnly)
		b, ok := buckets[date]
		if !ok {
			b = &bucket{}
			buckets[date] = b
		}
		b.count++
		b.duration += call.Duration
		b.emotions = append(b.emotions, call.Emotions...)
	}

	points := make([]TrendPoint, 0, len(buckets))
	for date, b := range buckets {
		points = append(points, TrendPoint{
			Date:            date,
			CallCount:       b.count,
			AverageDuration: float64(b.duration) / float64(b.count),
			DominantEmotion: DominantEmotion(b.emotions),
		})
	}
	slices.SortFunc(points, func(a, b TrendPoint) int { return strings.Compare(a.Date, b.Date) })
	return points
}

func performance(calls []domain.RecordedCall, loc *time.Location) Performance {
	var (
		byHour   [24]int
		total    int
		positive int
		days     = map[string]struct{}{}
	)
	for _, call := range calls {
		if call.StartTime != 0 {
			byHour[time.UnixMilli(call.StartTime).In(loc).Hour()]++
		}
		days[time.UnixMilli(call.StartTime).UTC().Format(time.DateOnly)] = struct{}{}
		for _, e := range call.Emotions {
			if e.Emotion == "" {
				continue
			}
			total++
			if isPositive(e.Emotion) {
				positive++
			}
		}
	}

	hours := make([]HourCount, 24)
	for h, n := range byHour {
		hours[h] = HourCount{Hour: h, Count: n}
	}
	slices.SortStableFunc(hours, func(a, b HourCount) int { return cmp.Compare(b.Count, a.Count) })

	perf := Performance{PeakCallTimes: hours[:5]}
	if total > 0 {
		perf.PositiveEmotionPercentage = float64(positive) / float64(total) * 100
	}
	uniqueDays := max(len(days), 1)
	perf.AverageCallsPerDay = float64(len(calls)) / float64(uniqueDays)
	return perf
}
