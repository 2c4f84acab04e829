package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"emocall/internal/domain"
	"emocall/internal/metrics"
	"emocall/internal/ports"
)

const formattingInstruction = `

Please format your response with:
- Clear paragraphs separated by line breaks
- Bullet points using proper markdown syntax
- Headers using markdown syntax (e.g., # for main headers)
- Code blocks when showing technical content`

const insightsPrompt = `You are an AI analytics expert analyzing call center data. Based on the following data, provide 3 key insights.
For each insight, include:
1. A clear title
2. A description of the observation
3. A specific, actionable recommendation
4. A confidence score between 0 and 1

Format each insight as a JSON object with the following structure:
{
  "title": "string",
  "description": "string",
  "recommendation": "string",
  "confidence": number
}

Return an array of exactly 3 such objects.

Here's the data to analyze:
%s`

const analyticsPrompt = `Analyze this call center data and provide insights in a conversational tone:
%s
Focus on:
1. Key trends
2. Notable patterns
3. Actionable recommendations
Keep it concise and friendly.`

const recommendationPrompt = `Given the detected emotion %q in a customer service call,
provide a brief, helpful recommendation for the agent.
Include:
1. A quick explanation of what this emotion might indicate
2. A practical tip for handling it
3. A positive note or encouragement
Keep it concise and supportive.`

const DefaultCacheTTL = time.Hour

// FallbackInsights is returned whenever generated insights are unusable.
func FallbackInsights() []domain.Insight {
	return []domain.Insight{
		{
			Title:          "Error Loading Insights",
			Description:    "We encountered an error while generating insights.",
			Recommendation: "Please try refreshing the page or try again later.",
			Confidence:     1,
		},
		{
			Title:          "Using Cached Data",
			Description:    "Showing previously cached insights if available.",
			Recommendation: "Check your internet connection and API key configuration.",
			Confidence:     1,
		},
		{
			Title:          "Support Available",
			Description:    "Our support team is here to help.",
			Recommendation: "Contact support if this issue persists.",
			Confidence:     1,
		},
	}
}

// Service produces chat replies and analytics insights from a text
// generator. Cache and formatter are optional.
type Service struct {
	gen       ports.TextGenerator
	formatter ports.RulesEngine
	cache     Cache
	ttl       time.Duration
	logger    *slog.Logger
}

func NewService(gen ports.TextGenerator, formatter ports.RulesEngine, cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:       gen,
		formatter: formatter,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "insights"),
	}
}

// Chat answers a free-form prompt with a formatted reply.
func (s *Service) Chat(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInsightGeneration)
	}
	return s.respond(ctx, "", prompt)
}

// AnalyticsInsight summarizes analytics data conversationally.
func (s *Service) AnalyticsInsight(ctx context.Context, data any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: encode analytics: %v", domain.ErrInsightGeneration, err)
	}
	return s.respond(ctx, "analytics", fmt.Sprintf(analyticsPrompt, encoded))
}

// EmotionRecommendation coaches the agent on a detected emotion.
func (s *Service) EmotionRecommendation(ctx context.Context, emotion string) (string, error) {
	emotion = strings.TrimSpace(emotion)
	if emotion == "" {
		return "", fmt.Errorf("%w: empty emotion", domain.ErrInsightGeneration)
	}
	return s.respond(ctx, "recommendation", fmt.Sprintf(recommendationPrompt, emotion))
}

// GenerateInsights returns exactly three insights for the given analytics
// text. Any generation or parse failure yields FallbackInsights.
func (s *Service) GenerateInsights(ctx context.Context, analyticsData string) []domain.Insight {
	prompt := fmt.Sprintf(insightsPrompt, analyticsData)
	key := cacheKey("insights", prompt)

	if cached, ok := s.cached(ctx, key); ok {
		if insights, err := ParseInsights(cached); err == nil {
			return insights
		}
	}

	started := time.Now()
	reply, err := s.generate(ctx, prompt)
	if err != nil {
		return s.fallback("generate", err)
	}
	insights, err := ParseInsights(reply)
	if err != nil {
		return s.fallback("parse", err)
	}
	metrics.StageDuration.WithLabelValues("insights").Observe(time.Since(started).Seconds())

	if encoded, err := json.Marshal(insights); err == nil {
		s.store(ctx, key, string(encoded))
	}
	return insights
}

func (s *Service) fallback(stage string, err error) []domain.Insight {
	metrics.InsightFallbacks.Inc()
	metrics.Errors.WithLabelValues("insights", stage).Inc()
	s.logger.Warn("using fallback insights", "stage", stage, "error", err)
	return FallbackInsights()
}

// respond runs a prompt with the formatting instruction and normalizes the
// reply. A non-empty kind enables caching.
func (s *Service) respond(ctx context.Context, kind, prompt string) (string, error) {
	var key string
	if kind != "" {
		key = cacheKey(kind, prompt)
		if cached, ok := s.cached(ctx, key); ok {
			return cached, nil
		}
	}

	reply, err := s.generate(ctx, prompt+formattingInstruction)
	if err != nil {
		metrics.Errors.WithLabelValues("insights", "generate").Inc()
		return "", err
	}

	formatted := reply
	if s.formatter != nil {
		if formatted, err = s.formatter.Apply(reply); err != nil {
			s.logger.Warn("formatting rules failed; returning raw reply", "error", err)
			formatted = reply
		}
	}
	formatted = strings.TrimSpace(formatted)

	if key != "" {
		s.store(ctx, key, formatted)
	}
	return formatted, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	if s.gen == nil {
		return "", fmt.Errorf("%w: no text generator configured", domain.ErrInsightGeneration)
	}
	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInsightGeneration, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply", domain.ErrInsightGeneration)
	}
	return reply, nil
}

func (s *Service) cached(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	value, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Debug("insight cache read failed", "error", err)
		return "", false
	}
	return value, ok
}

func (s *Service) store(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Debug("insight cache write failed", "error", err)
	}
}

var errNoArray = errors.New("no JSON array in reply")

// ParseInsights extracts exactly three insights from a model reply. Code
// fences and prose around the first JSON array are ignored; confidence is
// clamped to [0,1].
func ParseInsights(reply string) ([]domain.Insight, error) {
	body := stripFences(reply)
	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start < 0 || end <= start {
		return nil, errNoArray
	}

	var insights []domain.Insight
	if err := json.Unmarshal([]byte(body[start:end+1]), &insights); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	if len(insights) != 3 {
		return nil, fmt.Errorf("expected 3 insights, got %d", len(insights))
	}
	for i := range insights {
		if strings.TrimSpace(insights[i].Title) == "" {
			return nil, fmt.Errorf("insight %d has no title", i+1)
		}
		insights[i].Confidence = min(max(insights[i].Confidence, 0), 1)
	}
	return insights, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
