package insights

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"emocall/internal/rules"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	ttl    time.Duration
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	value, ok := c.values[key]
	return value, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.values[key] = value
	c.ttl = ttl
	return nil
}

const threeInsights = "```json\n[" +
	`{"title":"Calm calls","description":"Most calls stay neutral.","recommendation":"Keep it up.","confidence":0.8},` +
	`{"title":"Peak at noon","description":"Volume peaks at 12:00.","recommendation":"Staff up.","confidence":1.4},` +
	`{"title":"Short calls","description":"Average is 2 minutes.","recommendation":"Review scripts.","confidence":-0.2}` +
	"]\n```"

func TestGenerateInsightsParsesFencedReply(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "Here you go:\n" + threeInsights}
	cache := newFakeCache()
	svc := NewService(gen, nil, cache, 5*time.Minute, nil)

	got := svc.GenerateInsights(context.Background(), `{"totalCalls":3}`)
	if len(got) != 3 || got[0].Title != "Calm calls" {
		t.Fatalf("unexpected insights: %+v", got)
	}
	if got[1].Confidence != 1 || got[2].Confidence != 0 {
		t.Fatalf("expected clamped confidence, got %v and %v", got[1].Confidence, got[2].Confidence)
	}
	if !strings.Contains(gen.prompts[0], `{"totalCalls":3}`) || !strings.Contains(gen.prompts[0], "exactly 3") {
		t.Fatalf("unexpected prompt: %q", gen.prompts[0])
	}

	again := svc.GenerateInsights(context.Background(), `{"totalCalls":3}`)
	if gen.calls() != 1 {
		t.Fatalf("expected cached insights on second call, generator ran %d times", gen.calls())
	}
	if again[1].Title != "Peak at noon" {
		t.Fatalf("unexpected cached insights: %+v", again)
	}
	if cache.ttl != 5*time.Minute {
		t.Fatalf("unexpected ttl: %v", cache.ttl)
	}
}

func TestGenerateInsightsFallsBack(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeGenerator{
		"generator error": {err: errors.New("quota")},
		"not json":        {reply: "I cannot help with that."},
		"two items":       {reply: `[{"title":"a","confidence":1},{"title":"b","confidence":1}]`},
		"empty reply":     {reply: "  "},
	}
	for name, gen := range cases {
		cache := newFakeCache()
		svc := NewService(gen, nil, cache, 0, nil)
		got := svc.GenerateInsights(context.Background(), "{}")
		if len(got) != 3 || got[0].Title != "Error Loading Insights" || got[2].Title != "Support Available" {
			t.Fatalf("%s: expected fallback insights, got %+v", name, got)
		}
		if len(cache.values) != 0 {
			t.Fatalf("%s: fallback must not be cached", name)
		}
	}

	if got := NewService(nil, nil, nil, 0, nil).GenerateInsights(context.Background(), "{}"); got[0].Confidence != 1 {
		t.Fatalf("expected fallback without a generator, got %+v", got)
	}
}

func TestChatAppendsInstructionAndFormats(t *testing.T) {
	t.Parallel()

	formatter, err := rules.NewFormatter("")
	if err != nil {
		t.Fatalf("formatter: %v", err)
	}
	gen := &fakeGenerator{reply: "Sure\n\n\n\n* breathe\n* listen\n"}
	svc := NewService(gen, formatter, nil, 0, nil)

	reply, err := svc.Chat(context.Background(), "How do I calm a caller?")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if reply != "Sure\n• breathe\n• listen" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if !strings.HasPrefix(gen.prompts[0], "How do I calm a caller?\n\nPlease format your response with:") {
		t.Fatalf("expected formatting instruction, got %q", gen.prompts[0])
	}

	if _, err := svc.Chat(context.Background(), " "); err == nil {
		t.Fatalf("expected empty prompt to be rejected")
	}
}

func TestChatIsNotCached(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "ok"}
	cache := newFakeCache()
	svc := NewService(gen, nil, cache, 0, nil)
	for range 2 {
		if _, err := svc.Chat(context.Background(), "hello"); err != nil {
			t.Fatalf("chat failed: %v", err)
		}
	}
	if gen.calls() != 2 || len(cache.values) != 0 {
		t.Fatalf("expected chat to bypass the cache: calls=%d cached=%d", gen.calls(), len(cache.values))
	}
}

func TestRecommendationAndAnalyticsUseCache(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "Stay patient."}
	cache := newFakeCache()
	svc := NewService(gen, nil, cache, 0, nil)

	for range 2 {
		reply, err := svc.EmotionRecommendation(context.Background(), "angry")
		if err != nil || reply != "Stay patient." {
			t.Fatalf("unexpected recommendation %q: %v", reply, err)
		}
	}
	if gen.calls() != 1 {
		t.Fatalf("expected one generation, got %d", gen.calls())
	}
	if !strings.Contains(gen.prompts[0], `"angry"`) {
		t.Fatalf("unexpected prompt: %q", gen.prompts[0])
	}
	if cache.ttl != DefaultCacheTTL {
		t.Fatalf("unexpected default ttl: %v", cache.ttl)
	}

	if _, err := svc.AnalyticsInsight(context.Background(), map[string]int{"totalCalls": 4}); err != nil {
		t.Fatalf("analytics insight failed: %v", err)
	}
	if !strings.Contains(gen.prompts[1], `{"totalCalls":4}`) {
		t.Fatalf("expected encoded data in prompt: %q", gen.prompts[1])
	}

	if _, err := svc.EmotionRecommendation(context.Background(), ""); err == nil {
		t.Fatalf("expected empty emotion to be rejected")
	}
}

func TestCacheErrorsAreIgnored(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	cache.err = errors.New("redis down")
	svc := NewService(&fakeGenerator{reply: "fine"}, nil, cache, 0, nil)
	if reply, err := svc.EmotionRecommendation(context.Background(), "happy"); err != nil || reply != "fine" {
		t.Fatalf("expected generation despite cache errors, got %q %v", reply, err)
	}
}

func TestParseInsightsRejectsMissingTitle(t *testing.T) {
	t.Parallel()

	if _, err := ParseInsights(`[{"title":"a"},{"title":""},{"title":"c"}]`); err == nil {
		t.Fatalf("expected missing title to be rejected")
	}
	if _, err := ParseInsights("no array here"); !errors.Is(err, errNoArray) {
		t.Fatalf("expected errNoArray, got %v", err)
	}
}

func TestCacheKeyDependsOnKindAndPrompt(t *testing.T) {
	t.Parallel()

	a := cacheKey("insights", "p")
	if a != cacheKey("insights", "p") {
		t.Fatalf("expected stable key")
	}
	if a == cacheKey("analytics", "p") || a == cacheKey("insights", "q") {
		t.Fatalf("expected distinct keys")
	}
	if !strings.HasPrefix(a, "emocall:insights:insights:") || len(a) != len("emocall:insights:insights:")+64 {
		t.Fatalf("unexpected key: %q", a)
	}
}
