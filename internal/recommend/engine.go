// ABOUTME: Recommendation engine combining LLM preference analysis with deterministic ranking.
// ABOUTME: Registers the recommendation agent on the bus and applies narrative fallbacks.

package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marksk1/chatmarket-mvp/internal/bus"
	"github.com/marksk1/chatmarket-mvp/internal/llm"
	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/metrics"
)

// Price sensitivities.
const (
	SensitivityHigh   = "high"
	SensitivityMedium = "medium"
	SensitivityLow    = "low"
)

// Fixed narrative used when the language model cannot help.
const (
	FallbackExplanation  = "I've found some great options that match what you're looking for!"
	NoResultsExplanation = "I couldn't find any items matching your criteria right now. Would you like me to expand the search or try different parameters?"
	ErrorExplanation     = "I'm having trouble processing recommendations right now. Let me show you the basic search results instead."
)

// User context keys understood by the engine.
const (
	ContextMessages      = "messages"
	ContextEmotion       = "emotion"
	ContextExtractedInfo = "extracted_info"
)

// Preferences are the buyer's inferred priorities.
type Preferences struct {
	PriceSensitivity  string   `json:"price_sensitivity"`
	QualityPriority   string   `json:"quality_priority"`
	BrandPreference   string   `json:"brand_preference,omitempty"`
	UrgencyLevel      string   `json:"urgency_level"`
	FeaturePriorities []string `json:"feature_priorities,omitempty"`
	RiskTolerance     string   `json:"risk_tolerance,omitempty"`
	ValueSeeking      string   `json:"value_seeking"`
}

// DefaultPreferences is used when preference analysis fails.
func DefaultPreferences() Preferences {
	return Preferences{
		PriceSensitivity: SensitivityMedium,
		QualityPriority:  "medium",
		UrgencyLevel:     "moderate",
		ValueSeeking:     "value_conscious",
	}
}

// Engine produces recommendations.
type Engine struct {
	llm     llm.Completer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine.
func NewEngine(completer llm.Completer, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:     completer,
		logger:  logger.With("component", "recommend"),
		metrics: m,
	}
}

// AnalyzePreferences infers buyer preferences from the conversation context.
func (e *Engine) AnalyzePreferences(ctx context.Context, userContext map[string]any) Preferences {
	emotion := text(userContext[ContextEmotion])
	if emotion == "" {
		emotion = "neutral"
	}
	extracted, _ := json.Marshal(userContext[ContextExtractedInfo])

	prompt := fmt.Sprintf(`Analyze user preferences from this conversation:

Messages: %s
Current emotion: %s
Extracted requirements: %s

Determine the user's preferences and priorities:
{
    "price_sensitivity": "high|medium|low",
    "quality_priority": "high|medium|low",
    "brand_preference": "specific|flexible|no_preference",
    "urgency_level": "urgent|moderate|flexible",
    "feature_priorities": ["performance", "portability", "battery", "display"],
    "risk_tolerance": "conservative|moderate|adventurous",
    "value_seeking": "bargain_hunter|value_conscious|premium_seeker"
}

Return only JSON.`, recentMessages(userContext[ContextMessages], 10), emotion, extracted)

	out, err := e.llm.Complete(ctx, prompt, "")
	if err == nil {
		var p Preferences
		if err = llm.DecodeJSON(out, &p); err == nil {
			p.PriceSensitivity = strings.ToLower(strings.TrimSpace(p.PriceSensitivity))
			return p
		}
	}

	e.metrics.Fallback("preferences")
	e.logger.Warn("preference analysis failed, using defaults", "error", err)
	return DefaultPreferences()
}

func recentMessages(v any, n int) string {
	msgs, _ := v.([]string)
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out, _ := json.Marshal(msgs)
	return string(out)
}

type explainedItem struct {
	Name    string   `json:"name"`
	Price   *float64 `json:"price"`
	Reasons []string `json:"reasons"`
}

// Explain writes a narrative for the top items. It never affects ranking.
func (e *Engine) Explain(ctx context.Context, top []message.ScoredItem, p Preferences, userContext map[string]any) string {
	if len(top) > DisplayK {
		top = top[:DisplayK]
	}
	items := make([]explainedItem, len(top))
	for i, s := range top {
		items[i] = explainedItem{Name: s.Item.Name, Price: s.Item.Price, Reasons: s.Reasons}
	}
	itemsJSON, _ := json.Marshal(items)
	prefsJSON, _ := json.Marshal(p)

	emotion := text(userContext[ContextEmotion])
	if emotion == "" {
		emotion = "neutral"
	}

	prompt := fmt.Sprintf(`Generate a personalized explanation for these recommendations:

User emotion: %s
User urgency: %s
User preferences: %s

Top recommendations:
%s

Create a warm, helpful explanation that acknowledges their needs, explains why these
are good matches, and matches their urgency level. Keep it conversational.
Just return the explanation text.`, emotion, p.UrgencyLevel, prefsJSON, itemsJSON)

	out, err := e.llm.Complete(ctx, prompt, "")
	if err == nil {
		if s := strings.Trim(strings.TrimSpace(out), `"'`); s != "" {
			return s
		}
	}

	e.metrics.Fallback("explanation")
	e.logger.Warn("explanation generation failed, using fallback", "error", err)
	return FallbackExplanation
}

// Recommend answers one request.
func (e *Engine) Recommend(ctx context.Context, req message.RecommendationRequest) message.RecommendationResponse {
	resp := message.RecommendationResponse{
		UserID:          req.UserID,
		Recommendations: []message.ScoredItem{},
	}
	if len(req.SearchResults) == 0 {
		resp.Explanation = NoResultsExplanation
		return resp
	}

	prefs := e.AnalyzePreferences(ctx, req.UserContext)
	resp.Recommendations = Rank(req.SearchResults, CriteriaFrom(req.SearchCriteria), prefs, TopK)
	resp.Explanation = e.Explain(ctx, resp.Recommendations, prefs, req.UserContext)
	resp.ConfidenceScore = Confidence(len(resp.Recommendations))

	e.logger.Debug("recommendations ranked",
		"user_id", req.UserID,
		"candidates", len(req.SearchResults),
		"returned", len(resp.Recommendations),
		"price_sensitivity", prefs.PriceSensitivity,
	)
	return resp
}

// Register binds the recommendation agent to b.
func Register(b *bus.Bus, e *Engine) error {
	return b.Register(message.AgentRecommendation, b.Respond(func(ctx context.Context, env message.Envelope) (message.Payload, error) {
		req, ok := env.Payload.(message.RecommendationRequest)
		if !ok {
			return nil, fmt.Errorf("recommendation agent: unexpected payload %s", env.Payload.Kind())
		}
		return e.Recommend(ctx, req), nil
	}))
}
