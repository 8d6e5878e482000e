// ABOUTME: Concurrent emotion/intent classification and slot extraction for one turn.
// ABOUTME: Applies closed vocabularies, deterministic defaults, and slot type coercion.

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/marksk1/chatmarket-mvp/internal/llm"
	"github.com/marksk1/chatmarket-mvp/internal/metrics"
	"github.com/marksk1/chatmarket-mvp/internal/slots"
	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// DefaultHistoryWindow is the number of prior turns shown to the classifier.
const DefaultHistoryWindow = 5

// Emotion, confidence, and tone vocabularies.
var (
	Emotions    = []string{"excited", "frustrated", "casual", "urgent", "confused", "happy", "disappointed", "neutral"}
	Confidences = []string{"high", "medium", "low"}
	Tones       = []string{"formal", "casual", "friendly", "business"}
)

// DefaultClassification is used whenever classification is unavailable.
func DefaultClassification(role slots.Role) store.Classification {
	return store.Classification{
		Emotion:         "neutral",
		Intent:          slots.DefaultIntent(role),
		ConfidenceLevel: "medium",
		Tone:            "friendly",
	}
}

// Result is the outcome of one extraction round.
type Result struct {
	Classification store.Classification
	Delta          slots.Values
	// ClassifyErr and ExtractErr record failures that were replaced by defaults.
	ClassifyErr error
	ExtractErr  error
}

// Pipeline runs classification and extraction against a Completer.
type Pipeline struct {
	llm     llm.Completer
	logger  *slog.Logger
	metrics *metrics.Metrics
	window  int
}

// Config configures a Pipeline.
type Config struct {
	LLM           llm.Completer
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	HistoryWindow int
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.HistoryWindow
	if window <= 0 || window > DefaultHistoryWindow {
		window = DefaultHistoryWindow
	}
	return &Pipeline{
		llm:     cfg.LLM,
		logger:  logger.With("component", "extraction"),
		metrics: cfg.Metrics,
		window:  window,
	}
}

// Run classifies and extracts utterance for sess. sess must already contain
// the utterance as its latest turn. Run never fails; see Result for the
// errors that were absorbed.
func (p *Pipeline) Run(ctx context.Context, sess *store.Session, utterance string) Result {
	role := sess.Key.Role
	prior := sess.Classification
	if prior.Intent == "" {
		prior = DefaultClassification(role)
	}

	var res Result
	var g errgroup.Group

	g.Go(func() error {
		res.Classification, res.ClassifyErr = p.classify(ctx, role, sess.Recent(p.window), utterance)
		return nil
	})
	g.Go(func() error {
		res.Delta, res.ExtractErr = p.extract(ctx, role, sess.Slots, prior, utterance)
		return nil
	})
	_ = g.Wait()

	if res.ClassifyErr != nil {
		p.metrics.Fallback("classification")
		p.logger.Warn("classification failed, using default",
			"session", sess.Key.String(),
			"error", res.ClassifyErr,
		)
		res.Classification = DefaultClassification(role)
	}
	if res.ExtractErr != nil {
		p.metrics.Fallback("extraction")
		p.logger.Warn("slot extraction failed, treating as empty delta",
			"session", sess.Key.String(),
			"error", res.ExtractErr,
		)
		res.Delta = slots.Values{}
	}

	p.logger.Debug("extraction complete",
		"session", sess.Key.String(),
		"emotion", res.Classification.Emotion,
		"intent", res.Classification.Intent,
		"delta_fields", len(res.Delta),
	)
	return res
}

func (p *Pipeline) classify(ctx context.Context, role slots.Role, history []store.Turn, utterance string) (store.Classification, error) {
	system := classifyPrompt(role, history, utterance)
	out, err := p.llm.Complete(ctx, utterance, system)
	if err != nil {
		return store.Classification{}, err
	}

	var c store.Classification
	if err := llm.DecodeJSON(out, &c); err != nil {
		return store.Classification{}, err
	}
	return normalize(role, c), nil
}

// normalize replaces each out-of-vocabulary label with its default.
func normalize(role slots.Role, c store.Classification) store.Classification {
	def := DefaultClassification(role)
	c.Emotion = pick(c.Emotion, Emotions, def.Emotion)
	c.ConfidenceLevel = pick(c.ConfidenceLevel, Confidences, def.ConfidenceLevel)
	c.Tone = pick(c.Tone, Tones, def.Tone)

	intent := strings.ToLower(strings.TrimSpace(c.Intent))
	if !slots.ValidIntent(role, intent) {
		intent = def.Intent
	}
	c.Intent = intent
	return c
}

func pick(v string, vocab []string, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, allowed := range vocab {
		if v == allowed {
			return v
		}
	}
	return def
}

func (p *Pipeline) extract(ctx context.Context, role slots.Role, known slots.Values, prior store.Classification, utterance string) (slots.Values, error) {
	system, err := extractPrompt(role, known, prior, utterance)
	if err != nil {
		return nil, err
	}
	out, err := p.llm.Complete(ctx, utterance, system)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := llm.DecodeJSON(out, &raw); err != nil {
		return nil, err
	}
	return slots.Coerce(role, raw), nil
}

// FormatHistory renders turns one per line as "speaker: text".
func FormatHistory(turns []store.Turn) string {
	if len(turns) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func classifyPrompt(role slots.Role, history []store.Turn, utterance string) string {
	subject := "shopping"
	if role == slots.Seller {
		subject = "seller"
	}
	return fmt.Sprintf(`Analyze this %s conversation for emotional state and intent.

Recent messages:
%s

Current message: %q

Return ONLY a JSON object:
{
    "emotion": "%s",
    "intent": "%s",
    "confidence_level": "%s",
    "conversation_tone": "%s"
}`,
		subject,
		FormatHistory(history),
		utterance,
		strings.Join(Emotions[:len(Emotions)-1], "|"),
		strings.Join(slots.Intents(role), "|"),
		strings.Join(Confidences, "|"),
		strings.Join(Tones, "|"),
	)
}

var buyerExtractHints = `Infer loosely stated values:
- "laptop" means product_type "laptop"
- "cheap" can mean budget_max 500
- "good quality" can mean condition "new" or "excellent"
- "need it soon" means timeline "urgent"`

var buyerExtractShape = `{
    "product_type": "specific product name or category",
    "budget_min": number_or_null,
    "budget_max": number_or_null,
    "location": "city/area or null",
    "timeline": "urgent|soon|flexible|null",
    "condition": "new|used|excellent|any|null",
    "specifications": {},
    "use_case": "what they need it for"
}`

var sellerExtractHints = `Infer loosely stated values:
- "iPhone 12 in good condition" means product_name "iPhone 12", condition "good"
- "laptop for $500" means product_name "laptop", suggested_price 500
- "barely used" means condition "excellent"
- "need to sell quickly" means reason_for_selling "urgent"`

var sellerExtractShape = `{
    "product_name": "specific product name",
    "description": "detailed description",
    "condition": "new|excellent|good|fair|poor",
    "suggested_price": number_or_null,
    "category": "electronics|furniture|clothing|etc",
    "brand": "brand name or null",
    "age": "how old the item is",
    "location": "city/area",
    "reason_for_selling": "why they're selling",
    "negotiable": true_or_false_or_null
}`

func extractPrompt(role slots.Role, known slots.Values, prior store.Classification, utterance string) (string, error) {
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return "", fmt.Errorf("encoding known slots: %w", err)
	}

	intro, hints, shape := "You are a helpful shopping assistant. Extract information from the buyer's message.", buyerExtractHints, buyerExtractShape
	if role == slots.Seller {
		intro, hints, shape = "You are helping a seller list their product. Extract product details from the message.", sellerExtractHints, sellerExtractShape
	}

	return fmt.Sprintf(`%s

Message: %q
Already known: %s
User seems %s and their intent is %s.

%s

Use null for anything not mentioned. Return ONLY a JSON object:
%s`,
		intro, utterance, knownJSON, prior.Emotion, prior.Intent, hints, shape,
	), nil
}
