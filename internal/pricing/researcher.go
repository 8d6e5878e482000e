// ABOUTME: Price research agent choosing between market-data analysis and catalog statistics.
// ABOUTME: Queries market search, asks the LLM for a structured estimate, and falls back deterministically.

package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/marksk1/chatmarket-mvp/internal/bus"
	"github.com/marksk1/chatmarket-mvp/internal/llm"
	"github.com/marksk1/chatmarket-mvp/internal/marketsearch"
	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/metrics"
	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// maxMarketData caps the snippet text handed to the language model.
const maxMarketData = 3000

// Catalog is the part of the catalog the researcher reads.
type Catalog interface {
	SearchListings(ctx context.Context, criteria store.SearchCriteria) ([]*store.Listing, error)
}

// Config configures a Researcher.
type Config struct {
	LLM        llm.Completer
	Search     marketsearch.Searcher
	Catalog    Catalog
	MaxResults int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Researcher answers price research requests.
type Researcher struct {
	llm        llm.Completer
	search     marketsearch.Searcher
	catalog    Catalog
	maxResults int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewResearcher creates a Researcher. A nil Search disables market data.
func NewResearcher(cfg Config) *Researcher {
	r := &Researcher{
		llm:        cfg.LLM,
		search:     cfg.Search,
		catalog:    cfg.Catalog,
		maxResults: cfg.MaxResults,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if r.search == nil {
		r.search = marketsearch.Disabled{}
	}
	if r.maxResults <= 0 {
		r.maxResults = marketsearch.DefaultMaxResults
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "pricing")
	return r
}

// Research produces an estimate for req.
func (r *Researcher) Research(ctx context.Context, req message.PriceResearchRequest) Estimate {
	condition, _ := req.ProductInfo["condition"].(string)
	brand, _ := req.ProductInfo["brand"].(string)

	query := marketsearch.Query(req.ProductName, condition, brand)
	results := r.search.Search(ctx, query, r.maxResults)
	if len(results) > 0 {
		r.logger.Debug("pricing from market data", "product", req.ProductName, "results", len(results))
		return r.FromMarket(ctx, results, req)
	}

	comparables := r.comparables(ctx, req.ProductName)
	r.logger.Debug("pricing from catalog", "product", req.ProductName, "comparables", len(comparables))
	return FromComparables(comparables, req.SuggestedPrice)
}

func (r *Researcher) comparables(ctx context.Context, name string) []message.Item {
	if r.catalog == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	listings, err := r.catalog.SearchListings(ctx, store.SearchCriteria{Query: name})
	if err != nil {
		r.metrics.Fallback("comparables")
		r.logger.Warn("comparable search failed", "product", name, "error", err)
		return nil
	}
	items := make([]message.Item, len(listings))
	for i, l := range listings {
		items[i] = l.Item()
	}
	return items
}

type marketAnswer struct {
	PriceRange struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"price_range"`
	SuggestedPrice float64 `json:"suggested_price"`
	Analysis       string  `json:"analysis"`
	Confidence     float64 `json:"confidence"`
	MarketPosition string  `json:"market_position"`
	QuickSellPrice float64 `json:"quick_sell_price"`
	MaxProfitPrice float64 `json:"max_profit_price"`
}

// FromMarket asks the language model to turn market snippets into an
// estimate. Unusable answers yield the suggested-price heuristic.
func (r *Researcher) FromMarket(ctx context.Context, results []marketsearch.Result, req message.PriceResearchRequest) Estimate {
	out, err := r.llm.Complete(ctx, marketPrompt(results, req), "")
	if err == nil {
		var a marketAnswer
		if err = llm.DecodeJSON(out, &a); err == nil {
			if est, ok := a.estimate(); ok {
				return est
			}
			err = fmt.Errorf("implausible estimate: %+v", a)
		}
	}

	r.metrics.Fallback("price_analysis")
	r.logger.Warn("market price analysis failed, using suggested price", "product", req.ProductName, "error", err)
	return Heuristic(req.SuggestedPrice, MarketUnavailableAnalysis, ConfidenceHeuristic)
}

func (a marketAnswer) estimate() (Estimate, bool) {
	lo, hi, point := a.PriceRange.Min, a.PriceRange.Max, a.SuggestedPrice
	if point <= 0 || lo < 0 || hi < lo {
		return Estimate{}, false
	}
	est := Estimate{
		Range:      message.PriceRange{Min: lo, Max: hi},
		Point:      point,
		Confidence: min(max(a.Confidence, 0), 1),
		Analysis:   strings.TrimSpace(a.Analysis),
		QuickSell:  a.QuickSellPrice,
		MaxProfit:  a.MaxProfitPrice,
	}
	if est.QuickSell <= 0 {
		est.QuickSell = point * 0.9
	}
	if est.MaxProfit <= 0 {
		est.MaxProfit = point * 1.1
	}
	return est, true
}

func marketPrompt(results []marketsearch.Result, req message.PriceResearchRequest) string {
	var data strings.Builder
	for _, res := range results {
		url := res.URL
		if url == "" {
			url = "Unknown"
		}
		fmt.Fprintf(&data, "Source: %s\nContent: %s\n\n", url, res.Content)
	}

	info := func(key string) string {
		if s, _ := req.ProductInfo[key].(string); s != "" {
			return s
		}
		return "Unknown"
	}
	name := req.ProductName
	if name == "" {
		name = "Unknown"
	}

	return fmt.Sprintf(`You are a market price analyst. Analyze this market data for pricing insights:

PRODUCT: %s
CONDITION: %s
BRAND: %s
SELLER'S SUGGESTED PRICE: $%s

MARKET DATA:
%s

Based on this market research, provide a realistic price range, the optimal selling price,
a price justification, and market positioning advice.

Return ONLY a JSON object:
{
    "price_range": {"min": number, "max": number},
    "suggested_price": number,
    "analysis": "detailed price analysis and advice",
    "confidence": 0.85,
    "market_position": "competitive|premium|budget",
    "quick_sell_price": number,
    "max_profit_price": number
}`, name, info("condition"), info("brand"),
		strconv.FormatFloat(req.SuggestedPrice, 'f', -1, 64),
		truncate(data.String(), maxMarketData))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Register binds the price research agent to b.
func Register(b *bus.Bus, r *Researcher) error {
	return b.Register(message.AgentPriceResearch, b.Respond(func(ctx context.Context, env message.Envelope) (message.Payload, error) {
		req, ok := env.Payload.(message.PriceResearchRequest)
		if !ok {
			return nil, fmt.Errorf("price research agent: unexpected payload %s", env.Payload.Kind())
		}
		return r.Research(ctx, req).Response(req.UserID), nil
	}))
}
