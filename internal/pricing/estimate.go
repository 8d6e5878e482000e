// ABOUTME: Price estimates from catalog comparables or from a suggested-price heuristic.
// ABOUTME: Pure functions; confidence and analysis texts are fixed for each outcome.

package pricing

import (
	"fmt"
	"strings"

	"github.com/marksk1/chatmarket-mvp/internal/message"
)

// Analysis texts for the low-confidence outcomes.
const (
	MarketUnavailableAnalysis = "Market data analysis temporarily unavailable. Using your suggested price as baseline."
	NoComparablesAnalysis     = "No similar items found in our database. Using your suggested price."
	NoPriceDataAnalysis       = "Similar items found but no price data available."
)

// Confidence levels.
const (
	ConfidenceComparables = 0.8
	ConfidenceHeuristic   = 0.5
	ConfidenceLow         = 0.3
)

// Estimate is a price estimate for one item.
type Estimate struct {
	Range      message.PriceRange
	Point      float64
	Confidence float64
	Analysis   string
	QuickSell  float64
	MaxProfit  float64
}

// Response converts e into the reply sent to the seller conversation.
func (e Estimate) Response(userID string) message.PriceResearchResponse {
	return message.PriceResearchResponse{
		UserID:           userID,
		MarketPriceRange: e.Range,
		SuggestedPrice:   e.Point,
		PriceAnalysis:    e.Analysis,
		ConfidenceScore:  e.Confidence,
		QuickSellPrice:   e.QuickSell,
		MaxProfitPrice:   e.MaxProfit,
	}
}

// Heuristic echoes the suggested price inside a ±20% range.
func Heuristic(suggested float64, analysis string, confidence float64) Estimate {
	return Estimate{
		Range:      message.PriceRange{Min: suggested * 0.8, Max: suggested * 1.2},
		Point:      suggested,
		Confidence: confidence,
		Analysis:   analysis,
		QuickSell:  suggested * 0.9,
		MaxProfit:  suggested * 1.1,
	}
}

// FromComparables derives an estimate from similar catalog items. Items
// without a positive price carry no price data.
func FromComparables(items []message.Item, suggested float64) Estimate {
	if len(items) == 0 {
		return Heuristic(suggested, NoComparablesAnalysis, ConfidenceLow)
	}

	var prices []float64
	for _, it := range items {
		if it.Price != nil && *it.Price > 0 {
			prices = append(prices, *it.Price)
		}
	}
	if len(prices) == 0 {
		return Heuristic(suggested, NoPriceDataAnalysis, ConfidenceLow)
	}

	lo, hi, sum := prices[0], prices[0], 0.0
	for _, p := range prices {
		lo = min(lo, p)
		hi = max(hi, p)
		sum += p
	}
	mean := sum / float64(len(prices))

	var b strings.Builder
	fmt.Fprintf(&b, "Based on %d similar items in our marketplace:\n\n", len(items))
	fmt.Fprintf(&b, "💰 **Price Range:** $%.2f - $%.2f\n", lo, hi)
	fmt.Fprintf(&b, "📊 **Average Price:** $%.2f\n", mean)
	fmt.Fprintf(&b, "🎯 **Your Price:** $%.2f\n\n", suggested)

	point := suggested
	switch {
	case suggested > mean*1.2:
		b.WriteString("⚠️ Your price is above market average - consider lowering for quicker sale.")
		point = mean * 1.1
	case suggested < mean*0.8:
		b.WriteString("💡 Your price is below market average - you could potentially ask for more.")
		point = mean * 0.9
	default:
		b.WriteString("✅ Your price is competitive with similar items.")
	}

	return Estimate{
		Range:      message.PriceRange{Min: lo, Max: hi},
		Point:      point,
		Confidence: ConfidenceComparables,
		Analysis:   b.String(),
		QuickSell:  point * 0.9,
		MaxProfit:  point * 1.1,
	}
}
