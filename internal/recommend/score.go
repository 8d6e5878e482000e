// ABOUTME: Deterministic multi-factor item scoring, stable ranking, and confidence.
// ABOUTME: Pure functions over catalog items, buyer criteria, and inferred preferences.

package recommend

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/marksk1/chatmarket-mvp/internal/message"
)

// TopK items are kept per response; DisplayK are shown to the user.
const (
	TopK     = 5
	DisplayK = 3
)

// Term weights.
const (
	maxPriceScore    = 30.0
	lowPriceScore    = 25.0
	mediumPriceScore = 20.0
	nameMatchScore   = 25.0
	useCaseScore     = 15.0
	conditionScore   = 10.0
)

// Criteria is what the buyer asked for.
type Criteria struct {
	ProductType string
	UseCase     string
	Condition   string
	BudgetMin   *float64
	BudgetMax   *float64
}

// CriteriaFrom reads criteria from a slot-style map.
func CriteriaFrom(m map[string]any) Criteria {
	return Criteria{
		ProductType: text(m["product_type"]),
		UseCase:     text(m["use_case"]),
		Condition:   text(m["condition"]),
		BudgetMin:   number(m["budget_min"]),
		BudgetMax:   number(m["budget_max"]),
	}
}

func text(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func number(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	}
	return nil
}

// Score computes the score and reasons for one item.
func Score(item message.Item, c Criteria, p Preferences) message.ScoredItem {
	scored := message.ScoredItem{Item: item, Reasons: []string{}}

	if item.Price != nil {
		if pts, reason, ok := priceTerm(*item.Price, c, p.PriceSensitivity); ok {
			scored.Score += pts
			scored.Reasons = append(scored.Reasons, reason)
		}
	}

	name := strings.ToLower(item.Name)
	desc := strings.ToLower(item.Description)

	if pt := strings.ToLower(c.ProductType); pt != "" && strings.Contains(name, pt) {
		scored.Score += nameMatchScore
		scored.Reasons = append(scored.Reasons, "Matches your "+pt+" requirement")
	}
	if uc := strings.ToLower(c.UseCase); uc != "" && strings.Contains(desc, uc) {
		scored.Score += useCaseScore
		scored.Reasons = append(scored.Reasons, "Suitable for "+uc)
	}
	if cond := strings.ToLower(c.Condition); cond != "" && strings.Contains(desc, cond) {
		scored.Score += conditionScore
		scored.Reasons = append(scored.Reasons, "Available in "+cond+" condition")
	}
	return scored
}

// priceTerm returns the price contribution, or ok=false when the price is
// outside the budget. A missing bound is open.
func priceTerm(price float64, c Criteria, sensitivity string) (float64, string, bool) {
	lo, hi := 0.0, math.Inf(1)
	if c.BudgetMin != nil {
		lo = *c.BudgetMin
	}
	if c.BudgetMax != nil {
		hi = *c.BudgetMax
	}
	if price < lo || price > hi {
		return 0, "", false
	}

	base := "Within your budget at " + dollars(price)
	bounded := c.BudgetMax != nil && hi > 0

	switch {
	case sensitivity == SensitivityHigh && bounded:
		pts := math.Max(0, (hi-price)/hi*maxPriceScore)
		if price < hi*0.7 {
			return pts, "Great value at " + dollars(price), true
		}
		return pts, base, true
	case sensitivity == SensitivityLow:
		if bounded && price > hi*0.8 {
			return lowPriceScore, "Premium option with higher quality", true
		}
		return lowPriceScore, base, true
	default:
		if !bounded || price <= hi*0.8 {
			return mediumPriceScore, "Well-priced at " + dollars(price), true
		}
		return mediumPriceScore, base, true
	}
}

func dollars(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', -1, 64)
}

// Rank scores items and returns the best k in descending score order. Ties
// keep their input order.
func Rank(items []message.Item, c Criteria, p Preferences, k int) []message.ScoredItem {
	scored := make([]message.ScoredItem, len(items))
	for i, item := range items {
		scored[i] = Score(item, c, p)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Confidence grows linearly with the number of recommendations, from 0.36
// for one item to 1.0 at TopK. No recommendations means no confidence.
func Confidence(n int) float64 {
	if n <= 0 {
		return 0
	}
	if n >= TopK {
		return 1
	}
	// (n/5)*0.8 + 0.2 over a common denominator.
	return float64(4*n+5) / 25
}
