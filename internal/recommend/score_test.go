// ABOUTME: Tests for recommendation scoring and ranking
// ABOUTME: Pins each scoring term and its reason text

package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksk1/chatmarket-mvp/internal/message"
)

func ptr(f float64) *float64 { return &f }

func item(id, name, desc string, price *float64) message.Item {
	return message.Item{ID: id, Name: name, Description: desc, Price: price}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0.0},
		{1, 0.36},
		{2, 0.52},
		{3, 0.68},
		{5, 1.0},
		{9, 1.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Confidence(tt.n), "n=%d", tt.n)
	}
}

func TestPriceTerm(t *testing.T) {
	tests := []struct {
		name        string
		price       float64
		criteria    Criteria
		sensitivity string
		wantScore   float64
		wantReason  string
		wantOK      bool
	}{
		{"above max", 600, Criteria{BudgetMax: ptr(500)}, SensitivityMedium, 0, "", false},
		{"below min", 50, Criteria{BudgetMin: ptr(100), BudgetMax: ptr(500)}, SensitivityMedium, 0, "", false},
		{"high cheap", 200, Criteria{BudgetMax: ptr(500)}, SensitivityHigh, 18, "Great value at $200", true},
		{"high near max", 450, Criteria{BudgetMax: ptr(500)}, SensitivityHigh, 3, "Within your budget at $450", true},
		{"high at max", 500, Criteria{BudgetMax: ptr(500)}, SensitivityHigh, 0, "Within your budget at $500", true},
		{"high unbounded falls back to medium", 200, Criteria{}, SensitivityHigh, 20, "Well-priced at $200", true},
		{"low premium", 450, Criteria{BudgetMax: ptr(500)}, SensitivityLow, 25, "Premium option with higher quality", true},
		{"low cheap", 100, Criteria{BudgetMax: ptr(500)}, SensitivityLow, 25, "Within your budget at $100", true},
		{"medium well priced", 399.5, Criteria{BudgetMax: ptr(500)}, SensitivityMedium, 20, "Well-priced at $399.5", true},
		{"medium upper band", 450, Criteria{BudgetMax: ptr(500)}, SensitivityMedium, 20, "Within your budget at $450", true},
		{"unknown sensitivity is medium", 100, Criteria{BudgetMax: ptr(500)}, "", 20, "Well-priced at $100", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reason, ok := priceTerm(tt.price, tt.criteria, tt.sensitivity)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestScoreTermsAndReasonOrder(t *testing.T) {
	c := Criteria{
		ProductType: "Laptop",
		UseCase:     "gaming",
		Condition:   "excellent",
		BudgetMax:   ptr(500),
	}
	it := item("1", "Dell Laptop XPS", "Excellent condition, great for Gaming", ptr(300))

	got := Score(it, c, DefaultPreferences())

	assert.Equal(t, 20.0+25+15+10, got.Score)
	assert.Equal(t, []string{
		"Well-priced at $300",
		"Matches your laptop requirement",
		"Suitable for gaming",
		"Available in excellent condition",
	}, got.Reasons)
	assert.Equal(t, it, got.Item)
}

func TestScoreNoMatches(t *testing.T) {
	got := Score(item("1", "Chair", "wooden", nil), Criteria{ProductType: "laptop"}, DefaultPreferences())
	assert.Zero(t, got.Score)
	assert.NotNil(t, got.Reasons)
	assert.Empty(t, got.Reasons)
}

func TestRankStableOnTies(t *testing.T) {
	items := []message.Item{
		item("a", "desk lamp", "", ptr(10)),
		item("b", "laptop one", "", ptr(900)),
		item("c", "desk chair", "", ptr(20)),
		item("d", "laptop two", "", ptr(900)),
		item("e", "desk fan", "", ptr(30)),
	}
	c := Criteria{ProductType: "laptop", BudgetMax: ptr(100)}

	ranked := Rank(items, c, DefaultPreferences(), TopK)

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Item.ID
	}
	// b and d score 25 on name; a, c, e score 20 on price. Ties keep input order.
	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, ids)
}

func TestRankTruncates(t *testing.T) {
	var items []message.Item
	for i := 0; i < 8; i++ {
		items = append(items, item(string(rune('a'+i)), "x", "", nil))
	}
	ranked := Rank(items, Criteria{}, DefaultPreferences(), TopK)
	require.Len(t, ranked, TopK)
	assert.Equal(t, "a", ranked[0].Item.ID)
	assert.Equal(t, "e", ranked[4].Item.ID)
}

func TestCriteriaFrom(t *testing.T) {
	c := CriteriaFrom(map[string]any{
		"product_type": " laptop ",
		"budget_max":   500.0,
		"budget_min":   100,
		"use_case":     nil,
	})
	assert.Equal(t, "laptop", c.ProductType)
	require.NotNil(t, c.BudgetMax)
	assert.Equal(t, 500.0, *c.BudgetMax)
	require.NotNil(t, c.BudgetMin)
	assert.Equal(t, 100.0, *c.BudgetMin)
	assert.Empty(t, c.UseCase)
}
