// ABOUTME: Tests for slot schemas, the required-field table, coercion, and merging.
// ABOUTME: Covers the completeness property across every intent of both roles.

package slots

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredFieldSet(t *testing.T) {
	tests := []struct {
		role   Role
		intent string
		want   []string
	}{
		{Buyer, IntentBrowsing, []string{"product_type", "budget_max"}},
		{Buyer, IntentUrgentPurchase, []string{"product_type", "budget_max"}},
		{Buyer, IntentSpecificNeed, []string{"product_type", "budget_min", "budget_max"}},
		{Buyer, IntentPriceShopping, []string{"product_type", "budget_max"}},
		{Buyer, "not-an-intent", []string{"product_type", "budget_max"}},
		{Seller, IntentCasualSelling, []string{"product_name", "condition", "suggested_price"}},
		{Seller, IntentQuickSell, []string{"product_name", "condition"}},
		{Seller, IntentMaximizeProfit, []string{"product_name", "condition", "suggested_price", "description", "brand"}},
		{Seller, IntentEmergencyCash, []string{"product_name", "condition", "suggested_price"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+tt.intent, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiredFieldSet(tt.role, tt.intent))
		})
	}
}

func TestRequiredFieldSet_ReturnsCopy(t *testing.T) {
	got := RequiredFieldSet(Buyer, IntentBrowsing)
	got[0] = "mutated"
	assert.Equal(t, "product_type", RequiredFieldSet(Buyer, IntentBrowsing)[0])
}

func TestMissing_EmptyIffAllRequiredKnown(t *testing.T) {
	sample := map[string]any{
		"product_type": "laptop", "budget_min": 100.0, "budget_max": 500.0,
		"product_name": "iPhone 12", "condition": "good", "suggested_price": 400.0,
		"description": "barely used", "brand": "Apple",
	}

	for _, role := range []Role{Buyer, Seller} {
		for _, intent := range Intents(role) {
			required := RequiredFieldSet(role, intent)

			full := Values{}
			for _, name := range required {
				full[name] = sample[name]
			}
			assert.Empty(t, Missing(role, intent, full), "%s/%s with all required", role, intent)

			for _, drop := range required {
				partial := full.Clone()
				delete(partial, drop)
				assert.Equal(t, []string{drop}, Missing(role, intent, partial), "%s/%s without %s", role, intent, drop)
			}
		}
	}
}

func TestMerge(t *testing.T) {
	t.Run("last non-null wins", func(t *testing.T) {
		dst := Values{"product_type": "laptop", "budget_max": 500.0}
		Merge(dst, Values{"budget_max": 450.0, "use_case": "gaming"})

		assert.Equal(t, Values{"product_type": "laptop", "budget_max": 450.0, "use_case": "gaming"}, dst)
	})

	t.Run("null never erases", func(t *testing.T) {
		dst := Values{"product_type": "laptop"}
		Merge(dst, Values{"product_type": nil})
		assert.Equal(t, "laptop", dst.Text("product_type"))
	})

	t.Run("idempotent under replay", func(t *testing.T) {
		delta := Values{"product_type": "phone", "budget_max": 300.0}
		once := Merge(Values{"location": "Austin"}, delta)
		twice := Merge(Merge(Values{"location": "Austin"}, delta), delta)
		assert.Equal(t, once, twice)
	})

	t.Run("nil destination", func(t *testing.T) {
		out := Merge(nil, Values{"brand": "Apple"})
		assert.Equal(t, "Apple", out.Text("brand"))
	})
}

func TestCoerce(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"product_type": " laptop ",
		"budget_min": null,
		"budget_max": "$1,200",
		"location": "null",
		"timeline": "",
		"condition": "any",
		"specifications": {},
		"use_case": "gaming",
		"unknown_field": "dropped"
	}`), &raw))

	got := Coerce(Buyer, raw)

	assert.Equal(t, Values{
		"product_type": "laptop",
		"budget_max":   1200.0,
		"condition":    "any",
		"use_case":     "gaming",
	}, got)
}

func TestCoerce_Numbers(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{500.0, 500.0},
		{"500", 500.0},
		{"cheap", nil},
		{true, nil},
		{json.Number("42.5"), 42.5},
		{"", nil},
	}
	for _, tt := range tests {
		got := Coerce(Seller, map[string]any{"suggested_price": tt.in})
		if tt.want == nil {
			assert.False(t, got.Has("suggested_price"), "input %v", tt.in)
			continue
		}
		v, ok := got.Number("suggested_price")
		assert.True(t, ok, "input %v", tt.in)
		assert.InDelta(t, tt.want, v, 0.0001)
	}
}

func TestCoerce_Bool(t *testing.T) {
	assert.Equal(t, true, Coerce(Seller, map[string]any{"negotiable": "yes"})["negotiable"])
	assert.Equal(t, false, Coerce(Seller, map[string]any{"negotiable": false})["negotiable"])
	assert.False(t, Coerce(Seller, map[string]any{"negotiable": "maybe"}).Has("negotiable"))
}

func TestValidIntent(t *testing.T) {
	assert.True(t, ValidIntent(Buyer, IntentJustLooking))
	assert.False(t, ValidIntent(Buyer, IntentQuickSell))
	assert.True(t, ValidIntent(Seller, IntentDeclutter))
	assert.Equal(t, IntentBrowsing, DefaultIntent(Buyer))
	assert.Equal(t, IntentCasualSelling, DefaultIntent(Seller))
}

func TestStageFor(t *testing.T) {
	assert.Equal(t, StageGreeting, StageFor(Buyer, Values{}, []string{"product_type", "budget_max"}))
	assert.Equal(t, StageExploring, StageFor(Buyer, Values{"budget_max": 500.0}, []string{"product_type"}))
	assert.Equal(t, StageNarrowing, StageFor(Buyer, Values{"product_type": "laptop"}, []string{"budget_max"}))
	assert.Equal(t, StageSearching, StageFor(Buyer, Values{"product_type": "laptop", "budget_max": 500.0}, nil))

	assert.Equal(t, StageGreeting, StageFor(Seller, nil, nil))
	assert.Equal(t, StageDescribing, StageFor(Seller, Values{"condition": "good"}, []string{"product_name"}))
	assert.Equal(t, StageDetailing, StageFor(Seller, Values{"product_name": "bike"}, []string{"condition"}))
	assert.Equal(t, StagePricing, StageFor(Seller, Values{"product_name": "bike", "condition": "good", "suggested_price": 80.0}, nil))
}
