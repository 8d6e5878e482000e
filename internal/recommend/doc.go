// Package recommend scores and ranks catalog items for a buyer.
//
// Scoring is deterministic. Each item earns additive terms for price fit,
// product-type match, use-case match, and condition match, and each satisfied
// term appends one reason in that fixed order. Ranking is a stable sort by
// descending score, so tied items keep their catalog order.
//
// The language model is used only for preference analysis, which selects the
// price-sensitivity variant of the price term, and for the narrative
// explanation. Both have fixed fallbacks.
//
// The recommendation agent answers RecommendationRequest messages on the bus
// with a RecommendationResponse holding the top five items.
package recommend
