// Package pricing estimates a market price for a seller's item.
//
// Two sources are used, never blended. When market search returns snippets
// the language model turns them into a structured estimate, with a fixed
// heuristic around the seller's price if its answer cannot be parsed. When
// market search finds nothing, similar active catalog listings supply
// min, max, and mean prices instead.
package pricing
