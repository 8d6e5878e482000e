// Package marketsearch queries a web search provider for marketplace price
// snippets.
//
// Searches fail open: any transport, status, or decoding problem is logged
// and reported as an empty result list, so callers fall back to internal
// catalog statistics instead of failing the request.
package marketsearch
