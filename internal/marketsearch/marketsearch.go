// ABOUTME: Tavily-backed market search client that fails open to an empty result list.
// ABOUTME: Builds marketplace price queries and strips markup from returned snippets.

package marketsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/marksk1/chatmarket-mvp/internal/metrics"
)

const (
	DefaultEndpoint    = "https://api.tavily.com/search"
	DefaultMaxResults  = 10
	DefaultSearchDepth = "advanced"
	DefaultTimeout     = 10 * time.Second
)

// DefaultDomains restricts searches to second-hand and retail marketplaces.
var DefaultDomains = []string{"amazon.com", "ebay.com", "facebook.com", "craigslist.org", "mercari.com"}

// Result is one search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// Searcher is the market search contract.
type Searcher interface {
	// Search returns at most maxResults hits. It never fails; errors yield nil.
	Search(ctx context.Context, query string, maxResults int) []Result
}

// Disabled is a Searcher that never finds anything.
type Disabled struct{}

// Search implements Searcher.
func (Disabled) Search(context.Context, string, int) []Result { return nil }

// Config configures a TavilyClient.
type Config struct {
	Endpoint       string
	APIKey         string
	SearchDepth    string
	IncludeDomains []string
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// TavilyClient searches through the Tavily search API.
type TavilyClient struct {
	endpoint string
	apiKey   string
	depth    string
	domains  []string
	http     *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewTavilyClient creates a client, filling unset fields with defaults.
func NewTavilyClient(cfg Config) *TavilyClient {
	c := &TavilyClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		depth:    cfg.SearchDepth,
		domains:  cfg.IncludeDomains,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.depth == "" {
		c.depth = DefaultSearchDepth
	}
	if c.domains == nil {
		c.domains = DefaultDomains
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "marketsearch")
	return c
}

type searchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search implements Searcher.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	results, err := c.search(ctx, query, maxResults)
	if err != nil {
		c.metrics.Fallback("market_search")
		c.logger.Warn("market search failed, continuing without market data",
			"query", query,
			"error", err,
		)
		return nil
	}
	c.logger.Debug("market search complete", "query", query, "results", len(results))
	return results
}

func (c *TavilyClient) search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:         c.apiKey,
		Query:          query,
		SearchDepth:    c.depth,
		MaxResults:     maxResults,
		IncludeDomains: c.domains,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	out := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		r.Content = CleanSnippet(r.Content)
		if r.Content == "" {
			continue
		}
		out = append(out, r)
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

// Query builds the market price query for a product.
func Query(name, condition, brand string) string {
	q := strings.TrimSpace(name) + " price market value"
	if condition = strings.TrimSpace(condition); condition != "" {
		q += " " + condition + " condition"
	}
	if brand = strings.TrimSpace(brand); brand != "" {
		q += " " + brand
	}
	return q
}

// CleanSnippet reduces a snippet to its visible text with collapsed whitespace.
func CleanSnippet(s string) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style, noscript").Remove()
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}
