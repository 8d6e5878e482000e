// ABOUTME: Tests for the web market search client
// ABOUTME: Uses an httptest server in place of the search API

package marketsearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksk1/chatmarket-mvp/internal/metrics"
)

func TestQuery(t *testing.T) {
	tests := []struct {
		name, product, condition, brand string
		want                            string
	}{
		{"name only", "iPhone 12", "", "", "iPhone 12 price market value"},
		{"with condition", "iPhone 12", "good", "", "iPhone 12 price market value good condition"},
		{"with brand", "Road Bike", "fair", "Trek", "Road Bike price market value fair condition Trek"},
		{"trims", "  desk ", " ", " IKEA ", "desk price market value IKEA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Query(tt.product, tt.condition, tt.brand))
		})
	}
}

func TestCleanSnippet(t *testing.T) {
	assert.Equal(t, "Used iPhone 12 $350", CleanSnippet("Used   iPhone 12\n\t$350"))
	assert.Equal(t, "Used iPhone 12 $350 sold", CleanSnippet("<div><b>Used iPhone 12</b> $350<script>x()</script> sold</div>"))
	assert.Equal(t, "", CleanSnippet("   "))
}

func TestTavilySearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://ebay.com/a","title":"A","content":"<p>iPhone 12 sold for $320</p>"},
			{"url":"https://ebay.com/empty","content":"  "},
			{"url":"https://mercari.com/b","content":"iPhone 12 $340"},
			{"url":"https://amazon.com/c","content":"iPhone 12 renewed $399"}
		]}`))
	}))
	defer srv.Close()

	c := NewTavilyClient(Config{Endpoint: srv.URL, APIKey: "k"})
	results := c.Search(context.Background(), "iPhone 12 price market value", 2)

	require.Len(t, results, 2)
	assert.Equal(t, "iPhone 12 sold for $320", results[0].Content)
	assert.Equal(t, "https://mercari.com/b", results[1].URL)

	assert.Equal(t, "k", got.APIKey)
	assert.Equal(t, "advanced", got.SearchDepth)
	assert.Equal(t, 2, got.MaxResults)
	assert.Equal(t, DefaultDomains, got.IncludeDomains)
}

func TestTavilySearchFailsOpen(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			m := metrics.New(prometheus.NewRegistry())
			c := NewTavilyClient(Config{Endpoint: srv.URL, Metrics: m})

			assert.Nil(t, c.Search(context.Background(), "q", 0))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("market_search")))
		})
	}
}

func TestTavilySearchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"url":"u","content":"c"}]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, NewTavilyClient(Config{Endpoint: srv.URL}).Search(ctx, "q", 5))
}

func TestDisabled(t *testing.T) {
	assert.Nil(t, Disabled{}.Search(context.Background(), "q", 5))
}
