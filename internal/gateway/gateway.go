// ABOUTME: Gateway orchestrator that wires the store, bus, agents, and HTTP server
// ABOUTME: Manages component lifecycle, health, and metrics endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marksk1/chatmarket-mvp/internal/bus"
	"github.com/marksk1/chatmarket-mvp/internal/config"
	"github.com/marksk1/chatmarket-mvp/internal/conversation"
	"github.com/marksk1/chatmarket-mvp/internal/listing"
	"github.com/marksk1/chatmarket-mvp/internal/llm"
	"github.com/marksk1/chatmarket-mvp/internal/marketsearch"
	"github.com/marksk1/chatmarket-mvp/internal/metrics"
	"github.com/marksk1/chatmarket-mvp/internal/pricing"
	"github.com/marksk1/chatmarket-mvp/internal/recommend"
	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// Gateway owns every chatmarket component and serves the HTTP API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	bus          *bus.Bus
	conversation *conversation.Service
	registry     *prometheus.Registry
	httpServer   *http.Server
	logger       *slog.Logger
}

// Option overrides a collaborator that New would otherwise build from config.
type Option func(*options)

type options struct {
	llm      llm.Completer
	searcher marketsearch.Searcher
	store    store.Store
}

// WithLLM replaces the configured language service.
func WithLLM(c llm.Completer) Option {
	return func(o *options) { o.llm = c }
}

// WithSearcher replaces the configured market search.
func WithSearcher(s marketsearch.Searcher) Option {
	return func(o *options) { o.searcher = s }
}

// WithStore replaces the configured store. The gateway closes it on shutdown.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// initStore creates and returns a store based on config.
func initStore(cfg *config.Config) (store.Store, error) {
	path := cfg.Database.Path
	if cfg.Database.Driver == "memory" {
		path = ":memory:"
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initLLM builds the configured language service, paced and bounded.
func initLLM(ctx context.Context, cfg config.LLMConfig) (llm.Completer, error) {
	var next llm.Completer
	switch cfg.Provider {
	case "openai":
		next = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	case "gemini":
		c, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.APIKey,
			Project:     cfg.Project,
			Location:    cfg.Location,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   int32(cfg.MaxTokens),
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		next = c
	case "mock":
		// Unscripted: every call fails and each component takes its fallback.
		next = llm.NewMock()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return llm.NewLimited(cfg.Provider, next, cfg.RequestsPerSecond, cfg.Timeout), nil
}

func initSearcher(cfg config.MarketSearchConfig, logger *slog.Logger, m *metrics.Metrics) marketsearch.Searcher {
	if !cfg.Enabled {
		return marketsearch.Disabled{}
	}
	return marketsearch.NewTavilyClient(marketsearch.Config{
		Endpoint:       cfg.Endpoint,
		APIKey:         cfg.APIKey,
		SearchDepth:    cfg.SearchDepth,
		IncludeDomains: cfg.IncludeDomains,
		Timeout:        cfg.Timeout,
		Logger:         logger,
		Metrics:        m,
	})
}

// New creates a Gateway from cfg, registering every agent on a fresh bus.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	s := o.store
	if s == nil {
		var err error
		if s, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	completer := o.llm
	if completer == nil {
		var err error
		if completer, err = initLLM(ctx, cfg.LLM); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	searcher := o.searcher
	if searcher == nil {
		searcher = initSearcher(cfg.MarketSearch, logger, m)
	}

	b := bus.New(bus.Config{
		Logger:         logger,
		Metrics:        m,
		RequestTimeout: cfg.Bus.RequestTimeout,
		SettledTTL:     cfg.Bus.ReplyTTL,
		SettledMaxSize: cfg.Bus.ReplyCacheSize,
	})

	conv := conversation.New(conversation.Config{
		Store:           s,
		Bus:             b,
		LLM:             completer,
		Logger:          logger,
		Metrics:         m,
		DispatchTimeout: cfg.Conversation.DispatchTimeout,
		HistoryWindow:   cfg.Conversation.HistoryWindow,
	})

	gw := &Gateway{
		config:       cfg,
		store:        s,
		bus:          b,
		conversation: conv,
		registry:     registry,
		logger:       logger.With("component", "gateway"),
	}

	register := []struct {
		name string
		fn   func() error
	}{
		{"recommendation", func() error {
			return recommend.Register(b, recommend.NewEngine(completer, logger, m))
		}},
		{"price research", func() error {
			return pricing.Register(b, pricing.NewResearcher(pricing.Config{
				LLM:        completer,
				Search:     searcher,
				Catalog:    s,
				MaxResults: cfg.MarketSearch.MaxResults,
				Logger:     logger,
				Metrics:    m,
			}))
		}},
		{"listing", func() error {
			return listing.Register(b, listing.NewAgent(s, logger))
		}},
		{"conversation", conv.Register},
	}
	for _, r := range register {
		if err := r.fn(); err != nil {
			b.Close()
			_ = s.Close()
			return nil, fmt.Errorf("registering %s agent: %w", r.name, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway initialized",
		"agents", b.Addresses(),
		"llm_provider", cfg.LLM.Provider,
		"market_search", cfg.MarketSearch.Enabled,
		"database", cfg.Database.Driver,
	)
	return gw, nil
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The caller's context is already done; shutdown gets its own budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server, drains the bus, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	g.conversation.Broadcaster().Close()
	g.bus.Close()
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
